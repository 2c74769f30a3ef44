package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/modhub-go/pkg/client"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

var errServerRejected = errors.New("server rejected the request")

// openSocket connects and identifies, consuming the initial snapshot
func openSocket(ctx context.Context) (*client.Socket, protocol.FullState, error) {
	socket, err := hubClient.Dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	state, err := awaitState(ctx, socket)
	if err != nil {
		socket.Close()
		return nil, nil, err
	}
	return socket, state, nil
}

// syncState asks for a snapshot and waits for it. The server handles a
// connection's frames in order, so a clientError for an earlier request
// arrives first.
func syncState(ctx context.Context, socket *client.Socket) (protocol.FullState, error) {
	if err := socket.GetFullState(); err != nil {
		return nil, err
	}
	return awaitState(ctx, socket)
}

func awaitState(ctx context.Context, socket *client.Socket) (protocol.FullState, error) {
	for {
		select {
		case frame, ok := <-socket.Events():
			if !ok {
				return nil, fmt.Errorf("connection closed: %v", socket.Err())
			}
			switch frame.Event {
			case protocol.EventState:
				var state protocol.FullState
				if err := frame.Decode(&state); err != nil {
					return nil, fmt.Errorf("bad state snapshot: %w", err)
				}
				return state, nil
			case protocol.EventClientError:
				var ce protocol.ClientError
				_ = frame.Decode(&ce)
				return nil, fmt.Errorf("%w: %s", errServerRejected, ce.Message)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func newStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state [MODULE]",
		Short: "Print the state of every module, or of one module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			socket, state, err := openSocket(ctx)
			if err != nil {
				return err
			}
			defer socket.Close()

			if len(args) == 0 {
				return printJSON(cmd, state)
			}
			moduleState, ok := state[args[0]]
			if !ok {
				return fmt.Errorf("module %q not found", args[0])
			}
			return printJSON(cmd, moduleState)
		},
	}
}

func newPushCommand() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "push MODULE EVENT",
		Short: "Send a management event to a module",
		Long: `Send a pushupEvent to a module. The module only acts on events that match
its management whitelist; other events are dropped by the server.`,
		Example: `  modhub-cli push scoreboard goal --data '{"team":"home"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseJSON(data)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			socket, _, err := openSocket(ctx)
			if err != nil {
				return err
			}
			defer socket.Close()

			if err := socket.Pushup(args[0], args[1], payload); err != nil {
				return err
			}
			if _, err := syncState(ctx, socket); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Sent %s to %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "Event payload as JSON")
	return cmd
}

func newSetCommand() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:     "set MODULE",
		Short:   "Merge a state delta into a module's state",
		Example: `  modhub-cli set scoreboard --data '{"home":{"name":"Lions"}}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseJSON(data)
			if err != nil {
				return err
			}
			delta, ok := parsed.(map[string]any)
			if !ok {
				return fmt.Errorf("--data must be a JSON object")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			socket, _, err := openSocket(ctx)
			if err != nil {
				return err
			}
			defer socket.Close()

			if err := socket.SendStateDelta(args[0], delta); err != nil {
				return err
			}
			state, err := syncState(ctx, socket)
			if err != nil {
				return err
			}
			return printJSON(cmd, state[args[0]])
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "State delta as a JSON object (required)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}
