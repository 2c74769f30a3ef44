package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

func newListenCommand() *cobra.Command {
	var (
		filter string
		pretty bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print events broadcast by the server",
		Long: `Connect to the real-time socket and print every event the server sends,
starting with the state snapshot. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var re *regexp.Regexp
			if filter != "" {
				var err error
				if re, err = regexp.Compile(filter); err != nil {
					return fmt.Errorf("invalid --filter: %w", err)
				}
			}
			return runListen(cmd, re, pretty)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only print events whose name matches this regular expression")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty print JSON payloads")
	return cmd
}

func runListen(cmd *cobra.Command, filter *regexp.Regexp, pretty bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	socket, err := hubClient.Dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer socket.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🌊 Listening on %s. Press Ctrl+C to stop.\n", serverURL)

	count := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n✅ Stopped. Received %d events.\n", count)
			return nil
		case frame, ok := <-socket.Events():
			if !ok {
				fmt.Fprintf(out, "\n🔌 Connection closed. Received %d events.\n", count)
				return socket.Err()
			}
			if filter != nil && !filter.MatchString(frame.Event) {
				continue
			}
			count++
			printFrame(cmd, frame, pretty)
		}
	}
}

func printFrame(cmd *cobra.Command, frame protocol.Frame, pretty bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📨 %s %s\n", time.Now().Format("15:04:05.000"), frame.Event)

	if len(frame.Data) == 0 {
		return
	}
	if !pretty {
		fmt.Fprintf(out, "   %s\n", frame.Data)
		return
	}

	var v any
	if err := json.Unmarshal(frame.Data, &v); err != nil {
		fmt.Fprintf(out, "   %s\n", frame.Data)
		return
	}
	data, _ := json.MarshalIndent(v, "   ", "  ")
	fmt.Fprintf(out, "   %s\n", data)
}
