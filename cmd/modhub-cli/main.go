package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/modhub-go/pkg/client"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

var (
	// Global flags
	serverURL  string
	clientType string
	identifier string
	passphrase string
	token      string
	timeout    time.Duration

	// Global client instance
	hubClient *client.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modhub-cli",
		Short: "modhub command line interface",
		Long: `modhub-cli talks to a modhub server over HTTP and its real-time socket.
It can check health, log in, list modules, read state, send management
events and state deltas, and listen to broadcasts.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MODHUB_SERVER", "http://localhost:12800"), "modhub server URL")
	rootCmd.PersistentFlags().StringVar(&clientType, "client-type", string(protocol.ClientTypeManagement), "Client type (frontend or management)")
	rootCmd.PersistentFlags().StringVar(&identifier, "identifier", envOr("MODHUB_IDENTIFIER", ""), "Client identifier")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", envOr("MODHUB_PASSPHRASE", ""), "Client passphrase")
	rootCmd.PersistentFlags().StringVar(&token, "token", envOr("MODHUB_TOKEN", ""), "Session token for HTTP requests (from 'login')")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newModulesCommand())
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newPushCommand())
	rootCmd.AddCommand(newSetCommand())
	rootCmd.AddCommand(newListenCommand())

	return rootCmd
}

// initializeClient sets up the client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	ct := protocol.ClientType(clientType)
	if ct != protocol.ClientTypeFrontend && ct != protocol.ClientTypeManagement {
		return fmt.Errorf("client-type must be 'frontend' or 'management', got %q", clientType)
	}

	id := identifier
	if id == "" {
		// health does not authenticate, and an open auth table accepts anyone
		id = "modhub-cli"
	}

	var err error
	hubClient, err = client.NewClient(client.Config{
		ServerURL:  serverURL,
		ClientType: ct,
		Identifier: id,
		Passphrase: passphrase,
		Timeout:    timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		hubClient.SetToken(token)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
