package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking health of %s...\n", serverURL)

	health, err := hubClient.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.OK {
		fmt.Fprintf(out, "✅ Server is healthy!\n")
	} else {
		fmt.Fprintf(out, "❌ Server is not healthy!\n")
	}
	return nil
}
