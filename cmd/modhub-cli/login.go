package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a session token",
		Long: `Log in with the configured client type, identifier and passphrase.
The returned token can be passed with --token (or MODHUB_TOKEN) so later HTTP
commands do not resend the passphrase.`,
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logging in to %s as %s (%s)...\n", serverURL, identifier, clientType)

	resp, err := hubClient.Login(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Login successful!\n")
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "Expires: %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "\nSave the token for later commands:\n")
	fmt.Fprintf(out, "  export MODHUB_TOKEN=\"%s\"\n", resp.Token)
	return nil
}
