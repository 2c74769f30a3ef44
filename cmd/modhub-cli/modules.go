package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func newModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the modules the server hosts",
		RunE:  runModules,
	}
}

func runModules(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	mods, err := hubClient.Modules(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(mods) == 0 {
		fmt.Fprintf(out, "No modules loaded\n")
		return nil
	}

	fmt.Fprintf(out, "📦 %d module(s):\n", len(mods))
	for _, m := range mods {
		fmt.Fprintf(out, "  %s\n", m.Name)
		fmt.Fprintf(out, "     cached: %t  internal updates only: %t\n", m.ShouldCacheState, m.InternalStateUpdatesOnly)
		if len(m.ManagementEventWhitelist) > 0 {
			fmt.Fprintf(out, "     management events: %s\n", strings.Join(m.ManagementEventWhitelist, ", "))
		}
	}
	return nil
}

func newCallCommand() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "call METHOD MODULE PATH",
		Short: "Call an HTTP route registered by a module",
		Example: `  modhub-cli call GET scoreboard /score
  modhub-cli call POST scoreboard /goal --data '{"team":"home"}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, strings.ToUpper(args[0]), args[1], args[2], data)
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	return cmd
}

func runCall(cmd *cobra.Command, method, moduleName, path, data string) error {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q", method)
	}

	body, err := parseJSON(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var resp any
	if err := hubClient.ModuleRequest(ctx, method, moduleName, path, body, &resp); err != nil {
		return err
	}
	if resp == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Done\n")
		return nil
	}
	return printJSON(cmd, resp)
}

// parseJSON decodes a flag value; an empty string yields nil
func parseJSON(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
	return nil
}
