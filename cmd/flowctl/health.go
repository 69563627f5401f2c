package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the engine is reachable and healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.checkHealth(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) checkHealth(ctx context.Context, out io.Writer) error {
	hs, err := a.transport().Health(ctx)
	if err != nil {
		return fmt.Errorf("engine %s: %w", a.cfg.Engine.BaseURL, err)
	}
	fmt.Fprintf(out, "%s status=%s timestamp=%s\n", a.cfg.Engine.BaseURL, hs.Status, hs.Timestamp)
	if !hs.OK() {
		return fmt.Errorf("engine %s reports status %q", a.cfg.Engine.BaseURL, hs.Status)
	}
	return nil
}
