package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/flowstream/flow"
	"github.com/dshills/flowstream/internal/config"
	"github.com/dshills/flowstream/internal/xjson"
)

func (a *app) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec FILE",
		Short: "Execute a workflow and print its result",
		Long: `Run a workflow to completion without live events and print the
engine's result document as JSON. The exit status is non-zero when the
result status is error, the run was cancelled or the engine was
unreachable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.execWorkflow(ctx, cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) execWorkflow(ctx context.Context, out io.Writer, file string) error {
	wf, err := config.LoadWorkflow(file)
	if err != nil {
		return err
	}
	client, err := a.client(nil)
	if err != nil {
		return err
	}

	result, err := client.Execute(ctx, wf)
	if err != nil {
		return err
	}

	data, err := xjson.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := fmt.Fprintln(out, string(data)); err != nil {
		return err
	}

	if result.Status == flow.ResultError {
		if result.Error != "" {
			return fmt.Errorf("workflow failed: %s", result.Error)
		}
		return errors.New("workflow failed")
	}
	return nil
}
