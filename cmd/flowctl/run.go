package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/flowstream/flow"
	"github.com/dshills/flowstream/internal/config"
)

func (a *app) runCmd() *cobra.Command {
	var (
		jsonEvents bool
		parallel   int
	)
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Stream one or more workflows",
		Long: `Start one run per workflow file and print node events as the engine
reports them. Runs are independent; Ctrl-C cancels all of them.

The exit status is non-zero unless every run finished with status success.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runWorkflows(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args, jsonEvents, parallel)
		},
	}
	cmd.Flags().BoolVar(&jsonEvents, "json", false, "Print run events as JSON lines")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Maximum concurrent runs (0 means no limit)")
	return cmd
}

type runOutcome struct {
	file   string
	runID  string
	status flow.ExecutionStatus
	err    error
}

func (a *app) runWorkflows(ctx context.Context, out, summary io.Writer, files []string, jsonEvents bool, parallel int) error {
	// Load every file up front so a bad one does not leave the rest running.
	wfs := make([]flow.Workflow, len(files))
	for i, f := range files {
		wf, err := config.LoadWorkflow(f)
		if err != nil {
			return err
		}
		wfs[i] = wf
	}

	client, err := a.client(a.eventLog(out, jsonEvents))
	if err != nil {
		return err
	}

	outcomes := make([]runOutcome, len(files))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i := range files {
		g.Go(func() error {
			o := &outcomes[i]
			o.file = files[i]

			run, err := client.Start(ctx, wfs[i])
			if err != nil {
				o.err = err
				return err
			}
			o.runID = run.ID

			// ctx ending cancels the run itself, so wait for it to settle.
			snap, err := run.Wait(context.Background())
			o.status = snap.Status
			o.err = err
			if err == nil && snap.Status != flow.StatusSuccess {
				err = fmt.Errorf("%s: run finished with status %s", o.file, snap.Status)
				if snap.Result != nil && snap.Result.Error != "" {
					err = fmt.Errorf("%w: %s", err, snap.Result.Error)
				}
			}
			if err != nil {
				a.logger.Debug("run did not succeed", zap.String("file", o.file), zap.String("run_id", o.runID), zap.Error(err))
			}
			return err
		})
	}
	firstErr := g.Wait()

	writeSummary(summary, outcomes)
	if firstErr == nil {
		return nil
	}

	failed := 0
	for _, o := range outcomes {
		if o.err != nil || o.status != flow.StatusSuccess {
			failed++
		}
	}
	return fmt.Errorf("%d of %d runs did not succeed: %w", failed, len(outcomes), firstErr)
}

func writeSummary(w io.Writer, outcomes []runOutcome) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tRUN\tSTATUS\tERROR")
	for _, o := range outcomes {
		status := string(o.status)
		if status == "" {
			status = "-"
		}
		msg := ""
		if o.err != nil {
			msg = o.err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.file, o.runID, status, msg)
	}
	_ = tw.Flush()
}
