package main

import (
	"context"

	"github.com/desertthunder/wissel/internal/formatter"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/tasks"
	"github.com/urfave/cli/v3"
)

// RefreshRun creates a preview and, with --commit, approves and commits it.
func (r *Runner) RefreshRun(ctx context.Context, cmd *cli.Command) error {
	return r.refresh(ctx, cmd, cmd.Bool("commit"))
}

// RefreshPreview creates a preview run for review.
func (r *Runner) RefreshPreview(ctx context.Context, cmd *cli.Command) error {
	return r.refresh(ctx, cmd, false)
}

func (r *Runner) refresh(ctx context.Context, cmd *cli.Command, autoCommit bool) error {
	key, err := requireArg(cmd, "key")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.logger.Info(update.Message, "phase", update.Phase, "step", update.Step, "total", update.Total)
		}
	}()

	summary, err := r.engine.ExecuteRefresh(ctx, key, autoCommit, progress)
	close(progress)
	<-done

	if summary != nil {
		if werr := r.writeSummary(cmd, summary); werr != nil {
			return werr
		}
		if err == nil && !cmd.Bool("json") && summary.Status == models.RunPreview {
			r.writePlainln("Review with 'wissel run review %s', then 'wissel run commit %s'", summary.RunID, summary.RunID)
		}
	}
	return err
}

func (r *Runner) writeSummary(cmd *cli.Command, summary *lifecycle.RunSummary) error {
	if cmd.Bool("json") {
		return r.writeJSON(summary, cmd.Bool("pretty"))
	}

	data, err := formatter.RunToText(summary)
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}
