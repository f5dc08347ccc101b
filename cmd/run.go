package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/wissel/internal/formatter"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/urfave/cli/v3"
)

// RunShow prints a run summary, or writes it to --output in --format.
func (r *Runner) RunShow(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	detail, err := r.manager.Get(ctx, id)
	if err != nil {
		return err
	}
	summary := detail.Summary()

	if cmd.Bool("json") {
		return r.writeJSON(summary, cmd.Bool("pretty"))
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		written, err := formatter.WriteRunExport(format, &summary, detail.Changes, path)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Run #%d exported to %s\n", summary.Sequence, written)
	}

	data, err := formatter.RenderRun(format, &summary, detail.Changes)
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}

// RunChanges lists the changes of a run. Text output is a compact table; markdown and csv match run show.
func (r *Runner) RunChanges(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	detail, err := r.manager.Get(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(detail.Changes, cmd.Bool("pretty"))
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	if format != formatter.FormatText || cmd.String("output") != "" {
		return r.RunShow(ctx, cmd)
	}

	r.writePlainHeader(fmt.Sprintf("Run #%d: %d changes", detail.Run.Sequence, len(detail.Changes)))
	for _, c := range detail.Changes {
		mark := " "
		if c.Approved {
			mark = "x"
		}
		r.writePlain("[%s] %-6s %s  %s - %s", mark, c.Type, c.ID, c.Artist, c.Title)
		if c.Type == models.ChangeAdd {
			if attrs := formatter.FormatAttributes(c.Attributes); attrs != "" {
				r.writePlain(" (%s)", attrs)
			}
		}
		r.writePlain("\n")
	}
	return nil
}

// RunApprove approves one change, or rejects it with --reject.
func (r *Runner) RunApprove(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	changeID, err := requireArg(cmd, "change")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	approved := !cmd.Bool("reject")
	if err := r.manager.Approve(ctx, id, changeID, approved); err != nil {
		return err
	}

	if approved {
		return r.writePlain("✓ Change %s approved\n", changeID)
	}
	return r.writePlain("✓ Change %s rejected\n", changeID)
}

// RunApproveAll approves every change of a run.
func (r *Runner) RunApproveAll(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	n, err := r.manager.ApproveAll(ctx, id)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Approved %d changes\n", n)
}

// RunCommit applies an approved run to the external playlist.
func (r *Runner) RunCommit(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	detail, err := r.manager.Commit(ctx, id)
	if err != nil {
		return err
	}

	summary := detail.Summary()
	r.logger.Info("run committed", "run", summary.RunID, "playlist", summary.PlaylistKey)
	return r.writeSummary(cmd, &summary)
}

// RunCancel cancels a preview.
func (r *Runner) RunCancel(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	if err := r.manager.Cancel(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Run %s cancelled\n", id)
}

// RunList lists recent runs of a playlist, newest first.
func (r *Runner) RunList(ctx context.Context, cmd *cli.Command) error {
	key, err := requireArg(cmd, "key")
	if err != nil {
		return err
	}
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	runs, err := r.manager.ListRuns(ctx, key, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(runs, cmd.Bool("pretty"))
	}

	if len(runs) == 0 {
		return r.writePlain("No runs for %s yet. Create one with 'wissel refresh preview %s'.\n", key, key)
	}

	r.writePlain("Found %d runs:\n\n", len(runs))
	for _, run := range runs {
		r.writePlain("#%d  %-10s %s  %s", run.Sequence, run.Status, run.CreatedAt.UTC().Format("2006-01-02 15:04"), run.ID)
		if run.Degraded {
			r.writePlain("  degraded")
		}
		if run.SyncFailed() {
			r.writePlain("  last commit failed: %s", run.LastError)
		}
		r.writePlain("\n")
	}
	return nil
}
