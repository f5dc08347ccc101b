package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/desertthunder/wissel/internal/ui"
	"github.com/urfave/cli/v3"
)

const tuiLogPath = "./tmp/wissel-tui.log"

// TUI launches the interactive review UI, opening the given run when an ID is passed.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(tuiLogPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLogLevel(r.config.Log.Level))
	r.SetLogger(fileLogger)

	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	model := ui.NewModel(ctx, r.manager, r.store.Playlists, r.engine, cmd.StringArg("id"))
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
