package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/wissel/internal/server"
	"github.com/desertthunder/wissel/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// Serve runs the JSON API until interrupted. With --schedule it also fires scheduled refreshes.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(ctx, cmd); err != nil {
		return err
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	}

	api := server.NewAPI(r.manager, r.engine, r.store, r.logger)
	router := server.NewRouter(api, r.logger)

	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan string, 1)
	g.Go(func() error {
		return server.Serve(gctx, addr, router, r.logger, ready)
	})

	if cmd.Bool("schedule") {
		scheduler := tasks.NewScheduler(r.engine, r.store, cmd.Duration("tick"), r.logger)
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	go func() {
		select {
		case bound := <-ready:
			r.writePlain("→ Serving on http://%s (Ctrl+C to stop)\n", bound)
		case <-gctx.Done():
		}
	}()

	return g.Wait()
}
