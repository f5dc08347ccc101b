package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/wissel/internal/formatter"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/policy"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/desertthunder/wissel/internal/tasks"
	"github.com/urfave/cli/v3"
)

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.StringArg(name))
	if v == "" {
		return "", fmt.Errorf("%w: <%s> is required", shared.ErrMissingArgument, name)
	}
	return v, nil
}

func readRules(path string) (models.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RuleSet{}, fmt.Errorf("failed to read rules: %w", err)
	}
	return policy.ParseRuleDocument(path, data)
}

// PlaylistAdd registers a playlist, optionally with a rule document.
func (r *Runner) PlaylistAdd(ctx context.Context, cmd *cli.Command) error {
	key, err := requireArg(cmd, "key")
	if err != nil {
		return err
	}

	store, err := r.openStore(ctx, cmd)
	if err != nil {
		return err
	}

	var rules *models.RuleSet
	if path := cmd.String("rules"); path != "" {
		rs, err := readRules(path)
		if err != nil {
			return err
		}
		rules = &rs
	}

	if schedule := cmd.String("schedule"); schedule != "" {
		if _, err := tasks.ParseSchedule(schedule, time.Now().UTC()); err != nil {
			return err
		}
	}

	name := cmd.String("name")
	if name == "" {
		name = key
	}
	market := cmd.String("market")
	if market == "" {
		market = r.config.Refresh.HomeMarket
	}

	p := &models.Playlist{
		Key:         key,
		Name:        name,
		Vibe:        cmd.String("vibe"),
		ExternalRef: cmd.String("external"),
		HomeMarket:  strings.ToUpper(market),
		Schedule:    cmd.String("schedule"),
		AutoCommit:  cmd.Bool("auto-commit"),
	}
	if err := store.Playlists.Create(ctx, p); err != nil {
		return err
	}
	if rules != nil {
		if err := store.Playlists.SaveRules(ctx, p.ID, *rules); err != nil {
			return err
		}
	}

	r.logger.Info("playlist registered", "key", p.Key, "external_ref", p.ExternalRef)
	r.writePlain("✓ Playlist %s registered\n", p.Key)
	r.writePlain("Next: run 'wissel playlist bootstrap %s' to import the current tracks\n", p.Key)
	return nil
}

// PlaylistList prints every registered playlist.
func (r *Runner) PlaylistList(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore(ctx, cmd)
	if err != nil {
		return err
	}

	playlists, err := store.Playlists.List(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}

	if len(playlists) == 0 {
		return r.writePlain("No playlists registered. Add one with 'wissel playlist add'.\n")
	}

	r.writePlain("Found %d playlists:\n\n", len(playlists))
	for i, p := range playlists {
		r.writePlain("%d. %s (%s)\n", i+1, p.Name, p.Key)
		if p.Vibe != "" {
			r.writePlain("   Vibe: %s\n", p.Vibe)
		}
		r.writePlain("   External: %s\n", p.ExternalRef)
		if p.Schedule != "" {
			r.writePlain("   Schedule: %s (auto-commit: %t)\n", p.Schedule, p.AutoCommit)
		}
		r.writePlain("\n")
	}
	return nil
}

type playlistDetail struct {
	Playlist *models.Playlist `json:"playlist"`
	Rules    models.RuleSet   `json:"rules"`
	Blocks   []models.Block   `json:"blocks"`
}

// PlaylistShow prints a playlist and its active blocks.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	key, err := requireArg(cmd, "key")
	if err != nil {
		return err
	}

	store, err := r.openStore(ctx, cmd)
	if err != nil {
		return err
	}

	p, err := store.Playlists.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	blocks, err := store.Blocks.Active(ctx, p.ID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rules, err := store.Playlists.Rules(ctx, p.ID)
		if err != nil {
			return err
		}
		return r.writeJSON(playlistDetail{Playlist: p, Rules: rules, Blocks: blocks}, cmd.Bool("pretty"))
	}

	data, err := formatter.BlocksToText(p, blocks)
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}

// PlaylistRules prints the rules of a playlist, or replaces them with --set.
func (r *Runner) PlaylistRules(ctx context.Context, cmd *cli.Command) error {
	key, err := requireArg(cmd, "key")
	if err != nil {
		return err
	}

	store, err := r.openStore(ctx, cmd)
	if err != nil {
		return err
	}

	p, err := store.Playlists.GetByKey(ctx, key)
	if err != nil {
		return err
	}

	if path := cmd.String("set"); path != "" {
		rules, err := readRules(path)
		if err != nil {
			return err
		}
		if err := store.Playlists.SaveRules(ctx, p.ID, rules); err != nil {
			return err
		}
		r.logger.Info("rules updated", "playlist", p.Key, "source", path)
		r.writePlain("✓ Rules for %s updated from %s\n", p.Key, path)
	}

	rules, err := store.Playlists.Rules(ctx, p.ID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(rules, cmd.Bool("pretty"))
	}

	blocks, err := store.Blocks.Active(ctx, p.ID)
	if err != nil {
		return err
	}
	var artists []string
	for _, b := range blocks {
		for _, t := range b.Tracks {
			artists = append(artists, t.Artist)
		}
	}

	r.writePlainHeader(fmt.Sprintf("Rules for %s", p.Name))
	return r.writePlain("%s\n", policy.RenderRuleSummary(rules, artists))
}

// PlaylistBootstrap imports the current external playlist as the first blocks.
func (r *Runner) PlaylistBootstrap(ctx context.Context, cmd *cli.Command) error {
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

	result, err := r.engine.Bootstrap(ctx, key, progress)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlain("✓ Imported %d tracks into %d blocks for %s\n", result.Tracks, len(result.Blocks), result.Playlist.Key)
	return nil
}

// PlaylistRemote lists the authorized user's Spotify playlists.
func (r *Runner) PlaylistRemote(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	svc, err := r.spotifyService()
	if err != nil {
		return err
	}

	playlists, err := svc.UserPlaylists(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d Spotify playlists:\n\n", len(playlists))
	for i, p := range playlists {
		r.writePlain("%d. %s\n", i+1, p.Name)
		r.writePlain("   ID: %s\n", p.ID)
		if p.Description != "" {
			r.writePlain("   Description: %s\n", p.Description)
		}
	}
	return nil
}
