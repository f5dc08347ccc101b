package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/repositories"
	"github.com/desertthunder/wissel/internal/services"
	"github.com/desertthunder/wissel/internal/shared"
	tu "github.com/desertthunder/wissel/internal/testing"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

func catalog(prefix string, n int) []services.Track {
	tracks := make([]services.Track, n)
	for i := range tracks {
		tracks[i] = services.Track{
			ID:          fmt.Sprintf("%s%d", prefix, i),
			Artist:      fmt.Sprintf("Artist %s%d", prefix, i),
			Title:       fmt.Sprintf("Song %s%d", prefix, i),
			ReleaseDate: "1993-06-01",
			Markets:     []string{"NL", "US"},
		}
	}
	return tracks
}

type cliEnv struct {
	runner *Runner
	output *bytes.Buffer
	store  *repositories.Store
	source *tu.MockSource
	gen    *tu.MockGenerator
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	store := repositories.NewStore(db)

	current, fresh := catalog("c", 10), catalog("n", 5)
	source := tu.NewMockSource(slices.Concat(current, fresh)...)
	var ids []string
	for _, tr := range current {
		ids = append(ids, tr.ID)
	}
	source.SetPlaylist("ext-sunday", ids...)

	gen := &tu.MockGenerator{}
	for _, f := range fresh {
		gen.Suggestions = append(gen.Suggestions, services.Suggestion{Artist: f.Artist, Title: f.Title, Rationale: "fits the mood"})
	}

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		ConfigPath: defaultConfigPath,
		Logger:     shared.NewLogger(&bytes.Buffer{}),
		Output:     output,
		Store:      store,
		Source:     source,
		Generator:  gen,
	})
	t.Cleanup(func() { runner.Close() })

	return &cliEnv{runner: runner, output: output, store: store, source: source, gen: gen}
}

func (e *cliEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	e.output.Reset()
	app := &cli.Command{Name: "wissel", Commands: e.runner.register()}
	return app.Run(context.Background(), append([]string{"wissel"}, args...))
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	if err := e.run(t, args...); err != nil {
		t.Fatalf("wissel %s failed: %v", strings.Join(args, " "), err)
	}
	return e.output.String()
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			source := tu.NewMockSource()
			gen := &tu.MockGenerator{}

			runner := NewRunner(RunnerOpts{
				Config:    config,
				Logger:    logger,
				Output:    output,
				Source:    source,
				Generator: gen,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.source != source {
				t.Error("expected source to be set")
			}
			if runner.generator != gen {
				t.Error("expected generator to be set")
			}
			if runner.manager != nil {
				t.Error("expected manager to be built lazily")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config: nil,
			})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Logger: nil,
			})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Output: nil,
			})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with configPath sets field", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				ConfigPath: "/test/path/config.toml",
			})

			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("writePlainln surrounds text with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlainln("done %d", 3); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "\ndone 3\n" {
				t.Errorf("expected %q, got %q", "\ndone 3\n", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		var names []string
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names = append(names, cmd.Name)
		}

		for _, want := range []string{"setup", "auth", "playlist", "refresh", "run", "serve"} {
			if !slices.Contains(names, want) {
				t.Errorf("expected %q to be registered, got %v", want, names)
			}
		}
	})

	t.Run("Close", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		calls := 0
		runner.closers = []func() error{
			func() error { calls++; return nil },
			func() error { calls++; return errors.New("boom") },
		}

		if err := runner.Close(); err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("expected joined close error, got %v", err)
		}
		if calls != 2 {
			t.Errorf("expected every closer to run, got %d", calls)
		}
		if err := runner.Close(); err != nil {
			t.Errorf("second Close should be a no-op, got %v", err)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("loads a different file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "custom.toml")
		if err := os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n\n[server]\nport = 4100\n"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		env := newCLIEnv(t)
		if err := env.run(t, "playlist", "list", "-c", path); err != nil {
			t.Fatalf("playlist list failed: %v", err)
		}
		if env.runner.configPath != path {
			t.Errorf("configPath = %q, want %q", env.runner.configPath, path)
		}
		if env.runner.config.Server.Port != 4100 {
			t.Errorf("expected port from file, got %d", env.runner.config.Server.Port)
		}
		if env.runner.config.Database.Path == "" {
			t.Error("keys missing from the file should keep defaults")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		env := newCLIEnv(t)
		err := env.run(t, "playlist", "list", "-c", filepath.Join(tmpDir, "nope.toml"))
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "bad.toml")
		if err := os.WriteFile(path, []byte("[lock]\nbackend = \"etcd\"\n"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		env := newCLIEnv(t)
		err := env.run(t, "playlist", "list", "-c", path)
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestSetupDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	origDir := tu.MustGetwd(t)
	defer tu.MustChdir(t, origDir)
	tu.MustChdir(t, tmpDir)

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		ConfigPath: defaultConfigPath,
		Logger:     shared.NewLogger(&bytes.Buffer{}),
		Output:     output,
	})
	app := &cli.Command{Name: "wissel", Commands: runner.register()}

	if err := app.Run(context.Background(), []string{"wissel", "setup", "database", "-c", "fresh.toml"}); err != nil {
		t.Fatalf("setup database failed: %v", err)
	}

	tu.AssertFileExists(t, "fresh.toml")
	tu.AssertFileExists(t, "wissel.db")
	if !strings.Contains(output.String(), "Database ready at ./wissel.db") {
		t.Errorf("unexpected output: %s", output.String())
	}

	// Running again reuses the file and is idempotent.
	output.Reset()
	app = &cli.Command{Name: "wissel", Commands: runner.register()}
	if err := app.Run(context.Background(), []string{"wissel", "setup", "database", "-c", "fresh.toml"}); err != nil {
		t.Fatalf("second setup failed: %v", err)
	}
}

func TestSpotifyService(t *testing.T) {
	tmpDir := t.TempDir()

	config := shared.DefaultConfig()
	config.Credentials.Spotify.ClientID = "id"
	config.Credentials.Spotify.ClientSecret = "secret"
	config.Credentials.Spotify.TokenPath = filepath.Join(tmpDir, "token.json")

	t.Run("without a saved token", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Config: config, Logger: shared.NewLogger(&bytes.Buffer{})})

		svc, err := runner.spotifyService()
		if err != nil {
			t.Fatalf("expected service without token, got %v", err)
		}
		if _, err := svc.Token(); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("with a saved token", func(t *testing.T) {
		token := &oauth2.Token{AccessToken: "saved", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
		if err := services.SaveToken(config.Credentials.Spotify.TokenPath, token); err != nil {
			t.Fatalf("failed to save token: %v", err)
		}

		runner := NewRunner(RunnerOpts{Config: config, Logger: shared.NewLogger(&bytes.Buffer{})})
		svc, err := runner.spotifyService()
		if err != nil {
			t.Fatalf("spotifyService failed: %v", err)
		}

		got, err := svc.Token()
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if got.AccessToken != "saved" {
			t.Errorf("AccessToken = %q, want saved", got.AccessToken)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		cfg.Credentials.Spotify.ClientID = ""
		runner := NewRunner(RunnerOpts{Config: cfg})

		if _, err := runner.spotifyService(); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestPlaylistCommands(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	t.Run("add requires a key", func(t *testing.T) {
		err := env.run(t, "playlist", "add", "--external", "ext-sunday")
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("add rejects an invalid schedule", func(t *testing.T) {
		err := env.run(t, "playlist", "add", "--external", "ext-sunday", "--schedule", "FREQ=SOMETIMES", "broken")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("add", func(t *testing.T) {
		out := env.mustRun(t, "playlist", "add",
			"--name", "Sunday", "--vibe", "warm soul", "--external", "ext-sunday",
			"--market", "nl", "--schedule", "FREQ=WEEKLY;BYDAY=SU", "sunday")
		if !strings.Contains(out, "Playlist sunday registered") {
			t.Errorf("unexpected output: %s", out)
		}

		p, err := env.store.Playlists.GetByKey(ctx, "sunday")
		if err != nil {
			t.Fatalf("playlist not stored: %v", err)
		}
		if p.HomeMarket != "NL" || p.ExternalRef != "ext-sunday" || p.Vibe != "warm soul" {
			t.Errorf("unexpected playlist: %+v", p)
		}
	})

	t.Run("add duplicate", func(t *testing.T) {
		err := env.run(t, "playlist", "add", "--external", "ext-other", "sunday")
		if !errors.Is(err, shared.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		out := env.mustRun(t, "playlist", "list")
		if !strings.Contains(out, "1. Sunday (sunday)") || !strings.Contains(out, "Schedule: FREQ=WEEKLY;BYDAY=SU") {
			t.Errorf("unexpected output: %s", out)
		}

		out = env.mustRun(t, "playlist", "list", "--json")
		var playlists []models.Playlist
		if err := json.Unmarshal([]byte(out), &playlists); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if len(playlists) != 1 || playlists[0].Key != "sunday" {
			t.Errorf("unexpected playlists: %+v", playlists)
		}
	})

	t.Run("rules set and show", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.json")
		doc := `{"block_size": 5, "block_count": 4, "max_tracks_per_artist": 1, "no_repeat_ever": true}`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatalf("failed to write rules: %v", err)
		}

		out := env.mustRun(t, "playlist", "rules", "--set", path, "sunday")
		if !strings.Contains(out, "Rules for sunday updated") || !strings.Contains(out, "Rules for Sunday") {
			t.Errorf("unexpected output: %s", out)
		}

		out = env.mustRun(t, "playlist", "rules", "--json", "sunday")
		var rules models.RuleSet
		if err := json.Unmarshal([]byte(out), &rules); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if rules.BlockCount != 4 || !rules.NoRepeatEver {
			t.Errorf("unexpected rules: %+v", rules)
		}
	})

	t.Run("rules rejects an invalid document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.json")
		if err := os.WriteFile(path, []byte(`{"block_size": "five"}`), 0644); err != nil {
			t.Fatalf("failed to write rules: %v", err)
		}
		err := env.run(t, "playlist", "rules", "--set", path, "sunday")
		if !errors.Is(err, shared.ErrInvalidRules) {
			t.Errorf("expected ErrInvalidRules, got %v", err)
		}
	})

	t.Run("show unknown playlist", func(t *testing.T) {
		err := env.run(t, "playlist", "show", "weekday")
		if !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("bootstrap", func(t *testing.T) {
		out := env.mustRun(t, "playlist", "bootstrap", "sunday")
		if !strings.Contains(out, "Imported 10 tracks into 2 blocks for sunday") {
			t.Errorf("unexpected output: %s", out)
		}

		err := env.run(t, "playlist", "bootstrap", "sunday")
		if !errors.Is(err, shared.ErrAlreadyExists) {
			t.Errorf("second bootstrap should fail with ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("show", func(t *testing.T) {
		out := env.mustRun(t, "playlist", "show", "sunday")
		for _, want := range []string{"Playlist: Sunday (sunday)", "Active blocks: 2", "1. Artist c0 - Song c0"} {
			if !strings.Contains(out, want) {
				t.Errorf("show output missing %q, got:\n%s", want, out)
			}
		}
	})
}

func TestRefreshAndRunCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "playlist", "add", "--name", "Sunday", "--vibe", "warm soul", "--external", "ext-sunday", "--market", "NL", "sunday")
	env.mustRun(t, "playlist", "bootstrap", "sunday")

	out := env.mustRun(t, "refresh", "preview", "--json", "sunday")
	var summary lifecycle.RunSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("preview output is not JSON: %v\n%s", err, out)
	}
	if summary.Status != models.RunPreview || len(summary.AddedTracks) != 5 || len(summary.RemovedTracks) != 5 {
		t.Fatalf("unexpected preview: %+v", summary)
	}
	if summary.RemovedBlockIndex != 0 {
		t.Errorf("expected the oldest block to retire, got %d", summary.RemovedBlockIndex)
	}
	runID := summary.RunID

	t.Run("show", func(t *testing.T) {
		out := env.mustRun(t, "run", "show", runID)
		if !strings.Contains(out, "(preview) for sunday") || !strings.Contains(out, "Removing block 0 (5 tracks)") {
			t.Errorf("unexpected output: %s", out)
		}

		out = env.mustRun(t, "run", "show", "--format", "markdown", runID)
		if !strings.HasPrefix(out, "# sunday: run #") {
			t.Errorf("expected markdown, got: %s", out)
		}

		err := env.run(t, "run", "show", "--format", "xml", runID)
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("show unknown run", func(t *testing.T) {
		err := env.run(t, "run", "show", "missing")
		if !errors.Is(err, shared.ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})

	t.Run("changes", func(t *testing.T) {
		out := env.mustRun(t, "run", "changes", runID)
		if strings.Count(out, " add ") != 5 || !strings.Contains(out, "remove") {
			t.Errorf("unexpected output: %s", out)
		}

		out = env.mustRun(t, "run", "changes", "--format", "csv", runID)
		if !strings.HasPrefix(out, "ID,Type,TrackID") {
			t.Errorf("expected CSV, got: %s", out)
		}

		path := filepath.Join(t.TempDir(), "changes.csv")
		out = env.mustRun(t, "run", "changes", "--format", "csv", "--output", path, runID)
		if !strings.Contains(out, "exported to "+path) {
			t.Errorf("unexpected output: %s", out)
		}
		tu.AssertFileExists(t, path)
	})

	t.Run("commit with pending approvals", func(t *testing.T) {
		err := env.run(t, "run", "commit", runID)
		if !errors.Is(err, shared.ErrUnapprovedChanges) {
			t.Errorf("expected ErrUnapprovedChanges, got %v", err)
		}
	})

	t.Run("approve and reject", func(t *testing.T) {
		changeID := summary.AddedTracks[0].ChangeID

		out := env.mustRun(t, "run", "approve", "--reject", runID, changeID)
		if !strings.Contains(out, "rejected") {
			t.Errorf("unexpected output: %s", out)
		}
		out = env.mustRun(t, "run", "approve", runID, changeID)
		if !strings.Contains(out, "approved") {
			t.Errorf("unexpected output: %s", out)
		}

		err := env.run(t, "run", "approve", runID)
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("approve-all and commit", func(t *testing.T) {
		out := env.mustRun(t, "run", "approve-all", runID)
		if !strings.Contains(out, "Approved") {
			t.Errorf("unexpected output: %s", out)
		}

		out = env.mustRun(t, "run", "commit", runID)
		if !strings.Contains(out, "(committed) for sunday") {
			t.Errorf("unexpected output: %s", out)
		}

		external := env.source.Playlist("ext-sunday")
		if len(external) != 10 {
			t.Fatalf("expected 10 tracks after rotation, got %v", external)
		}
		for _, id := range []string{"c0", "c1", "c2", "c3", "c4"} {
			if slices.Contains(external, id) {
				t.Errorf("retired track %s still in external playlist", id)
			}
		}
		for _, id := range []string{"n0", "n1", "n2", "n3", "n4", "c5"} {
			if !slices.Contains(external, id) {
				t.Errorf("expected %s in external playlist, got %v", id, external)
			}
		}
	})

	t.Run("cancel committed run", func(t *testing.T) {
		err := env.run(t, "run", "cancel", runID)
		if !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		out := env.mustRun(t, "run", "list", "sunday")
		if !strings.Contains(out, "Found 1 runs") || !strings.Contains(out, "committed") {
			t.Errorf("unexpected output: %s", out)
		}

		out = env.mustRun(t, "run", "list", "--json", "--limit", "5", "sunday")
		var runs []models.Run
		if err := json.Unmarshal([]byte(out), &runs); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if len(runs) != 1 || runs[0].ID != runID {
			t.Errorf("unexpected runs: %+v", runs)
		}
	})
}

func TestRefreshRunAutoCommit(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "playlist", "add", "--external", "ext-sunday", "sunday")
	env.mustRun(t, "playlist", "bootstrap", "sunday")

	out := env.mustRun(t, "refresh", "run", "--commit", "sunday")
	if !strings.Contains(out, "(committed) for sunday") {
		t.Errorf("unexpected output: %s", out)
	}
	if strings.Contains(out, "Review with") {
		t.Error("committed runs should not print the review hint")
	}
	if slices.Contains(env.source.Playlist("ext-sunday"), "c0") {
		t.Error("expected the oldest block to be rotated out")
	}

	t.Run("preview without suggestions falls back to search", func(t *testing.T) {
		env.gen.Err = errors.New("model offline")
		env.source.SearchHits = catalog("s", 5)
		env.source.AddCatalog(env.source.SearchHits...)

		out := env.mustRun(t, "refresh", "preview", "sunday")
		if !strings.Contains(out, "Degraded") {
			t.Errorf("expected degraded preview, got: %s", out)
		}
		if !strings.Contains(out, "Review with 'wissel run review") {
			t.Errorf("expected review hint, got: %s", out)
		}
	})
}
