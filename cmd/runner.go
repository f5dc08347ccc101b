package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/enrich"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/locks"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/repositories"
	"github.com/desertthunder/wissel/internal/selector"
	"github.com/desertthunder/wissel/internal/services"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/desertthunder/wissel/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Collaborators that are not injected are built on first use from the loaded config.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer

	db        *sql.DB
	store     *repositories.Store
	source    services.TrackSource
	generator services.SuggestionGenerator
	locker    locks.Locker
	manager   *lifecycle.Manager
	engine    *tasks.RefreshEngine
	closers   []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Store      *repositories.Store
	Source     services.TrackSource
	Generator  services.SuggestionGenerator
	Locker     locks.Locker
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		store:      opts.Store,
		source:     opts.Source,
		generator:  opts.Generator,
		locker:     opts.Locker,
	}
}

// SetLogger replaces the logger used by the runner and every collaborator built after the call.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Close releases the database and lock backend opened by the runner.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, playlistCommand, refreshCommand, runCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reloads the configuration when the command names a different file than the one already loaded.
func (r *Runner) loadConfig(cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" || path == r.configPath {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: config file %s not found, run 'wissel setup database -c %s'", shared.ErrMissingConfig, path, path)
	}
	config, err := shared.LoadConfig(path)
	if err != nil {
		return err
	}

	r.config = config
	r.configPath = path
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(config.Log.Level))
	return nil
}

// openStore opens the configured database and applies pending migrations.
func (r *Runner) openStore(ctx context.Context, cmd *cli.Command) (*repositories.Store, error) {
	if err := r.loadConfig(cmd); err != nil {
		return nil, err
	}
	if r.store != nil {
		return r.store, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	r.db = db
	r.store = repositories.NewStore(db)
	r.closers = append(r.closers, db.Close)
	r.logger.Debug("database opened", "path", r.config.Database.Path)
	return r.store, nil
}

// spotifyService builds a Spotify client from config and installs the saved token, if any.
//
// Tokens refreshed during the session are written back to token_path.
func (r *Runner) spotifyService() (*services.SpotifyService, error) {
	creds := r.config.Credentials.Spotify
	svc, err := services.NewSpotifyService(creds.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to create Spotify service: %w", err)
	}

	token, err := services.LoadToken(creds.TokenPath)
	if err != nil {
		r.logger.Warn("spotify requests will fail until authorized", "error", err)
		return svc, nil
	}

	svc.SetTokenRefreshCallback(func(t *oauth2.Token) {
		if t.AccessToken == token.AccessToken {
			return
		}
		token = t
		if err := services.SaveToken(creds.TokenPath, t); err != nil {
			r.logger.Warn("failed to persist refreshed token", "error", err)
		}
	})
	svc.SetToken(context.Background(), token)
	return svc, nil
}

// prepare wires the lifecycle manager and refresh engine, building any collaborator that was not injected.
func (r *Runner) prepare(ctx context.Context, cmd *cli.Command) error {
	if _, err := r.openStore(ctx, cmd); err != nil {
		return err
	}
	if r.manager != nil {
		return nil
	}

	if r.source == nil {
		svc, err := r.spotifyService()
		if err != nil {
			return err
		}
		r.source = svc
	}

	if r.generator == nil {
		gen, err := services.NewOpenAIService(r.config.Credentials.OpenAI)
		if err != nil {
			r.logger.Warn("suggestions disabled, refreshes will use search only", "error", err)
		} else {
			r.generator = gen
		}
	}

	if r.locker == nil {
		locker, closeFn, err := locks.FromConfig(ctx, r.config.Lock, r.logger)
		if err != nil {
			return fmt.Errorf("failed to create lock backend: %w", err)
		}
		r.locker = locker
		r.closers = append(r.closers, closeFn)
	}

	refresh := r.config.Refresh
	suggestTimeout, err := refresh.SuggestTimeoutDuration()
	if err != nil {
		return err
	}
	lease, err := refresh.CommitLeaseDuration()
	if err != nil {
		return err
	}

	enricher := enrich.New(r.source, enrich.NewHeuristic(models.Language(refresh.TargetLanguage)), r.logger)
	sel := selector.New(r.source, r.generator, enricher, selector.Options{
		OversupplyFactor: refresh.OversupplyFactor,
		SearchBudget:     refresh.SearchBudget,
		SuggestTimeout:   suggestTimeout,
		HomeMarket:       refresh.HomeMarket,
	}, r.logger)

	r.manager = lifecycle.New(r.store, r.source, sel, r.locker, lifecycle.Options{CommitLease: lease}, r.logger)
	r.engine = tasks.NewRefreshEngine(r.manager, r.store, r.source, enricher, r.locker, tasks.Options{
		HomeMarket: refresh.HomeMarket,
	}, r.logger)
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
