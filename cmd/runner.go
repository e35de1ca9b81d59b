package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/tdx/internal/cache"
	"github.com/desertthunder/tdx/internal/library"
	"github.com/desertthunder/tdx/internal/ratelimit"
	"github.com/desertthunder/tdx/internal/retry"
	"github.com/desertthunder/tdx/internal/search"
	"github.com/desertthunder/tdx/internal/services"
	"github.com/desertthunder/tdx/internal/shared"
	"github.com/desertthunder/tdx/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
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
		config: opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, cacheCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// openDatabase opens the configured cache database with migrations applied.
func (r *Runner) openDatabase() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// session bundles everything one sync run needs.
type session struct {
	engine *tasks.SyncEngine
	report *library.Report
	db     *sql.DB
}

func (s *session) Close() error {
	return s.db.Close()
}

// buildSession constructs the services, searchers and engine from config.
func (r *Runner) buildSession(ctx context.Context, itemLimit int) (*session, error) {
	creds := r.config.Credentials

	spotify, err := services.NewSpotifyService(creds.Spotify.ClientID, creds.Spotify.ClientSecret, creds.Spotify.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("spotify configuration: %w", err)
	}
	if err := spotify.Authenticate(ctx, creds.Spotify.AccessToken, creds.Spotify.RefreshToken); err != nil {
		return nil, fmt.Errorf("spotify authentication: %w", err)
	}

	tidal, err := services.NewTidalService(creds.Tidal.AccessToken, creds.Tidal.UserID, creds.Tidal.CountryCode)
	if err != nil {
		return nil, fmt.Errorf("tidal configuration: %w", err)
	}

	db, err := r.openDatabase()
	if err != nil {
		return nil, err
	}

	mc := cache.New(db)
	limiter := ratelimit.New(r.config.Sync.MaxConcurrent, r.config.Sync.RatePerSecond)

	policy := retry.DefaultPolicy()
	if r.config.Sync.MaxRetries > 0 {
		policy.MaxAttempts = r.config.Sync.MaxRetries
	}

	forward := search.NewTidalSearcher(tidal, mc, limiter, policy, r.logger)
	reverse := search.NewSpotifySearcher(spotify, mc, limiter, policy, r.logger)

	report := library.NewReport(shared.GenerateID())
	engine := tasks.NewSyncEngine(spotify, tidal, forward, reverse, mc, limiter, r.logger, report, itemLimit)

	return &session{engine: engine, report: report, db: db}, nil
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
