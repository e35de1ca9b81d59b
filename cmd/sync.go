package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/tdx/internal/services"
	"github.com/desertthunder/tdx/internal/tasks"
	"github.com/desertthunder/tdx/internal/ui"
)

// syncOp is one engine operation selected by subcommand and direction.
type syncOp func(ctx context.Context, engine *tasks.SyncEngine, progress chan<- tasks.ProgressUpdate) (tasks.Result, error)

// runSync builds a session, runs the operation with an optional terminal
// progress display, and prints the final counts.
func (r *Runner) runSync(ctx context.Context, cmd *cli.Command, title string, op syncOp) error {
	sess, err := r.buildSession(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	defer sess.Close()

	var progress chan tasks.ProgressUpdate
	var wg sync.WaitGroup

	if !cmd.Bool("no-progress") {
		progress = make(chan tasks.ProgressUpdate, 64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ui.Observe(title, progress); err != nil {
				r.logger.Warn("progress display failed", "err", err)
			}
		}()
	}

	result, err := op(ctx, sess.engine, progress)
	if progress != nil {
		close(progress)
		wg.Wait()
	}
	if err != nil {
		return err
	}

	r.writePlainln("✓ %s complete", title)
	r.writePlain("  added: %d  skipped: %d  not found: %d  failed: %d\n",
		result.Added, result.Skipped, result.NotFound, result.Failed)

	if dir := cmd.String("export"); dir != "" {
		exported, err := sess.report.WriteExport(dir)
		if err != nil {
			return fmt.Errorf("failed to export report: %w", err)
		}
		r.writePlain("  report: %s\n", exported.ManifestFile)
	}

	return nil
}

func syncFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "reverse",
			Usage: "Sync from Tidal back to Spotify",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Cap on source items processed (0 = all)",
		},
		&cli.BoolFlag{
			Name:  "no-progress",
			Usage: "Disable the terminal progress display",
		},
		&cli.StringFlag{
			Name:  "export",
			Usage: "Directory to write synced/not-found CSVs and a manifest",
		},
	}
}

// syncCommand handles favorites and playlist sync operations.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync library items between Spotify and Tidal",
		Commands: []*cli.Command{
			{
				Name:    "favorites",
				Aliases: []string{"tracks"},
				Usage:   "Sync saved tracks",
				Flags:   syncFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Bool("reverse") {
						return r.runSync(ctx, cmd, "Favorite tracks (Tidal → Spotify)",
							func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
								return e.SyncFavoriteTracksToSource(ctx, p)
							})
					}
					return r.runSync(ctx, cmd, "Favorite tracks (Spotify → Tidal)",
						func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
							return e.SyncFavoriteTracks(ctx, p)
						})
				},
			},
			{
				Name:  "albums",
				Usage: "Sync saved albums",
				Flags: syncFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Bool("reverse") {
						return r.runSync(ctx, cmd, "Albums (Tidal → Spotify)",
							func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
								return e.SyncFavoriteAlbumsToSource(ctx, p)
							})
					}
					return r.runSync(ctx, cmd, "Albums (Spotify → Tidal)",
						func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
							return e.SyncFavoriteAlbums(ctx, p)
						})
				},
			},
			{
				Name:  "artists",
				Usage: "Sync followed artists",
				Flags: syncFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Bool("reverse") {
						return r.runSync(ctx, cmd, "Artists (Tidal → Spotify)",
							func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
								return e.SyncFavoriteArtistsToSource(ctx, p)
							})
					}
					return r.runSync(ctx, cmd, "Artists (Spotify → Tidal)",
						func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
							return e.SyncFollowedArtists(ctx, p)
						})
				},
			},
			{
				Name:  "playlist",
				Usage: "Sync one playlist by name or id",
				Flags: append(syncFlags(), &cli.StringFlag{
					Name:     "name",
					Usage:    "Source playlist name or ID",
					Required: true,
				}),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.String("name")
					return r.runSync(ctx, cmd, fmt.Sprintf("Playlist %q", name),
						func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
							playlist, err := r.findSourcePlaylist(ctx, name)
							if err != nil {
								return tasks.Result{}, err
							}
							return e.SyncPlaylist(ctx, p, *playlist)
						})
				},
			},
			{
				Name:  "playlists",
				Usage: "Sync every playlist",
				Flags: syncFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.runSync(ctx, cmd, "All playlists",
						func(ctx context.Context, e *tasks.SyncEngine, p chan<- tasks.ProgressUpdate) (tasks.Result, error) {
							return e.SyncAllPlaylists(ctx, p)
						})
				},
			},
		},
	}
}

// findSourcePlaylist resolves a playlist by ID first, then by exact name.
func (r *Runner) findSourcePlaylist(ctx context.Context, nameOrID string) (*services.Playlist, error) {
	creds := r.config.Credentials
	spotify, err := services.NewSpotifyService(creds.Spotify.ClientID, creds.Spotify.ClientSecret, creds.Spotify.RedirectURI)
	if err != nil {
		return nil, err
	}
	if err := spotify.Authenticate(ctx, creds.Spotify.AccessToken, creds.Spotify.RefreshToken); err != nil {
		return nil, err
	}

	playlists, err := spotify.Playlists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}

	for _, pl := range playlists {
		if pl.ID == nameOrID || pl.Name == nameOrID {
			return &pl, nil
		}
	}
	return nil, fmt.Errorf("no playlist found with name or id %q", nameOrID)
}
