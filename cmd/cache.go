package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/tdx/internal/cache"
)

// CacheStats prints row counts for the match tables and the failure ledger.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := cache.New(db).Stats()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}

	r.writePlain("track matches:  %d\n", stats.TrackMatches)
	r.writePlain("album matches:  %d\n", stats.AlbumMatches)
	r.writePlain("artist matches: %d\n", stats.ArtistMatches)
	r.writePlain("failures:       %d\n", stats.Failures)
	return nil
}

// CacheClear removes every stored match and failure entry.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := cache.New(db).ClearAll(); err != nil {
		return err
	}
	r.writePlain("✓ cache cleared\n")
	return nil
}

// cacheCommand handles match cache inspection and maintenance.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and maintain the match cache",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show match and failure counts",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.CacheStats,
			},
			{
				Name:  "clear",
				Usage: "Delete all cached matches and failures",
				Action: r.CacheClear,
			},
		},
	}
}
