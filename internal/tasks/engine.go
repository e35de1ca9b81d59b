package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/desertthunder/tdx/internal/cache"
	"github.com/desertthunder/tdx/internal/library"
	"github.com/desertthunder/tdx/internal/ratelimit"
	"github.com/desertthunder/tdx/internal/services"
)

const (
	favoriteBatchSize = 50
	playlistBatchSize = 100
)

// Finder resolves items of every kind to an identifier on the other
// platform. Implemented by both searcher directions.
type Finder interface {
	FindTrack(ctx context.Context, track services.Track) (string, error)
	FindAlbum(ctx context.Context, album services.Album) (string, error)
	FindArtist(ctx context.Context, artist services.Artist) (string, error)
}

// SyncEngine orchestrates sync runs between the source and target services.
// The limiter and cache are shared across every operation in a session.
type SyncEngine struct {
	source  services.SourceService
	target  services.TargetService
	forward Finder // source item → target id
	reverse Finder // target item → source id

	cache   *cache.MatchCache
	limiter *ratelimit.RateLimiter
	logger  *log.Logger
	report  *library.Report

	sessionID string
	itemLimit int
}

// NewSyncEngine creates an engine for one session. report may be nil when no
// export sink is wanted; itemLimit of 0 means no cap.
func NewSyncEngine(
	source services.SourceService,
	target services.TargetService,
	forward, reverse Finder,
	mc *cache.MatchCache,
	limiter *ratelimit.RateLimiter,
	logger *log.Logger,
	report *library.Report,
	itemLimit int,
) *SyncEngine {
	sessionID := uuid.NewString()
	return &SyncEngine{
		source:    source,
		target:    target,
		forward:   forward,
		reverse:   reverse,
		cache:     mc,
		limiter:   limiter,
		logger:    logger.With("session", sessionID),
		report:    report,
		sessionID: sessionID,
		itemLimit: itemLimit,
	}
}

// SessionID returns the identifier stamped on this engine's log lines.
func (e *SyncEngine) SessionID() string {
	return e.sessionID
}

func (e *SyncEngine) inCache(kind cache.Kind) func(id string) bool {
	return func(id string) bool {
		_, found, err := e.cache.GetMatch(kind, id)
		return err == nil && found
	}
}

func (e *SyncEngine) inReverseCache(kind cache.Kind) func(id string) bool {
	return func(id string) bool {
		_, found, err := e.cache.GetReverseMatch(kind, id)
		return err == nil && found
	}
}

func describeTrack(t services.Track) string {
	return fmt.Sprintf("%s - %s", t.PrimaryArtist(), t.Title)
}

// SyncFavoriteTracks mirrors the source's saved tracks into the target's
// favorites, one add per item, oldest first so the target's
// newest-first listing ends up in original order.
func (e *SyncEngine) SyncFavoriteTracks(ctx context.Context, progress chan<- ProgressUpdate) (Result, error) {
	cfg := SyncConfig[services.Track]{
		Kind:          "track",
		FetchSource:   e.source.SavedTracks,
		FetchExisting: e.target.FavoriteTrackIDs,
		SourceID:      func(t services.Track) string { return t.ID },
		Describe:      describeTrack,
		HasRequired:   func(t services.Track) bool { return t.Title != "" && len(t.Artists) > 0 },
		InCache:       e.inCache(cache.KindTrack),
		Find:          e.forward.FindTrack,
		Add:           e.target.AddFavoriteTrack,
		ReverseOrder:  true,
		Limit:         e.itemLimit,
		NotFound: func(t services.Track) {
			e.recordNotFound(library.TrackEntry(t, ""))
		},
		Synced: func(t services.Track, targetID string) {
			e.recordSynced(library.TrackEntry(t, targetID))
		},
	}
	return SyncItems(ctx, e.limiter, e.logger, progress, cfg)
}

// SyncFavoriteAlbums mirrors saved albums into target favorites.
func (e *SyncEngine) SyncFavoriteAlbums(ctx context.Context, progress chan<- ProgressUpdate) (Result, error) {
	cfg := SyncConfig[services.Album]{
		Kind:          "album",
		FetchSource:   e.source.SavedAlbums,
		FetchExisting: e.target.FavoriteAlbumIDs,
		SourceID:      func(a services.Album) string { return a.ID },
		Describe:      func(a services.Album) string { return fmt.Sprintf("%s - %s", a.PrimaryArtist(), a.Name) },
		HasRequired:   func(a services.Album) bool { return a.Name != "" && len(a.Artists) > 0 },
		InCache:       e.inCache(cache.KindAlbum),
		Find:          e.forward.FindAlbum,
		Add:           e.target.AddFavoriteAlbum,
		ReverseOrder:  true,
		Limit:         e.itemLimit,
		NotFound: func(a services.Album) {
			e.recordNotFound(library.AlbumEntry(a, ""))
		},
		Synced: func(a services.Album, targetID string) {
			e.recordSynced(library.AlbumEntry(a, targetID))
		},
	}
	return SyncItems(ctx, e.limiter, e.logger, progress, cfg)
}

// SyncFollowedArtists mirrors followed artists into target favorites.
func (e *SyncEngine) SyncFollowedArtists(ctx context.Context, progress chan<- ProgressUpdate) (Result, error) {
	cfg := SyncConfig[services.Artist]{
		Kind:          "artist",
		FetchSource:   e.source.FollowedArtists,
		FetchExisting: e.target.FavoriteArtistIDs,
		SourceID:      func(a services.Artist) string { return a.ID },
		Describe:      func(a services.Artist) string { return a.Name },
		HasRequired:   func(a services.Artist) bool { return a.Name != "" },
		InCache:       e.inCache(cache.KindArtist),
		Find:          e.forward.FindArtist,
		Add:           e.target.AddFavoriteArtist,
		ReverseOrder:  true,
		Limit:         e.itemLimit,
		NotFound: func(a services.Artist) {
			e.recordNotFound(library.ArtistEntry(a, ""))
		},
		Synced: func(a services.Artist, targetID string) {
			e.recordSynced(library.ArtistEntry(a, targetID))
		},
	}
	return SyncItems(ctx, e.limiter, e.logger, progress, cfg)
}

// SyncPlaylist copies one source playlist into a same-named target
// playlist, creating it when absent. Adds run in batches of 100.
func (e *SyncEngine) SyncPlaylist(ctx context.Context, progress chan<- ProgressUpdate, playlist services.Playlist) (Result, error) {
	targetPlaylist, err := e.findOrCreatePlaylist(ctx, progress, playlist)
	if err != nil {
		return Result{}, err
	}

	cfg := SyncConfig[services.Track]{
		Kind: "playlist track",
		FetchSource: func(ctx context.Context) ([]services.Track, error) {
			return e.source.PlaylistTracks(ctx, playlist.ID)
		},
		FetchExisting: func(ctx context.Context) (map[string]struct{}, error) {
			return e.target.PlaylistTrackIDs(ctx, targetPlaylist.ID)
		},
		SourceID:    func(t services.Track) string { return t.ID },
		Describe:    describeTrack,
		HasRequired: func(t services.Track) bool { return t.Title != "" && len(t.Artists) > 0 },
		InCache:     e.inCache(cache.KindTrack),
		Find:        e.forward.FindTrack,
		AddBatch: func(ctx context.Context, ids []string) error {
			return e.target.AddPlaylistTracks(ctx, targetPlaylist.ID, ids)
		},
		BatchSize: playlistBatchSize,
		Limit:     e.itemLimit,
		NotFound: func(t services.Track) {
			e.recordNotFound(library.TrackEntry(t, ""))
		},
		Synced: func(t services.Track, targetID string) {
			e.recordSynced(library.TrackEntry(t, targetID))
		},
	}
	return SyncItemsBatched(ctx, e.limiter, e.logger, progress, cfg)
}

// SyncAllPlaylists runs SyncPlaylist over every source playlist,
// aggregating counts. A failed playlist is logged and skipped.
func (e *SyncEngine) SyncAllPlaylists(ctx context.Context, progress chan<- ProgressUpdate) (Result, error) {
	playlists, err := e.source.Playlists(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list playlists: %w", err)
	}

	var total Result
	for _, pl := range playlists {
		result, err := e.SyncPlaylist(ctx, progress, pl)
		if err != nil {
			e.logger.Error("playlist sync failed", "playlist", pl.Name, "err", err)
			continue
		}
		total.Added += result.Added
		total.Skipped += result.Skipped
		total.Failed += result.Failed
		total.NotFound += result.NotFound
	}
	return total, nil
}

// findOrCreatePlaylist matches the source playlist by name on the target,
// case-insensitive, creating it when no target playlist has that name.
func (e *SyncEngine) findOrCreatePlaylist(ctx context.Context, progress chan<- ProgressUpdate, playlist services.Playlist) (*services.Playlist, error) {
	existing, err := e.target.Playlists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list target playlists: %w", err)
	}

	for _, pl := range existing {
		if strings.EqualFold(pl.Name, playlist.Name) {
			return &pl, nil
		}
	}

	sendProgress(progress, createPlaylistUpdate(playlist.Name))
	created, err := e.target.CreatePlaylist(ctx, playlist.Name, playlist.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist %q: %w", playlist.Name, err)
	}
	e.logger.Info("created playlist", "name", created.Name, "id", created.ID)
	return created, nil
}

// SyncFavoriteTracksToSource mirrors target favorites back into the
// source's saved tracks, batched 50 at a time.
func (e *SyncEngine) SyncFavoriteTracksToSource(ctx context.Context, progress chan<- ProgressUpdate) (Result, error) {
	cfg := SyncConfig[services.Track]{
		Kind:          "track",
		FetchSource:   e.target.FavoriteTracks,
		FetchExisting: e.source.SavedTrackIDs,
		SourceID:      func(t services.Track) string { return t.ID },
		Describe:      describeTrack,
		HasRequired:   func(t services.Track) bool { return t.Title != "" && len(t.Artists) > 0 },
		InCache:       e.inReverseCache(cache.KindTrack),
		Find:          e.reverse.FindTrack,
		AddBatch:      e.source.SaveTracks,
		BatchSize:     favoriteBatchSize,
		Limit:         e.itemLimit,
		NotFound: func(t services.Track) {
			e.recordNotFound(library.TrackEntry(t, ""))
		},
		Synced: func(t services.Track, targetID string) {
			e.recordSynced(library.TrackEntry(t, targetID))
		},
	}
	return SyncItemsBatched(ctx, e.limiter, e.logger, progress, cfg)
}

// SyncFavoriteAlbumsToSource mirrors target favorite albums back into the
// source library.
func (e *SyncEngine) SyncFavoriteAlbumsToSource(ctx context.Context, progress chan<- ProgressUpdate) (Result, error) {
	cfg := SyncConfig[services.Album]{
		Kind:          "album",
		FetchSource:   e.target.FavoriteAlbums,
		FetchExisting: e.source.SavedAlbumIDs,
		SourceID:      func(a services.Album) string { return a.ID },
		Describe:      func(a services.Album) string { return fmt.Sprintf("%s - %s", a.PrimaryArtist(), a.Name) },
		HasRequired:   func(a services.Album) bool { return a.Name != "" && len(a.Artists) > 0 },
		InCache:       e.inReverseCache(cache.KindAlbum),
		Find:          e.reverse.FindAlbum,
		AddBatch:      e.source.SaveAlbums,
		BatchSize:     favoriteBatchSize,
		Limit:         e.itemLimit,
		NotFound: func(a services.Album) {
			e.recordNotFound(library.AlbumEntry(a, ""))
		},
		Synced: func(a services.Album, targetID string) {
			e.recordSynced(library.AlbumEntry(a, targetID))
		},
	}
	return SyncItemsBatched(ctx, e.limiter, e.logger, progress, cfg)
}

// SyncFavoriteArtistsToSource mirrors target favorite artists back into
// the source's followed artists.
func (e *SyncEngine) SyncFavoriteArtistsToSource(ctx context.Context, progress chan<- ProgressUpdate) (Result, error) {
	cfg := SyncConfig[services.Artist]{
		Kind:          "artist",
		FetchSource:   e.target.FavoriteArtists,
		FetchExisting: e.source.FollowedArtistIDs,
		SourceID:      func(a services.Artist) string { return a.ID },
		Describe:      func(a services.Artist) string { return a.Name },
		HasRequired:   func(a services.Artist) bool { return a.Name != "" },
		InCache:       e.inReverseCache(cache.KindArtist),
		Find:          e.reverse.FindArtist,
		AddBatch:      e.source.FollowArtists,
		BatchSize:     favoriteBatchSize,
		Limit:         e.itemLimit,
		NotFound: func(a services.Artist) {
			e.recordNotFound(library.ArtistEntry(a, ""))
		},
		Synced: func(a services.Artist, targetID string) {
			e.recordSynced(library.ArtistEntry(a, targetID))
		},
	}
	return SyncItemsBatched(ctx, e.limiter, e.logger, progress, cfg)
}

func (e *SyncEngine) recordNotFound(entry library.Entry) {
	if e.report != nil {
		e.report.AddNotFound(entry)
	}
}

func (e *SyncEngine) recordSynced(entry library.Entry) {
	if e.report != nil {
		e.report.AddSynced(entry)
	}
}
