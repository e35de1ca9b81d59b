// package search combines cache lookup, rate-limited remote search, and
// match verdicts into a single find-or-null operation per entity kind.
//
// A transport fault on one query path is logged and treated as "no
// candidate from that path" so the fallback path still runs; only a broken
// cache store aborts a search.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tdx/internal/cache"
	"github.com/desertthunder/tdx/internal/matching"
	"github.com/desertthunder/tdx/internal/ratelimit"
	"github.com/desertthunder/tdx/internal/retry"
	"github.com/desertthunder/tdx/internal/services"
)

// TargetClient is the slice of the Tidal surface the forward searcher needs.
type TargetClient interface {
	SearchTracks(ctx context.Context, query string) ([]services.Track, error)
	SearchAlbums(ctx context.Context, query string) ([]services.Album, error)
	SearchArtists(ctx context.Context, query string) ([]services.Artist, error)
	AlbumTracks(ctx context.Context, albumID string) ([]services.Track, error)
}

// TidalSearcher finds Tidal identifiers for Spotify items.
//
// Find methods return the empty string for "no match"; an error return
// means the search session itself is unusable (cache store failure).
type TidalSearcher struct {
	client  TargetClient
	cache   *cache.MatchCache
	limiter *ratelimit.RateLimiter
	policy  retry.Policy
	logger  *log.Logger
	now     func() time.Time
}

// NewTidalSearcher creates a searcher over the given collaborators.
func NewTidalSearcher(client TargetClient, mc *cache.MatchCache, limiter *ratelimit.RateLimiter, policy retry.Policy, logger *log.Logger) *TidalSearcher {
	return &TidalSearcher{
		client:  client,
		cache:   mc,
		limiter: limiter,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

// FindTrack locates the Tidal track matching a Spotify track.
//
// An album-scoped search runs first because album-qualified queries are
// materially more precise than flat track search; the flat search is the
// fallback. Results, including confirmed failures, are persisted.
func (s *TidalSearcher) FindTrack(ctx context.Context, track services.Track) (string, error) {
	if track.ID == "" {
		return "", nil
	}

	if cached, found, err := s.cache.GetMatch(cache.KindTrack, track.ID); err != nil {
		return "", err
	} else if found {
		return cached, nil
	}

	if recent, err := s.cache.HasRecentFailure(track.ID, s.now()); err != nil {
		return "", err
	} else if recent {
		return "", nil
	}

	id := s.searchByAlbum(ctx, track)
	if id == "" {
		id = s.searchByTrack(ctx, track)
	}

	if id != "" {
		if err := s.cache.PutMatch(cache.KindTrack, track.ID, id); err != nil {
			return "", err
		}
		return id, nil
	}

	if err := s.cache.RecordFailure(track.ID, s.now()); err != nil {
		return "", err
	}
	return "", nil
}

// searchByAlbum searches for the source album, verifies an album-level
// match, then checks the expected track-number slot against the full
// verdict.
func (s *TidalSearcher) searchByAlbum(ctx context.Context, track services.Track) string {
	if track.Album == "" || track.PrimaryAlbumArtist() == "" || track.TrackNumber < 1 {
		return ""
	}

	query := matching.Simplify(track.Album) + " " + matching.Simplify(track.PrimaryAlbumArtist())

	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	albums, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Album, error) {
		return s.client.SearchAlbums(ctx, query)
	})
	if err != nil {
		s.logger.Warn("album search failed", "query", query, "err", err)
		return ""
	}

	sourceAlbum := services.Album{Name: track.Album, Artists: track.AlbumArtists}
	if len(sourceAlbum.Artists) == 0 {
		sourceAlbum.Artists = track.Artists
	}

	for _, candidate := range albums {
		if !matching.AlbumMatch(sourceAlbum, candidate) {
			continue
		}
		if candidate.NumTracks < track.TrackNumber {
			continue
		}

		tracks, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Track, error) {
			return s.client.AlbumTracks(ctx, candidate.ID)
		})
		if err != nil {
			s.logger.Warn("album track listing failed", "album", candidate.ID, "err", err)
			continue
		}

		if len(tracks) >= track.TrackNumber {
			slot := tracks[track.TrackNumber-1]
			if slot.Available && matching.MatchTrack(track, slot) {
				return slot.ID
			}
		}
	}

	return ""
}

// searchByTrack is the flat fallback: track name plus primary artist,
// accepting the first available candidate that satisfies the full verdict.
func (s *TidalSearcher) searchByTrack(ctx context.Context, track services.Track) string {
	if track.PrimaryArtist() == "" {
		return ""
	}

	query := matching.Simplify(track.Title) + " " + matching.Simplify(track.PrimaryArtist())

	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	candidates, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Track, error) {
		return s.client.SearchTracks(ctx, query)
	})
	if err != nil {
		s.logger.Warn("track search failed", "query", query, "err", err)
		return ""
	}

	for _, candidate := range candidates {
		if candidate.Available && matching.MatchTrack(track, candidate) {
			return candidate.ID
		}
	}

	return ""
}

// FindAlbum locates the Tidal album matching a Spotify album.
func (s *TidalSearcher) FindAlbum(ctx context.Context, album services.Album) (string, error) {
	if album.ID == "" || album.PrimaryArtist() == "" {
		return "", nil
	}

	if cached, found, err := s.cache.GetMatch(cache.KindAlbum, album.ID); err != nil {
		return "", err
	} else if found {
		return cached, nil
	}

	if recent, err := s.cache.HasRecentFailure(album.ID, s.now()); err != nil {
		return "", err
	} else if recent {
		return "", nil
	}

	query := matching.Simplify(album.Name) + " " + matching.Simplify(album.PrimaryArtist())
	id := s.scanAlbums(ctx, query, album)

	if id != "" {
		if err := s.cache.PutMatch(cache.KindAlbum, album.ID, id); err != nil {
			return "", err
		}
		return id, nil
	}

	if err := s.cache.RecordFailure(album.ID, s.now()); err != nil {
		return "", err
	}
	return "", nil
}

func (s *TidalSearcher) scanAlbums(ctx context.Context, query string, album services.Album) string {
	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	candidates, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Album, error) {
		return s.client.SearchAlbums(ctx, query)
	})
	if err != nil {
		s.logger.Warn("album search failed", "query", query, "err", err)
		return ""
	}

	for _, candidate := range candidates {
		if matching.AlbumMatch(album, candidate) {
			return candidate.ID
		}
	}
	return ""
}

// FindArtist locates the Tidal artist matching a Spotify artist by name,
// case-insensitive exact first, then diacritic-stripped exact.
func (s *TidalSearcher) FindArtist(ctx context.Context, artist services.Artist) (string, error) {
	if artist.ID == "" || artist.Name == "" {
		return "", nil
	}

	if cached, found, err := s.cache.GetMatch(cache.KindArtist, artist.ID); err != nil {
		return "", err
	} else if found {
		return cached, nil
	}

	if recent, err := s.cache.HasRecentFailure(artist.ID, s.now()); err != nil {
		return "", err
	} else if recent {
		return "", nil
	}

	id := s.scanArtists(ctx, artist.Name)

	if id != "" {
		if err := s.cache.PutMatch(cache.KindArtist, artist.ID, id); err != nil {
			return "", err
		}
		return id, nil
	}

	if err := s.cache.RecordFailure(artist.ID, s.now()); err != nil {
		return "", err
	}
	return "", nil
}

func (s *TidalSearcher) scanArtists(ctx context.Context, name string) string {
	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	candidates, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Artist, error) {
		return s.client.SearchArtists(ctx, name)
	})
	if err != nil {
		s.logger.Warn("artist search failed", "name", name, "err", err)
		return ""
	}

	want := strings.ToLower(name)
	for _, candidate := range candidates {
		if strings.ToLower(candidate.Name) == want {
			return candidate.ID
		}
	}
	for _, candidate := range candidates {
		if matching.Normalize(strings.ToLower(candidate.Name)) == matching.Normalize(want) {
			return candidate.ID
		}
	}
	return ""
}
