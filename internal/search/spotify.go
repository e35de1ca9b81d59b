package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tdx/internal/cache"
	"github.com/desertthunder/tdx/internal/matching"
	"github.com/desertthunder/tdx/internal/ratelimit"
	"github.com/desertthunder/tdx/internal/retry"
	"github.com/desertthunder/tdx/internal/services"
)

// Reverse lookups fetch few candidates and accept a wider duration delta;
// most reverse hits come straight from the ISRC index.
const (
	reverseSearchLimit = 10
	reverseTolerance   = matching.ReverseDurationTolerance
)

// SourceClient is the slice of the Spotify surface the reverse searcher needs.
type SourceClient interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]services.Track, error)
	SearchTrackByISRC(ctx context.Context, isrc string) (*services.Track, error)
	SearchAlbums(ctx context.Context, query string, limit int) ([]services.Album, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]services.Artist, error)
}

// SpotifySearcher finds Spotify identifiers for Tidal items. It shares the
// match tables with the forward direction: stored pairs are read by target
// id, and failure ledger keys carry a "tidal:" prefix so the two directions
// never collide.
type SpotifySearcher struct {
	client  SourceClient
	cache   *cache.MatchCache
	limiter *ratelimit.RateLimiter
	policy  retry.Policy
	logger  *log.Logger
	now     func() time.Time
}

// NewSpotifySearcher creates a reverse searcher over the given collaborators.
func NewSpotifySearcher(client SourceClient, mc *cache.MatchCache, limiter *ratelimit.RateLimiter, policy retry.Policy, logger *log.Logger) *SpotifySearcher {
	return &SpotifySearcher{
		client:  client,
		cache:   mc,
		limiter: limiter,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

func reverseFailureKey(id string) string {
	return "tidal:" + id
}

// FindTrack locates the Spotify track matching a Tidal track.
//
// The ISRC index is authoritative when the source carries a code; the
// metadata search only runs when the ISRC path produced nothing.
func (s *SpotifySearcher) FindTrack(ctx context.Context, track services.Track) (string, error) {
	if track.ID == "" {
		return "", nil
	}

	if cached, found, err := s.cache.GetReverseMatch(cache.KindTrack, track.ID); err != nil {
		return "", err
	} else if found {
		return cached, nil
	}

	key := reverseFailureKey(track.ID)
	if recent, err := s.cache.HasRecentFailure(key, s.now()); err != nil {
		return "", err
	} else if recent {
		return "", nil
	}

	id := s.searchByISRC(ctx, track)
	if id == "" {
		id = s.searchByMetadata(ctx, track)
	}

	return s.finish(cache.KindTrack, id, track.ID, key)
}

// finish persists a reverse result: a found pair is stored under the
// Spotify id with the failure key cleared, a miss extends the ledger.
func (s *SpotifySearcher) finish(kind cache.Kind, spotifyID, tidalID, failureKey string) (string, error) {
	if spotifyID != "" {
		if err := s.cache.PutMatch(kind, spotifyID, tidalID); err != nil {
			return "", err
		}
		if err := s.cache.ClearFailure(failureKey); err != nil {
			return "", err
		}
		return spotifyID, nil
	}
	if err := s.cache.RecordFailure(failureKey, s.now()); err != nil {
		return "", err
	}
	return "", nil
}

func (s *SpotifySearcher) searchByISRC(ctx context.Context, track services.Track) string {
	if track.ISRC == "" {
		return ""
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	found, err := retry.DoValue(ctx, s.policy, s.logger, func() (*services.Track, error) {
		return s.client.SearchTrackByISRC(ctx, track.ISRC)
	})
	if err != nil {
		s.logger.Warn("isrc search failed", "isrc", track.ISRC, "err", err)
		return ""
	}
	if found == nil {
		return ""
	}
	return found.ID
}

func (s *SpotifySearcher) searchByMetadata(ctx context.Context, track services.Track) string {
	if track.Title == "" || track.PrimaryArtist() == "" {
		return ""
	}

	query := fmt.Sprintf("track:%s artist:%s", matching.Simplify(track.Title), track.PrimaryArtist())

	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	candidates, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Track, error) {
		return s.client.SearchTracks(ctx, query, reverseSearchLimit)
	})
	if err != nil {
		s.logger.Warn("reverse track search failed", "query", query, "err", err)
		return ""
	}

	for _, candidate := range candidates {
		if reverseTracksMatch(track, candidate) {
			return candidate.ID
		}
	}
	return ""
}

// reverseTracksMatch is looser than the forward verdict: containment on
// simplified names instead of qualifier agreement, and a wider duration
// window, since Tidal metadata tends to carry version suffixes Spotify
// folds into the base title.
func reverseTracksMatch(source, candidate services.Track) bool {
	if math.Abs(source.Duration-candidate.Duration) > reverseTolerance {
		return false
	}
	if !namesOverlap(source.Title, candidate.Title) {
		return false
	}
	return matching.ArtistMatch(source.Artists, candidate.Artists)
}

// namesOverlap checks simplified-name cross-containment, retrying with
// diacritics stripped when the raw comparison misses.
func namesOverlap(a, b string) bool {
	sa := strings.ToLower(matching.Simplify(a))
	sb := strings.ToLower(matching.Simplify(b))
	if sa == "" || sb == "" {
		return false
	}
	if strings.Contains(sa, sb) || strings.Contains(sb, sa) {
		return true
	}
	na, nb := matching.Normalize(sa), matching.Normalize(sb)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// FindAlbum locates the Spotify album matching a Tidal album.
func (s *SpotifySearcher) FindAlbum(ctx context.Context, album services.Album) (string, error) {
	if album.ID == "" || album.PrimaryArtist() == "" {
		return "", nil
	}

	if cached, found, err := s.cache.GetReverseMatch(cache.KindAlbum, album.ID); err != nil {
		return "", err
	} else if found {
		return cached, nil
	}

	key := reverseFailureKey(album.ID)
	if recent, err := s.cache.HasRecentFailure(key, s.now()); err != nil {
		return "", err
	} else if recent {
		return "", nil
	}

	id := s.searchAlbumCandidates(ctx, album)
	return s.finish(cache.KindAlbum, id, album.ID, key)
}

func (s *SpotifySearcher) searchAlbumCandidates(ctx context.Context, album services.Album) string {
	query := fmt.Sprintf("album:%s artist:%s", matching.Simplify(album.Name), album.PrimaryArtist())

	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	candidates, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Album, error) {
		return s.client.SearchAlbums(ctx, query, reverseSearchLimit)
	})
	if err != nil {
		s.logger.Warn("reverse album search failed", "query", query, "err", err)
		return ""
	}

	for _, candidate := range candidates {
		if namesOverlap(album.Name, candidate.Name) && matching.ArtistMatch(album.Artists, candidate.Artists) {
			return candidate.ID
		}
	}
	return ""
}

// FindArtist locates the Spotify artist matching a Tidal artist by name.
func (s *SpotifySearcher) FindArtist(ctx context.Context, artist services.Artist) (string, error) {
	if artist.ID == "" || artist.Name == "" {
		return "", nil
	}

	if cached, found, err := s.cache.GetReverseMatch(cache.KindArtist, artist.ID); err != nil {
		return "", err
	} else if found {
		return cached, nil
	}

	key := reverseFailureKey(artist.ID)
	if recent, err := s.cache.HasRecentFailure(key, s.now()); err != nil {
		return "", err
	} else if recent {
		return "", nil
	}

	id := s.searchArtistCandidates(ctx, artist.Name)
	return s.finish(cache.KindArtist, id, artist.ID, key)
}

func (s *SpotifySearcher) searchArtistCandidates(ctx context.Context, name string) string {
	query := "artist:" + name

	if err := s.limiter.Acquire(ctx); err != nil {
		return ""
	}
	defer s.limiter.Release()

	candidates, err := retry.DoValue(ctx, s.policy, s.logger, func() ([]services.Artist, error) {
		return s.client.SearchArtists(ctx, query, reverseSearchLimit)
	})
	if err != nil {
		s.logger.Warn("reverse artist search failed", "name", name, "err", err)
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
