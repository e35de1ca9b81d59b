// package cache implements the persistent match cache that makes repeated
// sync runs cheap and idempotent.
//
// Successful matches are remembered per entity kind; searches that found
// nothing are backed off exponentially so they are not repeated until their
// retry window elapses.
package cache

import (
	"database/sql"
	"fmt"
	"time"
)

// Kind selects which match table an entry belongs to.
type Kind string

const (
	KindTrack  Kind = "track"
	KindAlbum  Kind = "album"
	KindArtist Kind = "artist"
)

const (
	// InitialFailureBackoff is the retry window after a first failed search.
	InitialFailureBackoff = 24 * time.Hour

	// MaxFailureBackoff caps the doubling growth of the retry window.
	MaxFailureBackoff = 30 * 24 * time.Hour
)

func (k Kind) table() (string, error) {
	switch k {
	case KindTrack:
		return "track_matches", nil
	case KindAlbum:
		return "album_matches", nil
	case KindArtist:
		return "artist_matches", nil
	default:
		return "", fmt.Errorf("unknown cache kind: %q", k)
	}
}

// MatchCache is a sqlite-backed store of source-to-target identifier
// matches plus a ledger of failed searches.
//
// An empty target identifier is a valid cached value meaning "confirmed no
// match, do not re-search"; it is distinct from a row that does not exist.
type MatchCache struct {
	db *sql.DB
}

// New creates a MatchCache on an open database. Migrations must already
// have been applied.
func New(db *sql.DB) *MatchCache {
	return &MatchCache{db: db}
}

// GetMatch returns the cached target identifier for a source item. The
// second return value reports whether any entry exists; an existing entry
// with an empty identifier is a cached "no match".
func (c *MatchCache) GetMatch(kind Kind, sourceID string) (string, bool, error) {
	table, err := kind.table()
	if err != nil {
		return "", false, err
	}

	var targetID string
	query := fmt.Sprintf("SELECT target_id FROM %s WHERE source_id = ?", table)
	err = c.db.QueryRow(query, sourceID).Scan(&targetID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s match: %w", kind, err)
	}

	return targetID, true, nil
}

// GetReverseMatch returns the source identifier previously matched to the
// given target identifier, if any. Confirmed-no-match rows never satisfy a
// reverse lookup.
func (c *MatchCache) GetReverseMatch(kind Kind, targetID string) (string, bool, error) {
	if targetID == "" {
		return "", false, nil
	}

	table, err := kind.table()
	if err != nil {
		return "", false, err
	}

	var sourceID string
	query := fmt.Sprintf("SELECT source_id FROM %s WHERE target_id = ? LIMIT 1", table)
	err = c.db.QueryRow(query, targetID).Scan(&sourceID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read reverse %s match: %w", kind, err)
	}

	return sourceID, true, nil
}

// PutMatch records a match as an idempotent upsert. A non-empty target
// identifier also removes any stale failure entry for the same key, so a
// key is never simultaneously matched and backed off.
func (c *MatchCache) PutMatch(kind Kind, sourceID, targetID string) error {
	table, err := kind.table()
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (source_id, target_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET target_id = excluded.target_id, created_at = excluded.created_at
	`, table)

	if _, err := tx.Exec(query, sourceID, targetID, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert %s match: %w", kind, err)
	}

	if targetID != "" {
		if _, err := tx.Exec("DELETE FROM search_failures WHERE source_id = ?", sourceID); err != nil {
			return fmt.Errorf("failed to clear stale failure: %w", err)
		}
	}

	return tx.Commit()
}

// HasRecentFailure reports whether a failed search for this key is still
// inside its backoff window at the given instant.
func (c *MatchCache) HasRecentFailure(sourceID string, now time.Time) (bool, error) {
	var retryAfter time.Time
	err := c.db.QueryRow("SELECT retry_after FROM search_failures WHERE source_id = ?", sourceID).Scan(&retryAfter)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read failure entry: %w", err)
	}

	return now.Before(retryAfter), nil
}

// RecordFailure notes that a search found nothing. A first failure backs the
// key off for one day; each repeat doubles the previous window, capped at
// thirty days. The entry's created_at is refreshed so the next doubling is
// computed against the latest failure.
func (c *MatchCache) RecordFailure(sourceID string, now time.Time) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	interval := InitialFailureBackoff

	var createdAt, retryAfter time.Time
	err = tx.QueryRow("SELECT created_at, retry_after FROM search_failures WHERE source_id = ?", sourceID).
		Scan(&createdAt, &retryAfter)
	switch {
	case err == sql.ErrNoRows:
		// First failure keeps the initial window.
	case err != nil:
		return fmt.Errorf("failed to read prior failure: %w", err)
	default:
		interval = 2 * retryAfter.Sub(createdAt)
		if interval < InitialFailureBackoff {
			interval = InitialFailureBackoff
		}
		if interval > MaxFailureBackoff {
			interval = MaxFailureBackoff
		}
	}

	query := `
		INSERT INTO search_failures (source_id, created_at, retry_after)
		VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET created_at = excluded.created_at, retry_after = excluded.retry_after
	`
	if _, err := tx.Exec(query, sourceID, now, now.Add(interval)); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}

	return tx.Commit()
}

// ClearFailure deletes the failure entry for a key, if present.
func (c *MatchCache) ClearFailure(sourceID string) error {
	if _, err := c.db.Exec("DELETE FROM search_failures WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to clear failure: %w", err)
	}
	return nil
}

// ClearAll empties every match table and the failure ledger.
func (c *MatchCache) ClearAll() error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"track_matches", "album_matches", "artist_matches", "search_failures"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// Stats reports row counts per table.
type Stats struct {
	TrackMatches  int
	AlbumMatches  int
	ArtistMatches int
	Failures      int
}

// Stats returns cache statistics for CLI display.
func (c *MatchCache) Stats() (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table  string
		target *int
	}{
		{"track_matches", &stats.TrackMatches},
		{"album_matches", &stats.AlbumMatches},
		{"artist_matches", &stats.ArtistMatches},
		{"search_failures", &stats.Failures},
	}

	for _, c2 := range counts {
		if err := c.db.QueryRow("SELECT COUNT(*) FROM " + c2.table).Scan(c2.target); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c2.table, err)
		}
	}

	return stats, nil
}
