// package library collects per-run sync outcomes and exports them to CSV
// and JSON files for later review.
package library

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/desertthunder/tdx/internal/services"
)

// Entry is one recorded item outcome.
type Entry struct {
	Kind     string  `json:"kind"`
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id,omitempty"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	ISRC     string  `json:"isrc,omitempty"`
}

// TrackEntry builds an Entry from a track.
func TrackEntry(t services.Track, targetID string) Entry {
	return Entry{
		Kind:     "track",
		SourceID: t.ID,
		TargetID: targetID,
		Name:     t.Title,
		Artist:   t.PrimaryArtist(),
		Album:    t.Album,
		Duration: t.Duration,
		ISRC:     t.ISRC,
	}
}

// AlbumEntry builds an Entry from an album.
func AlbumEntry(a services.Album, targetID string) Entry {
	return Entry{
		Kind:     "album",
		SourceID: a.ID,
		TargetID: targetID,
		Name:     a.Name,
		Artist:   a.PrimaryArtist(),
	}
}

// ArtistEntry builds an Entry from an artist.
func ArtistEntry(a services.Artist, targetID string) Entry {
	return Entry{
		Kind:     "artist",
		SourceID: a.ID,
		TargetID: targetID,
		Name:     a.Name,
	}
}

// Report accumulates synced and not-found items for one session. Safe for
// concurrent use.
type Report struct {
	mu        sync.Mutex
	sessionID string
	startedAt time.Time
	synced    []Entry
	notFound  []Entry
}

// NewReport creates an empty report for a session.
func NewReport(sessionID string) *Report {
	return &Report{
		sessionID: sessionID,
		startedAt: time.Now(),
	}
}

// AddSynced records a successfully resolved item.
func (r *Report) AddSynced(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, e)
}

// AddNotFound records an item with no counterpart on the target.
func (r *Report) AddNotFound(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = append(r.notFound, e)
}

// NotFound returns a copy of the not-found entries.
func (r *Report) NotFound() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.notFound))
	copy(out, r.notFound)
	return out
}

// Synced returns a copy of the synced entries.
func (r *Report) Synced() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.synced))
	copy(out, r.synced)
	return out
}

// entriesToCSV renders entries with columns: Kind, SourceID, TargetID,
// Name, Artist, Album, Duration, ISRC.
func entriesToCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Kind", "SourceID", "TargetID", "Name", "Artist", "Album", "Duration", "ISRC"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.Kind,
			e.SourceID,
			e.TargetID,
			e.Name,
			e.Artist,
			e.Album,
			strconv.FormatFloat(e.Duration, 'f', -1, 64),
			e.ISRC,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportResult contains the paths of files created by WriteExport.
type ExportResult struct {
	SyncedFile   string
	NotFoundFile string
	ManifestFile string
}

// manifest is the JSON summary written next to the CSV files.
type manifest struct {
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Synced     int       `json:"synced"`
	NotFound   int       `json:"not_found"`
	Entries    []Entry   `json:"not_found_entries,omitempty"`
}

// WriteExport writes synced.csv, not_found.csv and manifest.json into dir,
// creating it if needed.
func (r *Report) WriteExport(dir string) (*ExportResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	r.mu.Lock()
	synced := make([]Entry, len(r.synced))
	copy(synced, r.synced)
	notFound := make([]Entry, len(r.notFound))
	copy(notFound, r.notFound)
	sessionID := r.sessionID
	startedAt := r.startedAt
	r.mu.Unlock()

	result := &ExportResult{}

	syncedCSV, err := entriesToCSV(synced)
	if err != nil {
		return nil, err
	}
	result.SyncedFile = filepath.Join(dir, "synced.csv")
	if err := os.WriteFile(result.SyncedFile, syncedCSV, 0644); err != nil {
		return nil, fmt.Errorf("failed to write synced CSV: %w", err)
	}

	notFoundCSV, err := entriesToCSV(notFound)
	if err != nil {
		return nil, err
	}
	result.NotFoundFile = filepath.Join(dir, "not_found.csv")
	if err := os.WriteFile(result.NotFoundFile, notFoundCSV, 0644); err != nil {
		return nil, fmt.Errorf("failed to write not-found CSV: %w", err)
	}

	data, err := json.MarshalIndent(manifest{
		SessionID:  sessionID,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Synced:     len(synced),
		NotFound:   len(notFound),
		Entries:    notFound,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to generate manifest JSON: %w", err)
	}
	result.ManifestFile = filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(result.ManifestFile, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	return result, nil
}
