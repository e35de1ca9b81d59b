package cache

import (
	"database/sql"
	"testing"
	"time"

	"github.com/desertthunder/tdx/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func TestMatchCache_GetPutMatch(t *testing.T) {
	c := New(setupTestDB(t))

	t.Run("absent key", func(t *testing.T) {
		_, found, err := c.GetMatch(KindTrack, "never-seen")
		if err != nil {
			t.Fatalf("GetMatch failed: %v", err)
		}
		if found {
			t.Error("expected no entry for a key never looked up")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		if err := c.PutMatch(KindTrack, "sp1", "td1"); err != nil {
			t.Fatalf("PutMatch failed: %v", err)
		}

		got, found, err := c.GetMatch(KindTrack, "sp1")
		if err != nil {
			t.Fatalf("GetMatch failed: %v", err)
		}
		if !found || got != "td1" {
			t.Errorf("GetMatch = (%q, %v), want (%q, true)", got, found, "td1")
		}
	})

	t.Run("kinds are isolated", func(t *testing.T) {
		if err := c.PutMatch(KindAlbum, "sp1", "album9"); err != nil {
			t.Fatalf("PutMatch failed: %v", err)
		}

		got, _, err := c.GetMatch(KindTrack, "sp1")
		if err != nil {
			t.Fatalf("GetMatch failed: %v", err)
		}
		if got != "td1" {
			t.Errorf("album write leaked into track table: got %q", got)
		}
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		if err := c.PutMatch(KindTrack, "sp1", "td2"); err != nil {
			t.Fatalf("PutMatch failed: %v", err)
		}
		got, _, _ := c.GetMatch(KindTrack, "sp1")
		if got != "td2" {
			t.Errorf("expected last write to win, got %q", got)
		}
	})

	t.Run("confirmed no match", func(t *testing.T) {
		if err := c.PutMatch(KindTrack, "sp-none", ""); err != nil {
			t.Fatalf("PutMatch failed: %v", err)
		}

		got, found, err := c.GetMatch(KindTrack, "sp-none")
		if err != nil {
			t.Fatalf("GetMatch failed: %v", err)
		}
		if !found || got != "" {
			t.Errorf("cached no-match should read as present-but-empty, got (%q, %v)", got, found)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		if err := c.PutMatch(Kind("podcast"), "a", "b"); err == nil {
			t.Error("expected error for unknown kind")
		}
	})
}

func TestMatchCache_ReverseMatch(t *testing.T) {
	c := New(setupTestDB(t))

	if err := c.PutMatch(KindTrack, "sp1", "td1"); err != nil {
		t.Fatalf("PutMatch failed: %v", err)
	}

	got, found, err := c.GetReverseMatch(KindTrack, "td1")
	if err != nil {
		t.Fatalf("GetReverseMatch failed: %v", err)
	}
	if !found || got != "sp1" {
		t.Errorf("GetReverseMatch = (%q, %v), want (%q, true)", got, found, "sp1")
	}

	if _, found, _ := c.GetReverseMatch(KindTrack, "unknown"); found {
		t.Error("expected no reverse entry for unknown target id")
	}

	// Confirmed-no-match rows carry an empty target id and must not be
	// reachable through reverse lookup.
	if err := c.PutMatch(KindTrack, "sp-none", ""); err != nil {
		t.Fatalf("PutMatch failed: %v", err)
	}
	if _, found, _ := c.GetReverseMatch(KindTrack, ""); found {
		t.Error("empty target id must never satisfy a reverse lookup")
	}
}

func TestMatchCache_FailureBackoff(t *testing.T) {
	c := New(setupTestDB(t))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	day := 24 * time.Hour

	retryWindow := func(t *testing.T) time.Duration {
		t.Helper()
		var createdAt, retryAfter time.Time
		err := c.db.QueryRow("SELECT created_at, retry_after FROM search_failures WHERE source_id = ?", "sp1").
			Scan(&createdAt, &retryAfter)
		if err != nil {
			t.Fatalf("failed to read failure row: %v", err)
		}
		return retryAfter.Sub(createdAt)
	}

	if err := c.RecordFailure("sp1", now); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if got := retryWindow(t); got != day {
		t.Errorf("first failure window = %v, want 1 day", got)
	}

	if err := c.RecordFailure("sp1", now); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if got := retryWindow(t); got != 2*day {
		t.Errorf("second failure window = %v, want 2 days", got)
	}

	if err := c.RecordFailure("sp1", now); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if got := retryWindow(t); got != 4*day {
		t.Errorf("third failure window = %v, want 4 days", got)
	}

	// Doubling never exceeds the 30 day cap.
	for i := 0; i < 10; i++ {
		if err := c.RecordFailure("sp1", now); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if got := retryWindow(t); got != 30*day {
		t.Errorf("window after many failures = %v, want 30 day cap", got)
	}
}

func TestMatchCache_HasRecentFailure(t *testing.T) {
	c := New(setupTestDB(t))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := c.RecordFailure("sp1", now); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside window", now.Add(time.Hour), true},
		{"just before expiry", now.Add(24*time.Hour - time.Second), true},
		{"at expiry", now.Add(24 * time.Hour), false},
		{"after expiry", now.Add(48 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.HasRecentFailure("sp1", tt.at)
			if err != nil {
				t.Fatalf("HasRecentFailure failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasRecentFailure at %v = %v, want %v", tt.at, got, tt.want)
			}
		})
	}

	if got, _ := c.HasRecentFailure("never-failed", now); got {
		t.Error("key without failures should report false")
	}
}

func TestMatchCache_ClearFailure(t *testing.T) {
	c := New(setupTestDB(t))
	now := time.Now()

	if err := c.RecordFailure("sp1", now); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := c.ClearFailure("sp1"); err != nil {
		t.Fatalf("ClearFailure failed: %v", err)
	}

	got, err := c.HasRecentFailure("sp1", now)
	if err != nil {
		t.Fatalf("HasRecentFailure failed: %v", err)
	}
	if got {
		t.Error("failure should be gone immediately after ClearFailure")
	}

	// Clearing an absent entry is not an error.
	if err := c.ClearFailure("never-failed"); err != nil {
		t.Errorf("ClearFailure on absent key: %v", err)
	}
}

func TestMatchCache_PutMatchClearsFailure(t *testing.T) {
	c := New(setupTestDB(t))
	now := time.Now()

	if err := c.RecordFailure("sp1", now); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := c.PutMatch(KindTrack, "sp1", "td1"); err != nil {
		t.Fatalf("PutMatch failed: %v", err)
	}

	got, err := c.HasRecentFailure("sp1", now)
	if err != nil {
		t.Fatalf("HasRecentFailure failed: %v", err)
	}
	if got {
		t.Error("a successful match must remove the stale failure entry")
	}

	// Caching a confirmed no-match must not clear the backoff.
	if err := c.RecordFailure("sp2", now); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := c.PutMatch(KindTrack, "sp2", ""); err != nil {
		t.Fatalf("PutMatch failed: %v", err)
	}
	if got, _ := c.HasRecentFailure("sp2", now); !got {
		t.Error("an empty-id upsert should leave the failure entry intact")
	}
}

func TestMatchCache_ClearAllAndStats(t *testing.T) {
	c := New(setupTestDB(t))
	now := time.Now()

	if err := c.PutMatch(KindTrack, "sp1", "td1"); err != nil {
		t.Fatal(err)
	}
	if err := c.PutMatch(KindAlbum, "sp2", "td2"); err != nil {
		t.Fatal(err)
	}
	if err := c.PutMatch(KindArtist, "sp3", "td3"); err != nil {
		t.Fatal(err)
	}
	if err := c.RecordFailure("sp4", now); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TrackMatches != 1 || stats.AlbumMatches != 1 || stats.ArtistMatches != 1 || stats.Failures != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if err := c.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	stats, err = c.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TrackMatches != 0 || stats.AlbumMatches != 0 || stats.ArtistMatches != 0 || stats.Failures != 0 {
		t.Errorf("expected empty cache after ClearAll, got %+v", stats)
	}
}
