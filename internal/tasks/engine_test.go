package tasks

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tdx/internal/cache"
	"github.com/desertthunder/tdx/internal/library"
	"github.com/desertthunder/tdx/internal/services"
	"github.com/desertthunder/tdx/internal/shared"
)

// fakeSource and fakeTarget embed the service interfaces so only the
// methods an operation touches need real bodies.
type fakeSource struct {
	services.SourceService
	tracks    []services.Track
	playlists []services.Playlist
	byList    map[string][]services.Track
}

func (f *fakeSource) SavedTracks(ctx context.Context) ([]services.Track, error) {
	return f.tracks, nil
}

func (f *fakeSource) Playlists(ctx context.Context) ([]services.Playlist, error) {
	return f.playlists, nil
}

func (f *fakeSource) PlaylistTracks(ctx context.Context, playlistID string) ([]services.Track, error) {
	return f.byList[playlistID], nil
}

type fakeTarget struct {
	services.TargetService
	favoriteIDs map[string]struct{}
	playlists   []services.Playlist
	listIDs     map[string]map[string]struct{}

	favoriteAdds []string
	created      []string
	batchAdds    map[string][][]string
}

func (f *fakeTarget) FavoriteTrackIDs(ctx context.Context) (map[string]struct{}, error) {
	return f.favoriteIDs, nil
}

func (f *fakeTarget) AddFavoriteTrack(ctx context.Context, id string) error {
	f.favoriteAdds = append(f.favoriteAdds, id)
	return nil
}

func (f *fakeTarget) Playlists(ctx context.Context) ([]services.Playlist, error) {
	return f.playlists, nil
}

func (f *fakeTarget) PlaylistTrackIDs(ctx context.Context, playlistID string) (map[string]struct{}, error) {
	return f.listIDs[playlistID], nil
}

func (f *fakeTarget) CreatePlaylist(ctx context.Context, name, description string) (*services.Playlist, error) {
	f.created = append(f.created, name)
	pl := services.Playlist{ID: "new-" + name, Name: name, Description: description}
	f.playlists = append(f.playlists, pl)
	return &pl, nil
}

func (f *fakeTarget) AddPlaylistTracks(ctx context.Context, playlistID string, ids []string) error {
	if f.batchAdds == nil {
		f.batchAdds = map[string][][]string{}
	}
	f.batchAdds[playlistID] = append(f.batchAdds[playlistID], ids)
	return nil
}

// fakeFinder resolves from a fixed map.
type fakeFinder struct {
	ids map[string]string
}

func (f *fakeFinder) FindTrack(ctx context.Context, track services.Track) (string, error) {
	return f.ids[track.ID], nil
}

func (f *fakeFinder) FindAlbum(ctx context.Context, album services.Album) (string, error) {
	return f.ids[album.ID], nil
}

func (f *fakeFinder) FindArtist(ctx context.Context, artist services.Artist) (string, error) {
	return f.ids[artist.ID], nil
}

func testDB(t *testing.T) *sql.DB {
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

func newEngine(t *testing.T, source *fakeSource, target *fakeTarget, finder Finder, report *library.Report) *SyncEngine {
	t.Helper()
	return NewSyncEngine(
		source, target, finder, finder,
		cache.New(testDB(t)),
		testLimiter(),
		log.New(io.Discard),
		report,
		0,
	)
}

func TestSyncEngine_FavoriteTracks(t *testing.T) {
	source := &fakeSource{
		// Newest first, as the platform lists them.
		tracks: []services.Track{
			{ID: "sp-new", Title: "New Song", Artists: []string{"Nova"}},
			{ID: "sp-old", Title: "Old Song", Artists: []string{"Nova"}},
			{ID: "sp-missing", Title: "Missing", Artists: []string{"Nova"}},
		},
	}
	target := &fakeTarget{
		favoriteIDs: map[string]struct{}{},
	}
	finder := &fakeFinder{ids: map[string]string{
		"sp-new": "td-new",
		"sp-old": "td-old",
	}}
	report := library.NewReport("test")
	engine := newEngine(t, source, target, finder, report)

	result, err := engine.SyncFavoriteTracks(context.Background(), nil)
	if err != nil {
		t.Fatalf("SyncFavoriteTracks failed: %v", err)
	}

	if result.Added != 2 || result.NotFound != 1 {
		t.Errorf("result = %+v, want 2 added and 1 not found", result)
	}

	// Oldest first so target's newest-first listing matches source order.
	want := []string{"td-old", "td-new"}
	if len(target.favoriteAdds) != 2 || target.favoriteAdds[0] != want[0] || target.favoriteAdds[1] != want[1] {
		t.Errorf("adds = %v, want %v", target.favoriteAdds, want)
	}

	if got := report.NotFound(); len(got) != 1 || got[0].SourceID != "sp-missing" {
		t.Errorf("report not-found = %v, want the missing track", got)
	}
	if got := report.Synced(); len(got) != 2 {
		t.Errorf("report synced = %d entries, want 2", len(got))
	}
}

func TestSyncEngine_SyncPlaylistCreatesWhenAbsent(t *testing.T) {
	source := &fakeSource{
		byList: map[string][]services.Track{
			"pl-1": {
				{ID: "sp-1", Title: "One", Artists: []string{"Nova"}},
				{ID: "sp-2", Title: "Two", Artists: []string{"Nova"}},
			},
		},
	}
	target := &fakeTarget{}
	finder := &fakeFinder{ids: map[string]string{"sp-1": "td-1", "sp-2": "td-2"}}
	engine := newEngine(t, source, target, finder, nil)

	result, err := engine.SyncPlaylist(context.Background(), nil, services.Playlist{ID: "pl-1", Name: "Road Trip"})
	if err != nil {
		t.Fatalf("SyncPlaylist failed: %v", err)
	}

	if len(target.created) != 1 || target.created[0] != "Road Trip" {
		t.Errorf("created = %v, want the playlist to be created once", target.created)
	}
	if result.Added != 2 {
		t.Errorf("added = %d, want 2", result.Added)
	}

	batches := target.batchAdds["new-Road Trip"]
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Errorf("batch adds = %v, want one batch of two ids", batches)
	}
}

func TestSyncEngine_SyncPlaylistReusesExisting(t *testing.T) {
	source := &fakeSource{
		byList: map[string][]services.Track{
			"pl-1": {{ID: "sp-1", Title: "One", Artists: []string{"Nova"}}},
		},
	}
	target := &fakeTarget{
		playlists: []services.Playlist{{ID: "td-pl", Name: "road trip"}},
		listIDs:   map[string]map[string]struct{}{"td-pl": {"td-1": {}}},
	}
	finder := &fakeFinder{ids: map[string]string{"sp-1": "td-1"}}
	engine := newEngine(t, source, target, finder, nil)

	result, err := engine.SyncPlaylist(context.Background(), nil, services.Playlist{ID: "pl-1", Name: "Road Trip"})
	if err != nil {
		t.Fatalf("SyncPlaylist failed: %v", err)
	}

	if len(target.created) != 0 {
		t.Error("playlist lookup is case-insensitive; nothing should be created")
	}
	if result.Skipped != 1 || result.Added != 0 {
		t.Errorf("result = %+v, want the present track skipped", result)
	}
}
