// package services defines typed records and client interfaces for the
// music platforms (Spotify, Tidal).
//
// Vendor API shapes are mapped into the value types here at the client
// boundary; nothing above this package sees raw API payloads.
package services

import "context"

// Track represents a music track from either service.
type Track struct {
	ID           string
	Title        string
	Artists      []string
	Album        string
	AlbumArtists []string
	TrackNumber  int
	Duration     float64 // Seconds
	ISRC         string  // International Standard Recording Code for matching
	Version      string  // Release qualifier (e.g. "Remastered", "Live")
	Available    bool
}

// PrimaryArtist returns the first credited artist, or "" when none are known.
func (t Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// PrimaryAlbumArtist returns the first album artist, falling back to the
// track's own artists.
func (t Track) PrimaryAlbumArtist() string {
	if len(t.AlbumArtists) > 0 {
		return t.AlbumArtists[0]
	}
	return t.PrimaryArtist()
}

// Album represents an album from either service.
type Album struct {
	ID        string
	Name      string
	Artists   []string
	NumTracks int
	Available bool
}

// PrimaryArtist returns the first credited artist, or "" when none are known.
func (a Album) PrimaryArtist() string {
	if len(a.Artists) == 0 {
		return ""
	}
	return a.Artists[0]
}

// Artist represents an artist from either service.
type Artist struct {
	ID   string
	Name string
}

// Playlist represents a playlist from either service.
type Playlist struct {
	ID          string
	Name        string
	Description string
	TrackCount  int
	Public      bool
}

// SourceService is the Spotify-side surface used by sync operations.
type SourceService interface {
	// Library fetchers return fully-paginated sequences.
	SavedTracks(ctx context.Context) ([]Track, error)
	SavedAlbums(ctx context.Context) ([]Album, error)
	FollowedArtists(ctx context.Context) ([]Artist, error)
	Playlists(ctx context.Context) ([]Playlist, error)
	PlaylistTracks(ctx context.Context, playlistID string) ([]Track, error)

	// Identifier sets for de-duplication against re-adding.
	SavedTrackIDs(ctx context.Context) (map[string]struct{}, error)
	SavedAlbumIDs(ctx context.Context) (map[string]struct{}, error)
	FollowedArtistIDs(ctx context.Context) (map[string]struct{}, error)

	// Search surface used by the reverse-direction searcher.
	SearchTracks(ctx context.Context, query string, limit int) ([]Track, error)
	SearchTrackByISRC(ctx context.Context, isrc string) (*Track, error)
	SearchAlbums(ctx context.Context, query string, limit int) ([]Album, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]Artist, error)

	// Batch adds (Spotify library endpoints accept up to 50 ids).
	SaveTracks(ctx context.Context, ids []string) error
	SaveAlbums(ctx context.Context, ids []string) error
	FollowArtists(ctx context.Context, ids []string) error

	Name() string
}

// TargetService is the Tidal-side surface used by sync operations.
type TargetService interface {
	FavoriteTracks(ctx context.Context) ([]Track, error)
	FavoriteAlbums(ctx context.Context) ([]Album, error)
	FavoriteArtists(ctx context.Context) ([]Artist, error)

	FavoriteTrackIDs(ctx context.Context) (map[string]struct{}, error)
	FavoriteAlbumIDs(ctx context.Context) (map[string]struct{}, error)
	FavoriteArtistIDs(ctx context.Context) (map[string]struct{}, error)

	AddFavoriteTrack(ctx context.Context, id string) error
	AddFavoriteAlbum(ctx context.Context, id string) error
	AddFavoriteArtist(ctx context.Context, id string) error

	SearchTracks(ctx context.Context, query string) ([]Track, error)
	SearchAlbums(ctx context.Context, query string) ([]Album, error)
	SearchArtists(ctx context.Context, query string) ([]Artist, error)
	AlbumTracks(ctx context.Context, albumID string) ([]Track, error)

	Playlists(ctx context.Context) ([]Playlist, error)
	PlaylistTrackIDs(ctx context.Context, playlistID string) (map[string]struct{}, error)
	CreatePlaylist(ctx context.Context, name, description string) (*Playlist, error)
	AddPlaylistTracks(ctx context.Context, playlistID string, ids []string) error

	Name() string
}
