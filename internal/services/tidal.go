// Tidal API implementation of [TargetService]
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	tidalBaseURL   = "https://api.tidal.com/v1"
	tidalPageLimit = 100
)

// TidalArtist represents a Tidal artist.
type TidalArtist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TidalAlbum represents a Tidal album.
type TidalAlbum struct {
	ID            int64         `json:"id"`
	Title         string        `json:"title"`
	NumberOfTracks int          `json:"numberOfTracks"`
	Artists       []TidalArtist `json:"artists"`
	StreamReady   bool          `json:"streamReady"`
}

// TidalTrack represents a Tidal track.
type TidalTrack struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Version     string        `json:"version"`
	Duration    int           `json:"duration"`
	TrackNumber int           `json:"trackNumber"`
	ISRC        string        `json:"isrc"`
	StreamReady bool          `json:"streamReady"`
	Artists     []TidalArtist `json:"artists"`
	Album       TidalAlbum    `json:"album"`
}

// TidalPlaylist represents a Tidal playlist.
type TidalPlaylist struct {
	UUID           string `json:"uuid"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	NumberOfTracks int    `json:"numberOfTracks"`
	PublicPlaylist bool   `json:"publicPlaylist"`
}

type tidalPage[T any] struct {
	Items              []T `json:"items"`
	TotalNumberOfItems int `json:"totalNumberOfItems"`
	Limit              int `json:"limit"`
	Offset             int `json:"offset"`
}

// favoriteItem wraps entries from the favorites endpoints.
type favoriteItem[T any] struct {
	Created string `json:"created"`
	Item    T      `json:"item"`
}

// TidalService implements [TargetService] against the Tidal v1 API.
type TidalService struct {
	accessToken string
	userID      string
	countryCode string
	httpClient  *http.Client
}

// NewTidalService creates a new Tidal service with the given session credentials.
func NewTidalService(accessToken, userID, countryCode string) (*TidalService, error) {
	if accessToken == "" || userID == "" {
		return nil, fmt.Errorf("missing access_token or user_id")
	}
	if countryCode == "" {
		countryCode = "US"
	}

	return &TidalService{
		accessToken: accessToken,
		userID:      userID,
		countryCode: countryCode,
		httpClient:  http.DefaultClient,
	}, nil
}

func (s *TidalService) Name() string {
	return "Tidal"
}

// doRequest performs an authenticated request to the Tidal API.
// Write requests (POST) are form-encoded; everything else is a bare GET.
func (s *TidalService) doRequest(ctx context.Context, method, endpoint string, form url.Values, result any) error {
	u, err := url.Parse(tidalBaseURL + endpoint)
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	q := u.Query()
	q.Set("countryCode", s.countryCode)
	u.RawQuery = q.Encode()

	var body string
	if form != nil {
		body = form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tidal API error: status %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// fetchFavorites follows limit/offset pagination over a favorites endpoint.
func fetchFavorites[T any](ctx context.Context, s *TidalService, endpoint string) ([]T, error) {
	var all []T
	offset := 0

	for {
		pageURL := fmt.Sprintf("%s?limit=%d&offset=%d&order=DATE&orderDirection=DESC", endpoint, tidalPageLimit, offset)

		var page tidalPage[favoriteItem[T]]
		if err := s.doRequest(ctx, http.MethodGet, pageURL, nil, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			all = append(all, item.Item)
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.TotalNumberOfItems {
			return all, nil
		}
	}
}

// FavoriteTracks retrieves the user's favorite tracks, most recent first.
func (s *TidalService) FavoriteTracks(ctx context.Context) ([]Track, error) {
	items, err := fetchFavorites[TidalTrack](ctx, s, fmt.Sprintf("/users/%s/favorites/tracks", s.userID))
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(items))
	for _, t := range items {
		tracks = append(tracks, t.toTrack())
	}
	return tracks, nil
}

// FavoriteAlbums retrieves the user's favorite albums.
func (s *TidalService) FavoriteAlbums(ctx context.Context) ([]Album, error) {
	items, err := fetchFavorites[TidalAlbum](ctx, s, fmt.Sprintf("/users/%s/favorites/albums", s.userID))
	if err != nil {
		return nil, err
	}

	albums := make([]Album, 0, len(items))
	for _, a := range items {
		albums = append(albums, a.toAlbum())
	}
	return albums, nil
}

// FavoriteArtists retrieves the user's favorite artists.
func (s *TidalService) FavoriteArtists(ctx context.Context) ([]Artist, error) {
	items, err := fetchFavorites[TidalArtist](ctx, s, fmt.Sprintf("/users/%s/favorites/artists", s.userID))
	if err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(items))
	for _, a := range items {
		artists = append(artists, Artist{ID: formatTidalID(a.ID), Name: a.Name})
	}
	return artists, nil
}

// FavoriteTrackIDs returns the set of favorite track identifiers.
func (s *TidalService) FavoriteTrackIDs(ctx context.Context) (map[string]struct{}, error) {
	tracks, err := s.FavoriteTracks(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		ids[t.ID] = struct{}{}
	}
	return ids, nil
}

// FavoriteAlbumIDs returns the set of favorite album identifiers.
func (s *TidalService) FavoriteAlbumIDs(ctx context.Context) (map[string]struct{}, error) {
	albums, err := s.FavoriteAlbums(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(albums))
	for _, a := range albums {
		ids[a.ID] = struct{}{}
	}
	return ids, nil
}

// FavoriteArtistIDs returns the set of favorite artist identifiers.
func (s *TidalService) FavoriteArtistIDs(ctx context.Context) (map[string]struct{}, error) {
	artists, err := s.FavoriteArtists(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(artists))
	for _, a := range artists {
		ids[a.ID] = struct{}{}
	}
	return ids, nil
}

// AddFavoriteTrack adds a single track to the user's favorites.
func (s *TidalService) AddFavoriteTrack(ctx context.Context, id string) error {
	return s.addFavorite(ctx, "tracks", "trackIds", id)
}

// AddFavoriteAlbum adds a single album to the user's favorites.
func (s *TidalService) AddFavoriteAlbum(ctx context.Context, id string) error {
	return s.addFavorite(ctx, "albums", "albumIds", id)
}

// AddFavoriteArtist adds a single artist to the user's favorites.
func (s *TidalService) AddFavoriteArtist(ctx context.Context, id string) error {
	return s.addFavorite(ctx, "artists", "artistIds", id)
}

func (s *TidalService) addFavorite(ctx context.Context, kind, field, id string) error {
	endpoint := fmt.Sprintf("/users/%s/favorites/%s", s.userID, kind)
	form := url.Values{field: {id}}
	return s.doRequest(ctx, http.MethodPost, endpoint, form, nil)
}

// SearchTracks searches Tidal for tracks matching the query.
func (s *TidalService) SearchTracks(ctx context.Context, query string) ([]Track, error) {
	var response struct {
		Tracks tidalPage[TidalTrack] `json:"tracks"`
	}
	if err := s.search(ctx, query, "TRACKS", &response); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(response.Tracks.Items))
	for _, t := range response.Tracks.Items {
		tracks = append(tracks, t.toTrack())
	}
	return tracks, nil
}

// SearchAlbums searches Tidal for albums matching the query.
func (s *TidalService) SearchAlbums(ctx context.Context, query string) ([]Album, error) {
	var response struct {
		Albums tidalPage[TidalAlbum] `json:"albums"`
	}
	if err := s.search(ctx, query, "ALBUMS", &response); err != nil {
		return nil, err
	}

	albums := make([]Album, 0, len(response.Albums.Items))
	for _, a := range response.Albums.Items {
		albums = append(albums, a.toAlbum())
	}
	return albums, nil
}

// SearchArtists searches Tidal for artists matching the query.
func (s *TidalService) SearchArtists(ctx context.Context, query string) ([]Artist, error) {
	var response struct {
		Artists tidalPage[TidalArtist] `json:"artists"`
	}
	if err := s.search(ctx, query, "ARTISTS", &response); err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(response.Artists.Items))
	for _, a := range response.Artists.Items {
		artists = append(artists, Artist{ID: formatTidalID(a.ID), Name: a.Name})
	}
	return artists, nil
}

func (s *TidalService) search(ctx context.Context, query, types string, result any) error {
	endpoint := fmt.Sprintf("/search?query=%s&types=%s&limit=25", url.QueryEscape(query), types)
	return s.doRequest(ctx, http.MethodGet, endpoint, nil, result)
}

// AlbumTracks retrieves an album's track list in disc order.
func (s *TidalService) AlbumTracks(ctx context.Context, albumID string) ([]Track, error) {
	endpoint := fmt.Sprintf("/albums/%s/tracks?limit=%d", url.PathEscape(albumID), tidalPageLimit)

	var page tidalPage[TidalTrack]
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(page.Items))
	for _, t := range page.Items {
		tracks = append(tracks, t.toTrack())
	}
	return tracks, nil
}

// Playlists retrieves the user's playlists.
func (s *TidalService) Playlists(ctx context.Context) ([]Playlist, error) {
	endpoint := fmt.Sprintf("/users/%s/playlists?limit=%d", s.userID, tidalPageLimit)

	var page tidalPage[TidalPlaylist]
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}

	playlists := make([]Playlist, 0, len(page.Items))
	for _, pl := range page.Items {
		playlists = append(playlists, Playlist{
			ID:          pl.UUID,
			Name:        pl.Title,
			Description: pl.Description,
			TrackCount:  pl.NumberOfTracks,
			Public:      pl.PublicPlaylist,
		})
	}
	return playlists, nil
}

// PlaylistTrackIDs returns the set of track identifiers already in a playlist.
func (s *TidalService) PlaylistTrackIDs(ctx context.Context, playlistID string) (map[string]struct{}, error) {
	endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=%d", url.PathEscape(playlistID), tidalPageLimit)

	var page tidalPage[TidalTrack]
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(page.Items))
	for _, t := range page.Items {
		ids[formatTidalID(t.ID)] = struct{}{}
	}
	return ids, nil
}

// CreatePlaylist creates a new playlist for the user.
func (s *TidalService) CreatePlaylist(ctx context.Context, name, description string) (*Playlist, error) {
	endpoint := fmt.Sprintf("/users/%s/playlists", s.userID)
	form := url.Values{"title": {name}, "description": {description}}

	var created TidalPlaylist
	if err := s.doRequest(ctx, http.MethodPost, endpoint, form, &created); err != nil {
		return nil, err
	}

	return &Playlist{
		ID:          created.UUID,
		Name:        created.Title,
		Description: created.Description,
	}, nil
}

// AddPlaylistTracks appends tracks to a playlist (up to 100 per call).
func (s *TidalService) AddPlaylistTracks(ctx context.Context, playlistID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("/playlists/%s/items", url.PathEscape(playlistID))
	form := url.Values{
		"trackIds":           {strings.Join(ids, ",")},
		"onArtifactNotFound": {"SKIP"},
	}
	return s.doRequest(ctx, http.MethodPost, endpoint, form, nil)
}

// toTrack maps a Tidal API track into the service-neutral value type.
func (t TidalTrack) toTrack() Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	albumArtists := make([]string, 0, len(t.Album.Artists))
	for _, a := range t.Album.Artists {
		albumArtists = append(albumArtists, a.Name)
	}

	return Track{
		ID:           formatTidalID(t.ID),
		Title:        t.Title,
		Artists:      artists,
		Album:        t.Album.Title,
		AlbumArtists: albumArtists,
		TrackNumber:  t.TrackNumber,
		Duration:     float64(t.Duration),
		ISRC:         t.ISRC,
		Version:      t.Version,
		Available:    t.StreamReady,
	}
}

// toAlbum maps a Tidal API album into the service-neutral value type.
func (a TidalAlbum) toAlbum() Album {
	artists := make([]string, 0, len(a.Artists))
	for _, artist := range a.Artists {
		artists = append(artists, artist.Name)
	}

	return Album{
		ID:        formatTidalID(a.ID),
		Name:      a.Title,
		Artists:   artists,
		NumTracks: a.NumberOfTracks,
		Available: a.StreamReady,
	}
}

func formatTidalID(id int64) string {
	return strconv.FormatInt(id, 10)
}
