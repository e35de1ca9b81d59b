// Spotify API implementation of [SourceService]
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	spotifyPageLimit = 50
)

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	TotalTracks int             `json:"total_tracks"`
	URI         string          `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	TrackNumber int             `json:"track_number"`
	DurationMS  int             `json:"duration_ms"`
	ExternalIDs externalIDs     `json:"external_ids"`
	IsPlayable  *bool           `json:"is_playable"`
	URI         string          `json:"uri"`
}

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifySavedAlbum represents an album saved in the user's library.
type SpotifySavedAlbum struct {
	AddedAt string       `json:"added_at"`
	Album   SpotifyAlbum `json:"album"`
}

type spotifyPage[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
	Tracks      struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifyService implements [SourceService] against the Spotify Web API.
// Uses [oauth2] for the authenticated client.
type SpotifyService struct {
	config     *oauth2.Config
	token      *oauth2.Token
	httpClient *http.Client
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(clientID, clientSecret, redirectURI string) (*SpotifyService, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("missing client_id or client_secret")
	}
	if redirectURI == "" {
		redirectURI = "http://localhost:8888/callback"
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-library-read",
			"user-library-modify",
			"user-follow-read",
			"user-follow-modify",
			"playlist-read-private",
			"playlist-read-collaborative",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:     config,
		httpClient: http.DefaultClient,
	}, nil
}

// Authenticate installs a previously obtained token. The interactive OAuth
// flow that obtains it is the auth command's job.
func (s *SpotifyService) Authenticate(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" {
		return fmt.Errorf("missing access token")
	}
	s.token = &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken}
	s.httpClient = s.config.Client(ctx, s.token)
	return nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// OAuthConfig exposes the OAuth2 configuration for callback handling.
func (s *SpotifyService) OAuthConfig() *oauth2.Config {
	return s.config
}

// RedirectURI returns the configured OAuth2 redirect URI.
func (s *SpotifyService) RedirectURI() string {
	return s.config.RedirectURL
}

// doRequest performs an authenticated HTTP request to the Spotify API.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, body any, result any) error {
	if s.token == nil {
		return fmt.Errorf("not authenticated: call Authenticate first")
	}

	apiURL := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		apiURL = spotifyBaseURL + endpoint
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("spotify API error: status %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// fetchAllPages follows limit/offset pagination until the API reports no next page.
func fetchAllPages[T any](ctx context.Context, s *SpotifyService, endpoint string, unwrap func(json.RawMessage) (*spotifyPage[T], error)) ([]T, error) {
	var all []T
	offset := 0

	for {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		pageURL := fmt.Sprintf("%s%slimit=%d&offset=%d", endpoint, sep, spotifyPageLimit, offset)

		var raw json.RawMessage
		if err := s.doRequest(ctx, http.MethodGet, pageURL, nil, &raw); err != nil {
			return nil, err
		}

		page, err := unwrap(raw)
		if err != nil {
			return nil, err
		}

		all = append(all, page.Items...)
		if page.Next == nil || len(page.Items) == 0 {
			return all, nil
		}
		offset += len(page.Items)
	}
}

func directPage[T any](raw json.RawMessage) (*spotifyPage[T], error) {
	var page spotifyPage[T]
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}
	return &page, nil
}

// SavedTracks retrieves all of the user's saved tracks, oldest last.
func (s *SpotifyService) SavedTracks(ctx context.Context) ([]Track, error) {
	saved, err := fetchAllPages(ctx, s, "/me/tracks", directPage[SpotifySavedTrack])
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(saved))
	for _, item := range saved {
		tracks = append(tracks, item.Track.toTrack())
	}
	return tracks, nil
}

// SavedAlbums retrieves all of the user's saved albums.
func (s *SpotifyService) SavedAlbums(ctx context.Context) ([]Album, error) {
	saved, err := fetchAllPages(ctx, s, "/me/albums", directPage[SpotifySavedAlbum])
	if err != nil {
		return nil, err
	}

	albums := make([]Album, 0, len(saved))
	for _, item := range saved {
		albums = append(albums, item.Album.toAlbum())
	}
	return albums, nil
}

// FollowedArtists retrieves all artists the user follows.
//
// The follow endpoint uses cursor pagination rather than limit/offset.
func (s *SpotifyService) FollowedArtists(ctx context.Context) ([]Artist, error) {
	var all []Artist
	after := ""

	for {
		endpoint := fmt.Sprintf("/me/following?type=artist&limit=%d", spotifyPageLimit)
		if after != "" {
			endpoint += "&after=" + url.QueryEscape(after)
		}

		var response struct {
			Artists struct {
				Items   []SpotifyArtist `json:"items"`
				Cursors struct {
					After *string `json:"after"`
				} `json:"cursors"`
			} `json:"artists"`
		}
		if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
			return nil, err
		}

		for _, a := range response.Artists.Items {
			all = append(all, Artist{ID: a.ID, Name: a.Name})
		}

		if response.Artists.Cursors.After == nil || len(response.Artists.Items) == 0 {
			return all, nil
		}
		after = *response.Artists.Cursors.After
	}
}

// Playlists retrieves the current user's playlists.
func (s *SpotifyService) Playlists(ctx context.Context) ([]Playlist, error) {
	items, err := fetchAllPages(ctx, s, "/me/playlists", directPage[SpotifySimplePlaylist])
	if err != nil {
		return nil, err
	}

	playlists := make([]Playlist, 0, len(items))
	for _, pl := range items {
		playlists = append(playlists, Playlist{
			ID:          pl.ID,
			Name:        pl.Name,
			Description: pl.Description,
			TrackCount:  pl.Tracks.Total,
			Public:      pl.Public,
		})
	}
	return playlists, nil
}

// PlaylistTracks retrieves every track in a playlist.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string) ([]Track, error) {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	items, err := fetchAllPages(ctx, s, endpoint, directPage[SpotifyPlaylistTrack])
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(items))
	for _, item := range items {
		// Local files carry no Spotify id and cannot be matched.
		if item.Track.ID == "" {
			continue
		}
		tracks = append(tracks, item.Track.toTrack())
	}
	return tracks, nil
}

// SavedTrackIDs returns the set of saved track identifiers.
func (s *SpotifyService) SavedTrackIDs(ctx context.Context) (map[string]struct{}, error) {
	tracks, err := s.SavedTracks(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		ids[t.ID] = struct{}{}
	}
	return ids, nil
}

// SavedAlbumIDs returns the set of saved album identifiers.
func (s *SpotifyService) SavedAlbumIDs(ctx context.Context) (map[string]struct{}, error) {
	albums, err := s.SavedAlbums(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(albums))
	for _, a := range albums {
		ids[a.ID] = struct{}{}
	}
	return ids, nil
}

// FollowedArtistIDs returns the set of followed artist identifiers.
func (s *SpotifyService) FollowedArtistIDs(ctx context.Context) (map[string]struct{}, error) {
	artists, err := s.FollowedArtists(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(artists))
	for _, a := range artists {
		ids[a.ID] = struct{}{}
	}
	return ids, nil
}

// SearchTracks searches for tracks matching the query.
func (s *SpotifyService) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	if limit <= 0 || limit > spotifyPageLimit {
		limit = 10
	}
	endpoint := fmt.Sprintf("/search?q=%s&type=track&limit=%d", url.QueryEscape(query), limit)

	var response struct {
		Tracks spotifyPage[SpotifyTrack] `json:"tracks"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(response.Tracks.Items))
	for _, t := range response.Tracks.Items {
		tracks = append(tracks, t.toTrack())
	}
	return tracks, nil
}

// SearchAlbums searches for albums matching the query.
func (s *SpotifyService) SearchAlbums(ctx context.Context, query string, limit int) ([]Album, error) {
	if limit <= 0 || limit > spotifyPageLimit {
		limit = 10
	}
	endpoint := fmt.Sprintf("/search?q=%s&type=album&limit=%d", url.QueryEscape(query), limit)

	var response struct {
		Albums spotifyPage[SpotifyAlbum] `json:"albums"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	albums := make([]Album, 0, len(response.Albums.Items))
	for _, a := range response.Albums.Items {
		albums = append(albums, a.toAlbum())
	}
	return albums, nil
}

// SearchArtists searches for artists matching the query.
func (s *SpotifyService) SearchArtists(ctx context.Context, query string, limit int) ([]Artist, error) {
	if limit <= 0 || limit > spotifyPageLimit {
		limit = 10
	}
	endpoint := fmt.Sprintf("/search?q=%s&type=artist&limit=%d", url.QueryEscape(query), limit)

	var response struct {
		Artists spotifyPage[SpotifyArtist] `json:"artists"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(response.Artists.Items))
	for _, a := range response.Artists.Items {
		artists = append(artists, Artist{ID: a.ID, Name: a.Name})
	}
	return artists, nil
}

// SearchTrackByISRC looks up a single track by its ISRC code.
func (s *SpotifyService) SearchTrackByISRC(ctx context.Context, isrc string) (*Track, error) {
	tracks, err := s.SearchTracks(ctx, "isrc:"+isrc, 1)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, nil
	}
	return &tracks[0], nil
}

// SaveTracks adds tracks to the user's library (up to 50 per call).
func (s *SpotifyService) SaveTracks(ctx context.Context, ids []string) error {
	return s.putIDs(ctx, "/me/tracks", ids)
}

// SaveAlbums adds albums to the user's library (up to 50 per call).
func (s *SpotifyService) SaveAlbums(ctx context.Context, ids []string) error {
	return s.putIDs(ctx, "/me/albums", ids)
}

// FollowArtists follows artists (up to 50 per call).
func (s *SpotifyService) FollowArtists(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	endpoint := "/me/following?type=artist"
	return s.doRequest(ctx, http.MethodPut, endpoint, map[string]any{"ids": ids}, nil)
}

func (s *SpotifyService) putIDs(ctx context.Context, endpoint string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > spotifyPageLimit {
		return fmt.Errorf("maximum %d ids allowed per call", spotifyPageLimit)
	}
	return s.doRequest(ctx, http.MethodPut, endpoint, map[string]any{"ids": ids}, nil)
}

// toTrack maps a Spotify API track into the service-neutral value type.
func (t SpotifyTrack) toTrack() Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	albumArtists := make([]string, 0, len(t.Album.Artists))
	for _, a := range t.Album.Artists {
		albumArtists = append(albumArtists, a.Name)
	}

	available := true
	if t.IsPlayable != nil {
		available = *t.IsPlayable
	}

	return Track{
		ID:           t.ID,
		Title:        t.Name,
		Artists:      artists,
		Album:        t.Album.Name,
		AlbumArtists: albumArtists,
		TrackNumber:  t.TrackNumber,
		Duration:     float64(t.DurationMS) / 1000,
		ISRC:         t.ExternalIDs.ISRC,
		Available:    available,
	}
}

// toAlbum maps a Spotify API album into the service-neutral value type.
func (a SpotifyAlbum) toAlbum() Album {
	artists := make([]string, 0, len(a.Artists))
	for _, artist := range a.Artists {
		artists = append(artists, artist.Name)
	}

	return Album{
		ID:        a.ID,
		Name:      a.Name,
		Artists:   artists,
		NumTracks: a.TotalTracks,
		Available: true,
	}
}
