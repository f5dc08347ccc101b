// Spotify Web API implementation of [TrackSource]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/wissel/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	defaultRedirectURI = "http://127.0.0.1:3000/callback"

	spotifyMetadataBatch = 50  // /tracks and /artists accept 50 IDs
	spotifyMutationBatch = 100 // playlist add/remove accept 100 URIs
	spotifyPageSize      = 100
	spotifySearchPage    = 50
	spotifyTrackURI      = "spotify:track:"
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Artists          []SpotifyArtist `json:"artists"`
	Album            SpotifyAlbum    `json:"album"`
	AvailableMarkets []string        `json:"available_markets"`
	DurationMS       int             `json:"duration_ms"`
	Popularity       int             `json:"popularity"`
	URI              string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist. Genres are only populated by the /artists endpoint.
type SpotifyArtist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
	URI    string   `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SpotifyPlaylistTrack represents a track within a playlist context. Track is nil for removed or local items.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

type spotifyPlaylistPage struct {
	Items []SpotifyPlaylistTrack `json:"items"`
	Total int                    `json:"total"`
	Next  *string                `json:"next"`
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []SpotifyTrack `json:"items"`
		Total int            `json:"total"`
		Next  *string        `json:"next"`
	} `json:"tracks"`
}

type simplePlaylistTrack struct {
	Total int `json:"total"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Owner       Owner               `json:"owner"`
	Public      bool                `json:"public"`
	Tracks      simplePlaylistTrack `json:"tracks"`
}

// SpotifyPaginatedPlaylists represents a paginated response of playlists.
type SpotifyPaginatedPlaylists struct {
	Items  []SpotifySimplePlaylist `json:"items"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
	Next   *string                 `json:"next"`
}

type spotifyErrorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError is returned for non-2xx responses. It unwraps to [shared.ErrAPIRequest].
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify API error: status %d", e.Status)
	}
	return fmt.Sprintf("spotify API error: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	return shared.ErrAPIRequest
}

// SpotifyService implements [TrackSource] and [OAuthService] for the Spotify Web API.
// Uses [oauth2] for authentication; the client refreshes expired tokens with the refresh token.
type SpotifyService struct {
	config         *oauth2.Config
	source         oauth2.TokenSource
	httpClient     *http.Client
	baseURL        string
	market         string
	limiter        *rate.Limiter
	onTokenRefresh func(*oauth2.Token)
}

// refreshableTokenSource reports each new access token to callback, so refreshed tokens can be persisted.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := token.AccessToken != r.last
	r.last = token.AccessToken
	r.mu.Unlock()

	if changed && r.callback != nil {
		r.callback(token)
	}
	return token, nil
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
//
// Recognized keys: client_id, client_secret (both required), redirect_uri, market.
func NewSpotifyService(credentials map[string]string) (*SpotifyService, error) {
	clientID := credentials["client_id"]
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret := credentials["client_secret"]
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := credentials["redirect_uri"]
	if redirectURI == "" {
		redirectURI = defaultRedirectURI
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"playlist-read-private",
			"playlist-modify-public",
			"playlist-modify-private",
			"user-read-email",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:     config,
		httpClient: http.DefaultClient,
		baseURL:    spotifyBaseURL,
		market:     strings.ToUpper(credentials["market"]),
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}, nil
}

// Authenticate performs OAuth2 authentication with Spotify. Expects either an "access_token" or "auth_code" in credentials.
//
// An access token may be accompanied by a "refresh_token".
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if accessToken := credentials["access_token"]; accessToken != "" {
		s.SetToken(ctx, &oauth2.Token{AccessToken: accessToken, RefreshToken: credentials["refresh_token"]})
		return nil
	}

	if authCode := credentials["auth_code"]; authCode != "" {
		token, err := s.config.Exchange(ctx, authCode)
		if err != nil {
			return fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
		}
		s.SetToken(ctx, token)
		return nil
	}

	return fmt.Errorf("%w: missing access_token or auth_code", shared.ErrMissingCredentials)
}

// SetTokenRefreshCallback registers fn to receive every new access token, including the first.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.onTokenRefresh = fn
}

// SetToken installs token; requests made after this refresh it as needed.
func (s *SpotifyService) SetToken(ctx context.Context, token *oauth2.Token) {
	s.source = &refreshableTokenSource{
		source: oauth2.ReuseTokenSource(token, s.config.TokenSource(ctx, token)),
		callback: func(t *oauth2.Token) {
			if s.onTokenRefresh != nil {
				s.onTokenRefresh(t)
			}
		},
	}
	s.httpClient = oauth2.NewClient(ctx, s.source)
}

// Token returns the current (possibly refreshed) token.
func (s *SpotifyService) Token() (*oauth2.Token, error) {
	if s.source == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return s.source.Token()
}

// LoadToken reads a JSON-encoded token written by [SaveToken].
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no token at %s, run 'wissel auth spotify'", shared.ErrNotAuthenticated, path)
		}
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return &token, nil
}

// SaveToken writes token as JSON, readable only by the current user.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// BatchSize implements [TrackSource].
func (s *SpotifyService) BatchSize() int {
	return spotifyMetadataBatch
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// GetOAuthConfig exposes the OAuth2 configuration for callback handlers.
func (s *SpotifyService) GetOAuthConfig() *oauth2.Config {
	return s.config
}

// doRequest performs an authenticated HTTP request to the Spotify API. A non-nil body is sent as JSON.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, body any, result any) error {
	if s.source == nil {
		return fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{Status: resp.StatusCode}
		var eb spotifyErrorBody
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && json.Unmarshal(data, &eb) == nil {
			serr.Message = eb.Error.Message
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", shared.ErrTokenExpired, serr)
		}
		return serr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func toTrack(st SpotifyTrack) Track {
	t := Track{
		ID:          st.ID,
		Title:       st.Name,
		Album:       st.Album.Name,
		ReleaseDate: st.Album.ReleaseDate,
		Markets:     st.AvailableMarkets,
		Popularity:  st.Popularity,
		URI:         st.URI,
	}
	for _, a := range st.Artists {
		t.ArtistIDs = append(t.ArtistIDs, a.ID)
	}
	if len(st.Artists) > 0 {
		t.Artist = st.Artists[0].Name
	}
	return t
}

func trackURI(id string) string {
	if strings.HasPrefix(id, spotifyTrackURI) {
		return id
	}
	return spotifyTrackURI + id
}

func (s *SpotifyService) query(v url.Values) string {
	if s.market != "" {
		v.Set("market", s.market)
	}
	return v.Encode()
}

// Resolve implements [TrackSource] using a field-filtered search, preferring an exact artist match.
func (s *SpotifyService) Resolve(ctx context.Context, artist, title string) (*Track, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("artist:%q track:%q", artist, title))
	q.Set("type", "track")
	q.Set("limit", "5")

	var resp spotifySearchResponse
	if err := s.doRequest(ctx, http.MethodGet, "/search?"+s.query(q), nil, &resp); err != nil {
		return nil, err
	}

	items := resp.Tracks.Items
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s - %s", shared.ErrTrackNotFound, artist, title)
	}

	want := shared.NormalizeArtist(artist)
	for _, item := range items {
		for _, a := range item.Artists {
			if shared.NormalizeArtist(a.Name) == want {
				t := toTrack(item)
				return &t, nil
			}
		}
	}
	t := toTrack(items[0])
	return &t, nil
}

// TrackMetadata implements [TrackSource]. Genres come from the tracks' artists.
//
// Unknown IDs yield a [Metadata] carrying only the ID.
func (s *SpotifyService) TrackMetadata(ctx context.Context, trackIDs []string) ([]Metadata, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}
	if len(trackIDs) > spotifyMetadataBatch {
		return nil, fmt.Errorf("%w: maximum %d track IDs allowed", shared.ErrInvalidArgument, spotifyMetadataBatch)
	}

	var tracksResp struct {
		Tracks []*SpotifyTrack `json:"tracks"`
	}
	endpoint := "/tracks?ids=" + url.QueryEscape(strings.Join(trackIDs, ","))
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &tracksResp); err != nil {
		return nil, err
	}

	byID := make(map[string]*SpotifyTrack, len(tracksResp.Tracks))
	var artistIDs []string
	seen := make(map[string]bool)
	for _, t := range tracksResp.Tracks {
		if t == nil {
			continue
		}
		byID[t.ID] = t
		for _, a := range t.Artists {
			if a.ID != "" && !seen[a.ID] {
				seen[a.ID] = true
				artistIDs = append(artistIDs, a.ID)
			}
		}
	}

	genres, err := s.artistGenres(ctx, artistIDs)
	if err != nil {
		return nil, err
	}

	metadata := make([]Metadata, len(trackIDs))
	for i, id := range trackIDs {
		metadata[i] = Metadata{TrackID: id}
		t, ok := byID[id]
		if !ok {
			continue
		}
		metadata[i].ReleaseDate = t.Album.ReleaseDate
		metadata[i].Markets = t.AvailableMarkets

		tagSeen := make(map[string]bool)
		for _, a := range t.Artists {
			for _, g := range genres[a.ID] {
				if !tagSeen[g] {
					tagSeen[g] = true
					metadata[i].Genres = append(metadata[i].Genres, g)
				}
			}
		}
	}
	return metadata, nil
}

func (s *SpotifyService) artistGenres(ctx context.Context, artistIDs []string) (map[string][]string, error) {
	genres := make(map[string][]string, len(artistIDs))
	for start := 0; start < len(artistIDs); start += spotifyMetadataBatch {
		end := min(start+spotifyMetadataBatch, len(artistIDs))

		var resp struct {
			Artists []*SpotifyArtist `json:"artists"`
		}
		endpoint := "/artists?ids=" + url.QueryEscape(strings.Join(artistIDs[start:end], ","))
		if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}
		for _, a := range resp.Artists {
			if a != nil {
				genres[a.ID] = a.Genres
			}
		}
	}
	return genres, nil
}

// Search implements [TrackSource] with a free-text track search.
func (s *SpotifyService) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	var tracks []Track
	for offset := 0; len(tracks) < limit; offset += spotifySearchPage {
		q := url.Values{}
		q.Set("q", query)
		q.Set("type", "track")
		q.Set("limit", fmt.Sprint(min(spotifySearchPage, limit-len(tracks))))
		q.Set("offset", fmt.Sprint(offset))

		var resp spotifySearchResponse
		if err := s.doRequest(ctx, http.MethodGet, "/search?"+s.query(q), nil, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Tracks.Items {
			tracks = append(tracks, toTrack(item))
		}
		if resp.Tracks.Next == nil || len(resp.Tracks.Items) == 0 {
			break
		}
	}
	return tracks, nil
}

// PlaylistTracks implements [TrackSource], skipping local files and unavailable items.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistRef string) ([]Track, error) {
	var tracks []Track
	for offset := 0; ; offset += spotifyPageSize {
		endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=%d", url.PathEscape(playlistRef), spotifyPageSize, offset)

		var page spotifyPlaylistPage
		if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			var serr *StatusError
			if errors.As(err, &serr) && serr.Status == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistRef)
			}
			return nil, err
		}

		for _, item := range page.Items {
			if item.Track == nil || item.Track.ID == "" {
				continue
			}
			tracks = append(tracks, toTrack(*item.Track))
		}

		if page.Next == nil {
			break
		}
	}
	return tracks, nil
}

// RemoveTracks implements [TrackSource]. Spotify removes every occurrence of a URI when no positions are given.
func (s *SpotifyService) RemoveTracks(ctx context.Context, playlistRef string, trackIDs []string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistRef))

	for start := 0; start < len(trackIDs); start += spotifyMutationBatch {
		end := min(start+spotifyMutationBatch, len(trackIDs))

		type uriRef struct {
			URI string `json:"uri"`
		}
		refs := make([]uriRef, 0, end-start)
		for _, id := range trackIDs[start:end] {
			refs = append(refs, uriRef{URI: trackURI(id)})
		}

		body := map[string]any{"tracks": refs}
		if err := s.doRequest(ctx, http.MethodDelete, endpoint, body, nil); err != nil {
			return fmt.Errorf("failed to remove tracks from %s: %w", playlistRef, err)
		}
	}
	return nil
}

// AddTracks implements [TrackSource].
func (s *SpotifyService) AddTracks(ctx context.Context, playlistRef string, trackIDs []string, position int) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistRef))

	for start := 0; start < len(trackIDs); start += spotifyMutationBatch {
		end := min(start+spotifyMutationBatch, len(trackIDs))

		uris := make([]string, 0, end-start)
		for _, id := range trackIDs[start:end] {
			uris = append(uris, trackURI(id))
		}

		body := map[string]any{"uris": uris}
		if position >= 0 {
			body["position"] = position + start
		}
		if err := s.doRequest(ctx, http.MethodPost, endpoint, body, nil); err != nil {
			return fmt.Errorf("failed to add tracks to %s: %w", playlistRef, err)
		}
	}
	return nil
}

// UserPlaylists retrieves all playlists of the authenticated user.
func (s *SpotifyService) UserPlaylists(ctx context.Context) ([]SpotifySimplePlaylist, error) {
	var playlists []SpotifySimplePlaylist
	limit := 50

	for offset := 0; ; offset += limit {
		var page SpotifyPaginatedPlaylists
		endpoint := fmt.Sprintf("/me/playlists?limit=%d&offset=%d", limit, offset)
		if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		playlists = append(playlists, page.Items...)

		if page.Next == nil {
			break
		}
	}
	return playlists, nil
}
