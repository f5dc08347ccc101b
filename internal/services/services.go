// package services defines the collaborator interfaces for music metadata and suggestion providers
//
// Spotify (track source), OpenAI-compatible chat completions (suggestion generator)
package services

import (
	"context"

	"golang.org/x/oauth2"
)

// TrackSource resolves, describes, and mutates tracks at a music provider.
type TrackSource interface {
	// Resolve finds the best match for an artist and title.
	// Returns an error wrapping [shared.ErrTrackNotFound] when nothing matches.
	Resolve(ctx context.Context, artist, title string) (*Track, error)

	// TrackMetadata returns markets, genres, and release dates for up to [TrackSource.BatchSize] IDs, in input order.
	TrackMetadata(ctx context.Context, trackIDs []string) ([]Metadata, error)

	// BatchSize is the maximum number of IDs accepted by TrackMetadata.
	BatchSize() int

	// Search returns up to limit tracks for a free-text query. Used when no suggestions are usable.
	Search(ctx context.Context, query string, limit int) ([]Track, error)

	// PlaylistTracks lists the tracks currently in the external playlist, in playlist order.
	PlaylistTracks(ctx context.Context, playlistRef string) ([]Track, error)

	// RemoveTracks removes every occurrence of the given tracks. Removing an absent track is a no-op.
	RemoveTracks(ctx context.Context, playlistRef string, trackIDs []string) error

	// AddTracks inserts tracks at position, or appends them when position is negative.
	AddTracks(ctx context.Context, playlistRef string, trackIDs []string, position int) error

	// Name returns the name of the provider (e.g., "Spotify")
	Name() string
}

// SuggestionGenerator proposes candidate tracks for a playlist vibe.
type SuggestionGenerator interface {
	// Suggest may return fewer than req.Count suggestions.
	Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error)
}

// OAuthService is a provider that supports the authorization code flow.
type OAuthService interface {
	GetAuthURL(state string) string
	GetOAuthConfig() *oauth2.Config
}

// Track is a track as reported by a provider.
type Track struct {
	ID          string
	Title       string
	Artist      string
	ArtistIDs   []string
	Album       string
	ReleaseDate string
	Markets     []string
	Genres      []string
	Popularity  int
	URI         string
}

// Metadata carries the raw fields the enricher needs.
type Metadata struct {
	TrackID     string
	ReleaseDate string
	Markets     []string
	Genres      []string
}

// SuggestRequest describes what the generator should propose.
type SuggestRequest struct {
	Vibe           string
	RuleSummary    string
	ExcludeArtists []string
	Count          int
}

// Suggestion is one proposed (artist, title) pair.
type Suggestion struct {
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Rationale string `json:"reason"`
}
