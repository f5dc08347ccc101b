// Package services defines the collaborator interfaces the rotation core depends on and implements them
// for Spotify and OpenAI-compatible chat completion endpoints.
//
// # Track Source
//
// [SpotifyService] implements [TrackSource] over the Spotify Web API. It uses OAuth2 for authentication with
// automatic token refresh; [SpotifyService.SetTokenRefreshCallback] lets callers persist refreshed tokens
// ([SaveToken], [LoadToken]).
//
// Playlist mutations are idempotent: removal drops every occurrence of a URI, and the commit path
// only adds IDs missing from [TrackSource.PlaylistTracks].
//
// # Suggestion Generator
//
// [OpenAIService] implements [SuggestionGenerator]. The model is asked for a JSON array of
// {artist, title, reason}; [ParseSuggestions] tolerates fenced output and drops incomplete entries.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrNotAuthenticated] : no token installed
//   - [shared.ErrTokenExpired] : Spotify rejected the token, reauthorization needed
//   - [shared.ErrAPIRequest] : HTTP request failed ([StatusError] carries the status)
//   - [shared.ErrPlaylistNotFound] : Playlist ID not found
//   - [shared.ErrTrackNotFound] : no search match for an artist and title
//   - [shared.ErrSuggestionsUnavailable], [shared.ErrMalformedSuggestionData] : generator failures
//
// Both clients throttle requests with a token-bucket limiter.
package services
