package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrNoBrowser        = fmt.Errorf("no browser available")

	// API and service errors
	ErrAPIRequest              = fmt.Errorf("API request failed")
	ErrServiceUnavailable      = fmt.Errorf("service unavailable")
	ErrSuggestionsUnavailable  = fmt.Errorf("suggestion generator unavailable")
	ErrPlaylistNotFound        = fmt.Errorf("playlist not found")
	ErrTrackNotFound           = fmt.Errorf("track not found")
	ErrExternalSync            = fmt.Errorf("external playlist update failed")
	ErrMalformedSuggestionData = fmt.Errorf("malformed suggestion response")

	// Persistence errors
	ErrRunNotFound    = fmt.Errorf("run not found")
	ErrChangeNotFound = fmt.Errorf("run change not found")
	ErrBlockNotFound  = fmt.Errorf("block not found")
	ErrAlreadyExists  = fmt.Errorf("already exists")

	// Run lifecycle errors
	ErrInvalidTransition = fmt.Errorf("invalid run state transition")
	ErrUnapprovedChanges = fmt.Errorf("run has unapproved changes")
	ErrNoChanges         = fmt.Errorf("run has no changes to apply")
	ErrRefreshInProgress = fmt.Errorf("refresh already in progress")
	ErrLockTimeout       = fmt.Errorf("timed out waiting for playlist lock")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrInvalidRules    = fmt.Errorf("invalid rule set document")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
