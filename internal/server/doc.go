// Package server provides the JSON API, metrics endpoint, and OAuth callback handling.
//
// # Router
//
// [NewRouter] builds a chi router with request IDs, real-IP resolution, request logging, panic
// recovery, and Prometheus instrumentation. It always serves /health and /metrics, mounts [API] when
// one is given, and registers every extra [Handler] on the paths it reports.
//
// # JSON API
//
//	GET  /playlists                          list playlists
//	GET  /playlists/{key}                    playlist, rules, and active blocks
//	GET  /playlists/{key}/runs?limit=        recent runs, newest first
//	POST /playlists/{key}/preview            create a run in preview
//	POST /playlists/{key}/refresh            execute a refresh ({"auto_commit": true} to commit)
//	GET  /runs/{id}                          run summary
//	GET  /runs/{id}/changes                  run changes, removals first
//	POST /runs/{id}/changes/{changeID}/approve  set approval ({"approved": false} to reject)
//	POST /runs/{id}/approve-all              approve every addition
//	POST /runs/{id}/commit                   commit an approved run
//	POST /runs/{id}/cancel                   cancel a run in preview
//
// Errors are JSON objects with an "error" field. Missing playlists, runs, and changes map to 404,
// illegal transitions and unapproved commits to 409, invalid input to 422, and failures of the
// track source or suggestion generator to 502.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback. It validates the state parameter
// (CSRF protection), exchanges the code for a token, and publishes the result through a channel.
// It only processes one callback to prevent replay attacks.
//
// The CLI starts a temporary server on the configured host and port for `wissel auth spotify`; the
// same handler is mounted by `wissel serve`.
package server
