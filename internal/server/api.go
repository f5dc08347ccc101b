package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/repositories"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/desertthunder/wissel/internal/tasks"
	"github.com/go-chi/chi/v5"
)

const defaultRunLimit = 20

// API exposes playlists and runs over JSON.
type API struct {
	manager   *lifecycle.Manager
	refresher tasks.Refresher
	store     *repositories.Store
	logger    *log.Logger
}

// NewAPI creates an API.
func NewAPI(manager *lifecycle.Manager, refresher tasks.Refresher, store *repositories.Store, logger *log.Logger) *API {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &API{
		manager:   manager,
		refresher: refresher,
		store:     store,
		logger:    shared.WithLogger(logger, "component", "api"),
	}
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/playlists", func(r chi.Router) {
		r.Get("/", a.handleListPlaylists)
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", a.handleGetPlaylist)
			r.Get("/runs", a.handleListRuns)
			r.Post("/preview", a.handlePreview)
			r.Post("/refresh", a.handleRefresh)
		})
	})

	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/", a.handleGetRun)
		r.Get("/changes", a.handleListChanges)
		r.Post("/changes/{changeID}/approve", a.handleApprove)
		r.Post("/approve-all", a.handleApproveAll)
		r.Post("/commit", a.handleCommit)
		r.Post("/cancel", a.handleCancel)
	})
}

// PlaylistDetail is a playlist with its rules and active blocks.
type PlaylistDetail struct {
	Playlist *models.Playlist `json:"playlist"`
	Rules    models.RuleSet   `json:"rules"`
	Active   []models.Block   `json:"active_blocks"`
}

func (a *API) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := a.store.Playlists.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if playlists == nil {
		playlists = []*models.Playlist{}
	}
	writeJSON(w, http.StatusOK, playlists)
}

func (a *API) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	playlist, err := a.store.Playlists.GetByKey(ctx, chi.URLParam(r, "key"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	rules, err := a.store.Playlists.Rules(ctx, playlist.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	active, err := a.store.Blocks.Active(ctx, playlist.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if active == nil {
		active = []models.Block{}
	}
	writeJSON(w, http.StatusOK, PlaylistDetail{Playlist: playlist, Rules: rules, Active: active})
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := a.manager.ListRuns(r.Context(), chi.URLParam(r, "key"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	summary, err := a.refresher.ExecuteRefresh(r.Context(), chi.URLParam(r, "key"), false, nil)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

type refreshRequest struct {
	AutoCommit bool `json:"auto_commit"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s := r.URL.Query().Get("auto_commit"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "auto_commit must be a boolean")
			return
		}
		req.AutoCommit = v
	}

	summary, err := a.refresher.ExecuteRefresh(r.Context(), chi.URLParam(r, "key"), req.AutoCommit, nil)
	if err != nil {
		if summary != nil {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "run": summary})
			return
		}
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	a.writeRun(w, r, http.StatusOK)
}

func (a *API) handleListChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := a.manager.Changes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if changes == nil {
		changes = []models.RunChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

type approveRequest struct {
	Approved *bool `json:"approved"`
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	approved := req.Approved == nil || *req.Approved

	err := a.manager.Approve(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "changeID"), approved)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeRun(w, r, http.StatusOK)
}

func (a *API) handleApproveAll(w http.ResponseWriter, r *http.Request) {
	if _, err := a.manager.ApproveAll(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeRun(w, r, http.StatusOK)
}

func (a *API) handleCommit(w http.ResponseWriter, r *http.Request) {
	detail, err := a.manager.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail.Summary())
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeRun(w, r, http.StatusOK)
}

func (a *API) writeRun(w http.ResponseWriter, r *http.Request, status int) {
	detail, err := a.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, status, detail.Summary())
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrPlaylistNotFound),
		errors.Is(err, shared.ErrRunNotFound),
		errors.Is(err, shared.ErrChangeNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrUnapprovedChanges),
		errors.Is(err, shared.ErrNoChanges),
		errors.Is(err, shared.ErrRefreshInProgress),
		errors.Is(err, shared.ErrAlreadyExists),
		errors.Is(err, shared.ErrBlockNotFound),
		errors.Is(err, shared.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidRules),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrExternalSync),
		errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrSuggestionsUnavailable),
		errors.Is(err, shared.ErrAPIRequest),
		errors.Is(err, shared.ErrNotAuthenticated),
		errors.Is(err, shared.ErrTokenExpired):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("unhandled error", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
