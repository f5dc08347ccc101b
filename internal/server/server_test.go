package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/repositories"
	"github.com/desertthunder/wissel/internal/selector"
	"github.com/desertthunder/wissel/internal/services"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/desertthunder/wissel/internal/tasks"
	tu "github.com/desertthunder/wissel/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var discard = log.New(io.Discard)

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) ExecuteRefresh(ctx context.Context, key string, autoCommit bool, progress chan<- tasks.ProgressUpdate) (*lifecycle.RunSummary, error) {
	args := m.Called(ctx, key, autoCommit, progress)
	summary, _ := args.Get(0).(*lifecycle.RunSummary)
	return summary, args.Error(1)
}

type testEnv struct {
	router    http.Handler
	manager   *lifecycle.Manager
	store     *repositories.Store
	source    *tu.MockSource
	refresher *mockRefresher
}

func catalog(prefix string, n int) []services.Track {
	tracks := make([]services.Track, n)
	for i := range tracks {
		tracks[i] = services.Track{
			ID:          fmt.Sprintf("%s%d", prefix, i),
			Artist:      fmt.Sprintf("Artist %s%d", prefix, i),
			Title:       fmt.Sprintf("Song %s%d", prefix, i),
			ReleaseDate: "1991-02-01",
			Markets:     []string{"NL", "US"},
		}
	}
	return tracks
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, shared.RunMigrations(db))
	store := repositories.NewStore(db)

	playlist := &models.Playlist{Key: "sunday", Name: "Sunday", Vibe: "warm soul", ExternalRef: "ext-sunday", HomeMarket: "NL"}
	require.NoError(t, store.Playlists.Create(ctx, playlist))

	old, kept, fresh := catalog("a", 5), catalog("b", 5), catalog("n", 5)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, tracks := range [][]services.Track{old, kept} {
		block := &models.Block{PlaylistID: playlist.ID, Index: i, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		for pos, tr := range tracks {
			block.Tracks = append(block.Tracks, models.BlockTrack{TrackID: tr.ID, Artist: tr.Artist, Title: tr.Title, Position: pos})
		}
		require.NoError(t, store.Blocks.Create(ctx, block))
	}

	source := tu.NewMockSource(slices.Concat(old, kept, fresh)...)
	var current []string
	for _, tr := range slices.Concat(old, kept) {
		current = append(current, tr.ID)
	}
	source.SetPlaylist("ext-sunday", current...)

	gen := &tu.MockGenerator{}
	for _, f := range fresh {
		gen.Suggestions = append(gen.Suggestions, services.Suggestion{Artist: f.Artist, Title: f.Title, Rationale: "fits"})
	}

	var mu sync.Mutex
	tick := base.Add(24 * time.Hour)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}

	sel := selector.New(source, gen, nil, selector.Options{Now: clock}, nil)
	manager := lifecycle.New(store, source, sel, nil, lifecycle.Options{Now: clock}, nil)
	engine := tasks.NewRefreshEngine(manager, store, source, nil, nil, tasks.Options{Now: clock}, nil)

	return &testEnv{
		router:    NewRouter(NewAPI(manager, engine, store, nil), discard),
		manager:   manager,
		store:     store,
		source:    source,
		refresher: &mockRefresher{},
	}
}

// newMockedEnv is newTestEnv with refreshes answered by env.refresher.
func newMockedEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.router = NewRouter(NewAPI(env.manager, env.refresher, env.store, nil), discard)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wissel_api_requests_total")
}

func TestPlaylistRoutes(t *testing.T) {
	env := newTestEnv(t)

	t.Run("List", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/playlists", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		playlists := decode[[]models.Playlist](t, rec)
		require.Len(t, playlists, 1)
		assert.Equal(t, "sunday", playlists[0].Key)
	})

	t.Run("Detail", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/playlists/sunday", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		detail := decode[PlaylistDetail](t, rec)
		assert.Equal(t, "ext-sunday", detail.Playlist.ExternalRef)
		assert.Len(t, detail.Active, 2)
		assert.Equal(t, models.DefaultBlockSize, detail.Rules.BlockSize)
		assert.True(t, detail.Rules.NoRepeatEver)
	})

	t.Run("Unknown", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/playlists/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "playlist not found")
	})

	t.Run("Invalid limit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/playlists/sunday/runs?limit=zero", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/playlists/sunday/preview", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	summary := decode[lifecycle.RunSummary](t, rec)
	assert.Equal(t, models.RunPreview, summary.Status)
	assert.Equal(t, 0, summary.RemovedBlockIndex)
	assert.Equal(t, 2, summary.AddedBlockIndex)
	require.Len(t, summary.AddedTracks, 5)
	assert.Equal(t, 5, summary.PendingApprovals)

	runPath := "/runs/" + summary.RunID

	rec = env.do(t, http.MethodPost, runPath+"/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "commit with pending approvals")

	rec = env.do(t, http.MethodGet, runPath+"/changes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	changes := decode[[]models.RunChange](t, rec)
	assert.Len(t, changes, 10)

	for _, add := range summary.AddedTracks {
		rec = env.do(t, http.MethodPost, runPath+"/changes/"+add.ChangeID+"/approve", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Equal(t, 0, decode[lifecycle.RunSummary](t, rec).PendingApprovals)

	rec = env.do(t, http.MethodPost, runPath+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	committed := decode[lifecycle.RunSummary](t, rec)
	assert.Equal(t, models.RunCommitted, committed.Status)
	assert.NotNil(t, committed.ExecutedAt)

	assert.ElementsMatch(t,
		[]string{"b0", "b1", "b2", "b3", "b4", "n0", "n1", "n2", "n3", "n4"},
		env.source.Playlist("ext-sunday"))

	rec = env.do(t, http.MethodPost, runPath+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cancel after commit")

	rec = env.do(t, http.MethodGet, "/playlists/sunday/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]models.Run](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
}

func TestRunApproval(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/playlists/sunday/preview", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	summary := decode[lifecycle.RunSummary](t, rec)
	runPath := "/runs/" + summary.RunID

	t.Run("Reject then approve all", func(t *testing.T) {
		id := summary.AddedTracks[0].ChangeID
		rec := env.do(t, http.MethodPost, runPath+"/changes/"+id+"/approve", map[string]bool{"approved": false})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, decode[lifecycle.RunSummary](t, rec).PendingApprovals)

		rec = env.do(t, http.MethodPost, runPath+"/approve-all", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, decode[lifecycle.RunSummary](t, rec).PendingApprovals)
	})

	t.Run("Unknown change", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, runPath+"/changes/missing/approve", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Removal cannot be rejected", func(t *testing.T) {
		id := summary.RemovedTracks[0].ChangeID
		rec := env.do(t, http.MethodPost, runPath+"/changes/"+id+"/approve", map[string]bool{"approved": false})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, runPath+"/changes/x/approve", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Cancel", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, runPath+"/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.RunCancelled, decode[lifecycle.RunSummary](t, rec).Status)

		rec = env.do(t, http.MethodPost, runPath+"/approve-all", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Unknown run", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/runs/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRefreshRoute(t *testing.T) {
	t.Run("Auto commit from body", func(t *testing.T) {
		env := newMockedEnv(t)
		want := &lifecycle.RunSummary{RunID: "run-1", Status: models.RunCommitted}
		env.refresher.On("ExecuteRefresh", mock.Anything, "sunday", true, mock.Anything).Return(want, nil).Once()

		rec := env.do(t, http.MethodPost, "/playlists/sunday/refresh", map[string]bool{"auto_commit": true})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "run-1", decode[lifecycle.RunSummary](t, rec).RunID)
		env.refresher.AssertExpectations(t)
	})

	t.Run("Query parameter", func(t *testing.T) {
		env := newMockedEnv(t)
		env.refresher.On("ExecuteRefresh", mock.Anything, "sunday", false, mock.Anything).
			Return(&lifecycle.RunSummary{RunID: "run-2", Status: models.RunPreview}, nil).Once()

		rec := env.do(t, http.MethodPost, "/playlists/sunday/refresh?auto_commit=false", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		env.refresher.AssertExpectations(t)
	})

	t.Run("Failed commit keeps run", func(t *testing.T) {
		env := newMockedEnv(t)
		preview := &lifecycle.RunSummary{RunID: "run-3", Status: models.RunPreview, SyncFailed: true}
		err := fmt.Errorf("auto-commit of run #3 failed: %w", shared.ErrExternalSync)
		env.refresher.On("ExecuteRefresh", mock.Anything, "sunday", true, mock.Anything).Return(preview, err).Once()

		rec := env.do(t, http.MethodPost, "/playlists/sunday/refresh", map[string]bool{"auto_commit": true})
		require.Equal(t, http.StatusBadGateway, rec.Code)

		var body struct {
			Error string                `json:"error"`
			Run   lifecycle.RunSummary `json:"run"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body.Error, "external playlist update failed")
		assert.True(t, body.Run.SyncFailed)
	})

	t.Run("In progress", func(t *testing.T) {
		env := newMockedEnv(t)
		env.refresher.On("ExecuteRefresh", mock.Anything, "sunday", false, mock.Anything).
			Return(nil, shared.ErrRefreshInProgress).Once()

		rec := env.do(t, http.MethodPost, "/playlists/sunday/refresh", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Preview shares the refresh path", func(t *testing.T) {
		env := newMockedEnv(t)
		env.refresher.On("ExecuteRefresh", mock.Anything, "sunday", false, mock.Anything).
			Return(nil, shared.ErrRefreshInProgress).Once()

		rec := env.do(t, http.MethodPost, "/playlists/sunday/preview", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		env.refresher.AssertExpectations(t)

		runs, err := env.store.Runs.ListForPlaylist(context.Background(), mustPlaylistID(t, env), 10)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("Invalid flag", func(t *testing.T) {
		env := newMockedEnv(t)
		rec := env.do(t, http.MethodPost, "/playlists/sunday/refresh?auto_commit=maybe", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		env.refresher.AssertNotCalled(t, "ExecuteRefresh", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func mustPlaylistID(t *testing.T, env *testEnv) string {
	t.Helper()
	p, err := env.store.Playlists.GetByKey(context.Background(), "sunday")
	require.NoError(t, err)
	return p.ID
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"playlist", shared.ErrPlaylistNotFound, http.StatusNotFound},
		{"wrapped run", fmt.Errorf("loading: %w", shared.ErrRunNotFound), http.StatusNotFound},
		{"transition", shared.ErrInvalidTransition, http.StatusConflict},
		{"unapproved", shared.ErrUnapprovedChanges, http.StatusConflict},
		{"no blocks", shared.ErrBlockNotFound, http.StatusConflict},
		{"rules", shared.ErrInvalidRules, http.StatusUnprocessableEntity},
		{"sync", shared.ErrExternalSync, http.StatusBadGateway},
		{"generator", shared.ErrSuggestionsUnavailable, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"access-123","token_type":"Bearer","refresh_token":"refresh-456","expires_in":3600}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestOAuthHandler(t *testing.T) {
	ts := tokenServer(t)
	config := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: ts.URL + "/authorize", TokenURL: ts.URL + "/token"},
		RedirectURL:  "http://localhost/callback",
	}

	callback := func(h *OAuthHandler, params url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/callback?"+params.Encode(), nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("Success", func(t *testing.T) {
		h := NewOAuthHandler(config, "state-1")
		rec := callback(h, url.Values{"state": {"state-1"}, "code": {"good-code"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Authorization Successful")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		token, err := h.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, "access-123", token.AccessToken)
		assert.Equal(t, "refresh-456", token.RefreshToken)
	})

	t.Run("State mismatch", func(t *testing.T) {
		h := NewOAuthHandler(config, "state-1")
		rec := callback(h, url.Values{"state": {"forged"}, "code": {"good-code"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		_, err := h.Wait(context.Background())
		assert.ErrorIs(t, err, shared.ErrAuthFailed)
	})

	t.Run("Denied", func(t *testing.T) {
		h := NewOAuthHandler(config, "s")
		rec := callback(h, url.Values{"state": {"s"}, "error": {"access_denied"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		result := <-h.Result()
		require.Error(t, result.Error())
		assert.Contains(t, result.Error().Error(), "access_denied")
	})

	t.Run("Exchange failure", func(t *testing.T) {
		h := NewOAuthHandler(config, "s")
		rec := callback(h, url.Values{"state": {"s"}, "code": {"bad-code"}})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		_, err := h.Wait(context.Background())
		assert.ErrorIs(t, err, shared.ErrAuthFailed)
	})

	t.Run("Replay rejected", func(t *testing.T) {
		h := NewOAuthHandler(config, "s")
		callback(h, url.Values{"state": {"s"}, "code": {"good-code"}})
		rec := callback(h, url.Values{"state": {"s"}, "code": {"good-code"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "already processed")
	})

	t.Run("Wait times out", func(t *testing.T) {
		h := NewOAuthHandler(config, "s")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.Wait(ctx)
		assert.ErrorIs(t, err, shared.ErrTimeout)
	})

	t.Run("Mounted on router", func(t *testing.T) {
		h := NewOAuthHandler(config, "s")
		router := NewRouter(nil, discard, h)
		req := httptest.NewRequest(http.MethodGet, "/callback?state=s&code=good-code", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)

	go func() {
		done <- Serve(ctx, "127.0.0.1:0", NewRouter(nil, discard), discard, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("Serve() returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
