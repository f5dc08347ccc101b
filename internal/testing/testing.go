// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/wissel/internal/services"
	"github.com/desertthunder/wissel/internal/shared"
)

// MockSource is an in-memory [services.TrackSource] backed by a catalog and a set of playlists.
//
// Resolve matches artist and title case-insensitively. Set the Err fields to inject failures.
type MockSource struct {
	mu        sync.Mutex
	catalog   []services.Track
	playlists map[string][]string

	Batch        int
	ResolveErr   error
	MetadataErr  error
	SearchErr    error
	RemoveErr    error
	AddErr       error
	AddFailOnce  bool
	addFailures  int
	Calls        map[string]int
	SearchHits   []services.Track
	ResolveDelay func(ctx context.Context) error
}

// NewMockSource creates a source containing the given tracks.
func NewMockSource(catalog ...services.Track) *MockSource {
	return &MockSource{
		catalog:   catalog,
		playlists: make(map[string][]string),
		Calls:     make(map[string]int),
	}
}

// AddCatalog appends tracks to the catalog.
func (m *MockSource) AddCatalog(tracks ...services.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = append(m.catalog, tracks...)
}

// SetPlaylist replaces the contents of an external playlist.
func (m *MockSource) SetPlaylist(ref string, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists[ref] = slices.Clone(ids)
}

// Playlist returns the current contents of an external playlist.
func (m *MockSource) Playlist(ref string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.playlists[ref])
}

// CallCount returns how often the named method was called.
func (m *MockSource) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func (m *MockSource) record(method string) {
	m.mu.Lock()
	m.Calls[method]++
	m.mu.Unlock()
}

func (m *MockSource) lookup(id string) (services.Track, bool) {
	for _, t := range m.catalog {
		if t.ID == id {
			return t, true
		}
	}
	return services.Track{}, false
}

func (m *MockSource) Resolve(ctx context.Context, artist, title string) (*services.Track, error) {
	m.record("Resolve")
	if m.ResolveDelay != nil {
		if err := m.ResolveDelay(ctx); err != nil {
			return nil, err
		}
	}
	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.catalog {
		if strings.EqualFold(t.Artist, artist) && strings.EqualFold(t.Title, title) {
			found := t
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s - %s", shared.ErrTrackNotFound, artist, title)
}

func (m *MockSource) TrackMetadata(ctx context.Context, trackIDs []string) ([]services.Metadata, error) {
	m.record("TrackMetadata")
	if m.MetadataErr != nil {
		return nil, m.MetadataErr
	}
	if len(trackIDs) > m.BatchSize() {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", shared.ErrInvalidInput, len(trackIDs), m.BatchSize())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]services.Metadata, 0, len(trackIDs))
	for _, id := range trackIDs {
		if t, ok := m.lookup(id); ok {
			out = append(out, services.Metadata{TrackID: id, ReleaseDate: t.ReleaseDate, Markets: t.Markets, Genres: t.Genres})
		}
	}
	return out, nil
}

func (m *MockSource) BatchSize() int {
	if m.Batch > 0 {
		return m.Batch
	}
	return 50
}

// Search returns SearchHits when set, otherwise the first limit catalog tracks.
func (m *MockSource) Search(ctx context.Context, query string, limit int) ([]services.Track, error) {
	m.record("Search")
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pool := m.catalog
	if m.SearchHits != nil {
		pool = m.SearchHits
	}
	if limit > len(pool) {
		limit = len(pool)
	}
	return slices.Clone(pool[:limit]), nil
}

func (m *MockSource) PlaylistTracks(ctx context.Context, playlistRef string) ([]services.Track, error) {
	m.record("PlaylistTracks")
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.playlists[playlistRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistRef)
	}
	out := make([]services.Track, 0, len(ids))
	for _, id := range ids {
		if t, ok := m.lookup(id); ok {
			out = append(out, t)
		} else {
			out = append(out, services.Track{ID: id})
		}
	}
	return out, nil
}

func (m *MockSource) RemoveTracks(ctx context.Context, playlistRef string, trackIDs []string) error {
	m.record("RemoveTracks")
	if m.RemoveErr != nil {
		return m.RemoveErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists[playlistRef] = slices.DeleteFunc(m.playlists[playlistRef], func(id string) bool {
		return slices.Contains(trackIDs, id)
	})
	return nil
}

// AddTracks appends or inserts ids. With AddFailOnce set, AddErr is returned only on the first call.
func (m *MockSource) AddTracks(ctx context.Context, playlistRef string, trackIDs []string, position int) error {
	m.record("AddTracks")
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AddErr != nil && (!m.AddFailOnce || m.addFailures == 0) {
		m.addFailures++
		return m.AddErr
	}

	current := m.playlists[playlistRef]
	if position < 0 || position > len(current) {
		position = len(current)
	}
	m.playlists[playlistRef] = slices.Insert(current, position, trackIDs...)
	return nil
}

func (m *MockSource) Name() string { return "mock" }

// MockGenerator is a [services.SuggestionGenerator] returning canned suggestions.
type MockGenerator struct {
	mu          sync.Mutex
	Suggestions []services.Suggestion
	Err         error
	Block       bool // wait for ctx cancellation before returning
	Requests    []services.SuggestRequest
}

func (g *MockGenerator) Suggest(ctx context.Context, req services.SuggestRequest) ([]services.Suggestion, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	g.mu.Unlock()

	if g.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.Err != nil {
		return nil, g.Err
	}
	return slices.Clone(g.Suggestions), nil
}

// LastRequest returns the most recent request, or the zero value.
func (g *MockGenerator) LastRequest() services.SuggestRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Requests) == 0 {
		return services.SuggestRequest{}
	}
	return g.Requests[len(g.Requests)-1]
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
