package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
	"shelfwatch/internal/engine"
	"shelfwatch/internal/notify"
	"shelfwatch/internal/store"
)

type stubExtractor struct {
	mu      sync.Mutex
	records []catalog.RawRecord
	err     error
}

func (s *stubExtractor) Extract(_ context.Context, _ catalog.SearchConfig) ([]catalog.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

type stubProber struct {
	copies map[string][]catalog.Copy
}

func (s *stubProber) Copies(_ context.Context, itemID string) ([]catalog.Copy, error) {
	return s.copies[itemID], nil
}

type testHarness struct {
	server    *Server
	store     *store.Store
	extractor *stubExtractor
	prober    *stubProber
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "db.json"), zap.NewNop())
	require.NoError(t, err)

	h := &testHarness{
		store:     st,
		extractor: &stubExtractor{},
		prober:    &stubProber{copies: map[string][]catalog.Copy{}},
	}
	cfg := engine.Config{
		FreshnessWindow:      7 * 24 * time.Hour,
		NotifyCooldown:       24 * time.Hour,
		CollectionSuffix:     "Not Holdable",
		ExcludedCallPrefixes: []string{"4K"},
		Locations:            []catalog.Location{{Code: 29, Name: "Tigard Public Library"}},
		Searches: map[catalog.Category]catalog.SearchConfig{
			catalog.CategoryAvailableNow: {Category: catalog.CategoryAvailableNow, URL: "https://example.org/a"},
			catalog.CategoryOnOrder:      {Category: catalog.CategoryOnOrder, URL: "https://example.org/o"},
		},
	}
	eng := engine.New(st, h.extractor, h.prober, notify.NewMemory(), systemClock{}, cfg, zap.NewNop())
	h.server = NewServer(st, eng, zap.NewNop())
	return h
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.json")
	doc := store.Document{
		LibraryItems:  []catalog.LibraryItem{},
		WishListItems: []string{},
		Users:         []catalog.User{{ID: "u1", Username: "harper", Password: "hunter2"}},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	st, err := store.Open(path, zap.NewNop())
	require.NoError(t, err)
	srv := NewServer(st, nil, zap.NewNop())

	body := bytes.NewBufferString(`{"username":"harper","password":"hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"userId":"u1"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/auth", bytes.NewBufferString(`{"username":"harper","password":"wrong"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{}`, rec.Body.String())
}

func TestWishlistEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/wish-list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/wish-list", map[string]string{"title": "dune"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `["dune"]`, rec.Body.String())

	rec = h.do(t, http.MethodDelete, "/wish-list", map[string]string{"title": "ghost"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "ghost not found in wish list. Wish list items are: dune.", rec.Body.String())

	rec = h.do(t, http.MethodDelete, "/wish-list", map[string]string{"title": "DUNE"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestWishlistRequiresTitle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/wish-list", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "A title is required.", rec.Body.String())
}

func TestAvailableNowCycleEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.store.AddWishlistEntry("road"))
	h.extractor.records = []catalog.RawRecord{{
		ID:    "abc1",
		Title: "The Road",
		URL:   "https://wccls.bibliocommons.com/v2/record/abc1",
	}}
	h.prober.copies["abc1"] = []catalog.Copy{{
		Branch:     "Tigard Public Library",
		Status:     "AVAILABLE",
		Collection: "Best Sellers - Not Holdable",
		CallNumber: "BLURAY ROAD",
	}}

	rec := h.do(t, http.MethodGet, "/available-now", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []catalog.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	require.Equal(t, "abc1", alerts[0].Item.ID)
	require.Equal(t, "Tigard Public Library", alerts[0].Branch)

	// The debounce holds for the immediate rerun.
	rec = h.do(t, http.MethodGet, "/available-now", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "No new titles available now.", rec.Body.String())
}

func TestOnOrderCycleEndpointNoNewTitles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/on-order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "No new titles on order.", rec.Body.String())
}

func TestCycleEndpointExtractionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.extractor.err = fmt.Errorf("%w: markup changed", catalog.ErrExtractionFailed)

	rec := h.do(t, http.MethodGet, "/available-now", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Server Error - Check Logs", rec.Body.String())
}

func TestListCategoryEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/all-best-sellers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	_, err := h.store.Merge(catalog.CategoryOnOrder, []catalog.RawRecord{{
		ID:    "oo1",
		Title: "Blade Runner 2099",
		URL:   "https://wccls.bibliocommons.com/v2/record/oo1",
	}}, time.Now())
	require.NoError(t, err)

	rec = h.do(t, http.MethodGet, "/all-on-order", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []catalog.LibraryItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	require.Equal(t, "Blade Runner 2099", items[0].Title)
}

func TestUnknownEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Endpoint not found.", rec.Body.String())
}
