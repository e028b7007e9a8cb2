package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memodrill/memodrill/internal/config"
	"github.com/memodrill/memodrill/internal/scheduler"
	"github.com/memodrill/memodrill/internal/selection"
	"github.com/memodrill/memodrill/internal/session"
	"github.com/memodrill/memodrill/internal/storage/sqlite"
	"github.com/memodrill/memodrill/pkg/types"
)

type fakeProvider struct {
	items map[int64][]selection.ContentItem
}

func (p *fakeProvider) ItemsInContainers(_ context.Context, containerIDs []int64, _ types.StudyMode) ([]selection.ContentItem, error) {
	var out []selection.ContentItem
	for _, id := range containerIDs {
		out = append(out, p.items[id]...)
	}
	return out, nil
}

func (p *fakeProvider) Item(_ context.Context, itemID int64) (*selection.ContentItem, error) {
	for _, items := range p.items {
		for _, it := range items {
			if it.ID == itemID {
				item := it
				return &item, nil
			}
		}
	}
	return nil, fmt.Errorf("no item %d", itemID)
}

type fakeAccess struct {
	readable map[int64]bool
}

func (a *fakeAccess) CanRead(_ context.Context, _ string, containerID int64) (bool, error) {
	return a.readable[containerID], nil
}

func (a *fakeAccess) ReadableContainers(context.Context, string) ([]int64, error) {
	var ids []int64
	for id, ok := range a.readable {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (a *fakeAccess) IsAdmin(context.Context, string) (bool, error) { return false, nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fakeProvider{items: map[int64][]selection.ContentItem{
		1: {
			{ID: 10, ContainerID: 1, Position: 0},
			{ID: 11, ContainerID: 1, Position: 1},
			{ID: 12, ContainerID: 1, Position: 2},
		},
		2: {{ID: 20, ContainerID: 2, Position: 0}},
	}}
	access := &fakeAccess{readable: map[int64]bool{1: true}}
	selector := selection.NewEngine(provider, access, store)
	sessions := session.NewEngine(store, selector, scheduler.Config{DisableFuzzing: true})

	cfg, err := config.Load()
	require.NoError(t, err)

	ts := httptest.NewServer(New(cfg, sessions, selector).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, user string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", "u1", map[string]any{
		"mode":   "quiz",
		"policy": "sequential",
		"scope":  map[string]any{"container_ids": []int64{1}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthNeedsNoUser(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIRequiresUserHeader(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/selection/count?mode=quiz&scope=1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStartSession(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", "u1", map[string]any{
		"mode":   "quiz",
		"policy": "sequential",
		"scope":  map[string]any{"container_ids": []int64{1}},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "active", body["status"])
	assert.EqualValues(t, 3, body["total_items"])
}

func TestStartSessionErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			"bad mode",
			map[string]any{"mode": "osmosis", "policy": "mixed", "scope": map[string]any{"all": true}},
			http.StatusBadRequest,
		},
		{
			"bad policy",
			map[string]any{"mode": "quiz", "policy": "psychic", "scope": map[string]any{"all": true}},
			http.StatusBadRequest,
		},
		{
			"unreadable container",
			map[string]any{"mode": "quiz", "policy": "mixed", "scope": map[string]any{"container_ids": []int64{2}}},
			http.StatusForbidden,
		},
		{
			"empty scope",
			map[string]any{"mode": "quiz", "policy": "mixed", "scope": map[string]any{}},
			http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", "u1", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestResume(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/resume?mode=quiz", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	id := startSession(t, ts)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/resume?mode=quiz", "u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])
}

func TestBatchAndAnswersFlow(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/batch", "u1",
		map[string]any{"size": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	assert.Len(t, items, 2)
	assert.Equal(t, false, body["done"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/answers", "u1",
		map[string]any{"answers": []map[string]any{
			{"item_id": 10, "rating": 3, "duration_ms": 900},
			{"item_id": 11, "quality": 5},
		}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, true, first["is_correct"])

	// Duplicate answer conflicts.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/answers", "u1",
		map[string]any{"answers": []map[string]any{{"item_id": 10, "rating": 3}}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Finishing the last item completes the session.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/answers", "u1",
		map[string]any{"answers": []map[string]any{{"item_id": 12, "rating": 1}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/end", "u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
}

func TestEndErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/ghost/end", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	first := startSession(t, ts)
	startSession(t, ts) // supersedes

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+first+"/end", "u1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCount(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/selection/count?mode=quiz&scope=1", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 3, body["new"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/selection/count?mode=quiz&scope=all", "u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/selection/count?mode=quiz&scope=bogus", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	selector := selection.NewEngine(
		&fakeProvider{items: map[int64][]selection.ContentItem{}},
		&fakeAccess{}, store)
	sessions := session.NewEngine(store, selector, scheduler.Config{DisableFuzzing: true})

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, ClientTTL: time.Minute}

	ts := httptest.NewServer(New(cfg, sessions, selector).Handler())
	t.Cleanup(ts.Close)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/health", "u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/health", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
