package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"boardcache/internal/refresh"
	"boardcache/internal/resource"
	"boardcache/internal/snapshot"
	"boardcache/internal/upstream"
)

// fakeFetcher serves canned records per resource, or an error.
type fakeFetcher struct {
	calls   int64
	records map[resource.Type][]json.RawMessage
	err     error
}

func (f *fakeFetcher) FetchAll(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.records[res], nil
}

type fixture struct {
	store   *snapshot.Store
	fetcher *fakeFetcher
	server  *Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fetcher := &fakeFetcher{records: map[resource.Type][]json.RawMessage{}}
	coordinator := refresh.NewCoordinator(store, fetcher)
	return &fixture{
		store:   store,
		fetcher: fetcher,
		server:  New(store, coordinator, time.Hour, opts...),
	}
}

func (fx *fixture) request(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	fx.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

func seedTasks(t *testing.T, fx *fixture, tasks ...resource.Task) {
	t.Helper()
	records := make([]json.RawMessage, 0, len(tasks))
	for _, task := range tasks {
		raw, err := json.Marshal(task)
		if err != nil {
			t.Fatalf("marshal task: %v", err)
		}
		records = append(records, raw)
	}
	if _, err := fx.store.Commit(context.Background(), resource.Tasks, records); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
}

// TestSnapshotNotPopulated verifies reads of a never-refreshed resource
// return 404 rather than an empty body.
func TestSnapshotNotPopulated(t *testing.T) {
	fx := newFixture(t)
	rec := fx.request(t, "GET", "/v1/snapshot/tasks")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestSnapshotUnknownResource verifies an unknown resource type is a 404.
func TestSnapshotUnknownResource(t *testing.T) {
	fx := newFixture(t)
	rec := fx.request(t, "GET", "/v1/snapshot/sprints")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestSnapshotReturnsRecords verifies a populated snapshot serves its
// records with version and fetched_at.
func TestSnapshotReturnsRecords(t *testing.T) {
	fx := newFixture(t)
	seedTasks(t, fx,
		resource.Task{PageID: "t1", Name: "One", Status: "Done"},
		resource.Task{PageID: "t2", Name: "Two", Status: "In Progress"},
	)

	rec := fx.request(t, "GET", "/v1/snapshot/tasks")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decode[snapshotResponse](t, rec)
	if resp.Version != 1 || resp.RecordCount != 2 {
		t.Errorf("version %d records %d, want 1 and 2", resp.Version, resp.RecordCount)
	}
}

// TestSnapshotFilterByStatus verifies query filters narrow the records.
func TestSnapshotFilterByStatus(t *testing.T) {
	fx := newFixture(t)
	seedTasks(t, fx,
		resource.Task{PageID: "t1", Status: "Done"},
		resource.Task{PageID: "t2", Status: "In Progress"},
		resource.Task{PageID: "t3", Status: "Done"},
	)

	rec := fx.request(t, "GET", "/v1/snapshot/tasks?status=done")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[snapshotResponse](t, rec)
	if resp.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", resp.RecordCount)
	}
}

// TestSnapshotRejectsBadFilter verifies malformed filters are a 400.
func TestSnapshotRejectsBadFilter(t *testing.T) {
	fx := newFixture(t)
	seedTasks(t, fx, resource.Task{PageID: "t1"})

	if rec := fx.request(t, "GET", "/v1/snapshot/tasks?due_before=yesterday"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", rec.Code)
	}
	if rec := fx.request(t, "GET", "/v1/snapshot/tasks?overdue=maybe"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad bool: status = %d, want 400", rec.Code)
	}
}

// TestSummaryEndpoint verifies the summary endpoint aggregates counts.
func TestSummaryEndpoint(t *testing.T) {
	fx := newFixture(t)
	seedTasks(t, fx,
		resource.Task{PageID: "t1", Status: "Done", Assignees: []string{"Alice"}},
		resource.Task{PageID: "t2", Status: "Done", Assignees: []string{"Alice"}},
		resource.Task{PageID: "t3", Status: "Blocked", Assignees: []string{"Bob"}},
	)

	rec := fx.request(t, "GET", "/v1/snapshot/tasks/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}](t, rec)
	if resp.Total != 3 || resp.ByStatus["Done"] != 2 {
		t.Errorf("summary = %+v", resp)
	}
}

// TestRefreshEndpointSuccess verifies a POST refresh fetches upstream and
// reports the committed version.
func TestRefreshEndpointSuccess(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.records[resource.Tasks] = []json.RawMessage{json.RawMessage(`{"page_id":"t1"}`)}

	rec := fx.request(t, "POST", "/v1/refresh/tasks")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decode[refreshResponse](t, rec)
	if resp.Outcome != refresh.OutcomeSuccess || resp.Version != 1 {
		t.Errorf("refresh response = %+v", resp)
	}

	if rec := fx.request(t, "GET", "/v1/snapshot/tasks"); rec.Code != http.StatusOK {
		t.Errorf("snapshot after refresh: status = %d", rec.Code)
	}
}

// TestRefreshEndpointTransientFailure verifies upstream failures map to
// 503 with the outcome in the body.
func TestRefreshEndpointTransientFailure(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.err = upstream.NewTransient(resource.Tasks, errors.New("upstream returned 503"))

	rec := fx.request(t, "POST", "/v1/refresh/tasks")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	resp := decode[refreshResponse](t, rec)
	if resp.Outcome != refresh.OutcomeTransientFailure || resp.Error == "" {
		t.Errorf("refresh response = %+v", resp)
	}
}

// TestRefreshEndpointPermanentFailure verifies permanent failures map to
// 502.
func TestRefreshEndpointPermanentFailure(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.err = upstream.NewPermanent(resource.Tasks, errors.New("authentication failed"))

	rec := fx.request(t, "POST", "/v1/refresh/tasks")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

// TestRefreshAllEndpoint verifies the bulk refresh covers every resource.
func TestRefreshAllEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := fx.request(t, "POST", "/v1/refresh")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[struct {
		Results []refreshResponse `json:"results"`
	}](t, rec)
	if len(resp.Results) != len(resource.All()) {
		t.Errorf("got %d results, want %d", len(resp.Results), len(resource.All()))
	}
}

// TestFreshnessEndpoint verifies populated and unpopulated resources both
// appear, with staleness computed against the threshold.
func TestFreshnessEndpoint(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)

	store2, err := snapshot.Open(filepath.Join(t.TempDir(), "s2.db"),
		snapshot.WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = store2.Close() })
	coordinator := refresh.NewCoordinator(store2, &fakeFetcher{})
	srv := New(store2, coordinator, time.Hour)

	if _, err := store2.Commit(context.Background(), resource.Tasks, []json.RawMessage{json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/freshness/tasks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[freshnessResponse](t, rec)
	if !resp.Populated || !resp.Stale {
		t.Errorf("freshness = %+v, want populated and stale", resp)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/freshness", nil))
	var all struct {
		Resources []freshnessResponse `json:"resources"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all.Resources) != len(resource.All()) {
		t.Fatalf("got %d freshness entries, want %d", len(all.Resources), len(resource.All()))
	}
	for _, entry := range all.Resources {
		if entry.Resource == resource.Tasks && !entry.Populated {
			t.Error("tasks should be populated")
		}
		if entry.Resource == resource.Members && entry.Populated {
			t.Error("members should not be populated")
		}
	}
}

// TestHealthEndpoint verifies a reachable store reports ok.
func TestHealthEndpoint(t *testing.T) {
	fx := newFixture(t)
	rec := fx.request(t, "GET", "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
