package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"boardcache/internal/resource"
	"boardcache/internal/snapshot"
	"boardcache/internal/upstream"
)

// fakeFetcher counts calls and delegates to a per-test fetch function.
type fakeFetcher struct {
	calls int64
	fetch func(ctx context.Context, res resource.Type) ([]json.RawMessage, error)
}

func (f *fakeFetcher) FetchAll(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.fetch(ctx, res)
}

func (f *fakeFetcher) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func mustOpenStore(t *testing.T) *snapshot.Store {
	t.Helper()
	s, err := snapshot.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func staticRecords(docs ...string) []json.RawMessage {
	records := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		records = append(records, json.RawMessage(d))
	}
	return records
}

// TestRefreshSuccess verifies a successful refresh commits a snapshot and
// reports its version.
func TestRefreshSuccess(t *testing.T) {
	store := mustOpenStore(t)
	fetcher := &fakeFetcher{fetch: func(context.Context, resource.Type) ([]json.RawMessage, error) {
		return staticRecords(`{"page_id":"a"}`), nil
	}}
	c := NewCoordinator(store, fetcher)

	result := c.Refresh(context.Background(), resource.Tasks)
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success (err: %v)", result.Outcome, result.Err)
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}

	snap, err := store.Get(resource.Tasks)
	if err != nil {
		t.Fatalf("Get after refresh: %v", err)
	}
	if len(snap.Records) != 1 {
		t.Errorf("stored %d records, want 1", len(snap.Records))
	}
}

// TestConcurrentRefreshCollapses verifies that while one refresh is in
// flight, further requests for the same resource return already_in_progress
// and trigger no additional upstream fetches.
func TestConcurrentRefreshCollapses(t *testing.T) {
	store := mustOpenStore(t)

	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
		close(started)
		<-release
		return staticRecords(`{"page_id":"a"}`), nil
	}}
	c := NewCoordinator(store, fetcher)

	first := make(chan Result, 1)
	go func() { first <- c.Refresh(context.Background(), resource.Tasks) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first refresh never reached upstream")
	}

	var wg sync.WaitGroup
	collapsed := make(chan Result, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collapsed <- c.Refresh(context.Background(), resource.Tasks)
		}()
	}
	wg.Wait()
	close(collapsed)

	for result := range collapsed {
		if result.Outcome != OutcomeAlreadyInProgress {
			t.Errorf("concurrent refresh outcome = %s, want already_in_progress", result.Outcome)
		}
	}

	close(release)
	select {
	case result := <-first:
		if result.Outcome != OutcomeSuccess {
			t.Fatalf("first refresh outcome = %s, want success", result.Outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first refresh never returned")
	}

	if got := fetcher.callCount(); got != 1 {
		t.Errorf("upstream fetches = %d, want 1", got)
	}
}

// TestLeasesAreIndependentPerResource verifies an in-flight refresh of one
// resource does not block a refresh of another.
func TestLeasesAreIndependentPerResource(t *testing.T) {
	store := mustOpenStore(t)

	tasksStarted := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
		if res == resource.Tasks {
			close(tasksStarted)
			<-release
		}
		return staticRecords(`{}`), nil
	}}
	c := NewCoordinator(store, fetcher)

	go c.Refresh(context.Background(), resource.Tasks)
	select {
	case <-tasksStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks refresh never started")
	}

	result := c.Refresh(context.Background(), resource.Projects)
	if result.Outcome != OutcomeSuccess {
		t.Errorf("projects refresh outcome = %s, want success", result.Outcome)
	}
	close(release)
}

// TestTransientFailureKeepsPriorSnapshot verifies a failed refresh leaves
// the previous snapshot current and records the cause.
func TestTransientFailureKeepsPriorSnapshot(t *testing.T) {
	store := mustOpenStore(t)

	var fail atomic.Bool
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
		if fail.Load() {
			return nil, upstream.NewTransient(res, errors.New("upstream returned 503"))
		}
		return staticRecords(`{"page_id":"a"}`), nil
	}}
	c := NewCoordinator(store, fetcher)

	if result := c.Refresh(context.Background(), resource.Tasks); result.Outcome != OutcomeSuccess {
		t.Fatalf("seed refresh outcome = %s", result.Outcome)
	}

	fail.Store(true)
	result := c.Refresh(context.Background(), resource.Tasks)
	if result.Outcome != OutcomeTransientFailure {
		t.Fatalf("outcome = %s, want transient_failure", result.Outcome)
	}

	snap, err := store.Get(resource.Tasks)
	if err != nil {
		t.Fatalf("Get after failure: %v", err)
	}
	if snap.Version != 1 {
		t.Errorf("version after failed refresh = %d, want 1", snap.Version)
	}

	fresh, err := store.Freshness(resource.Tasks)
	if err != nil {
		t.Fatalf("Freshness error: %v", err)
	}
	if fresh.LastError == "" {
		t.Error("failure cause not recorded in freshness")
	}
}

// TestPermanentFailureOutcome verifies auth-style errors classify as
// permanent rather than transient.
func TestPermanentFailureOutcome(t *testing.T) {
	store := mustOpenStore(t)
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
		return nil, upstream.NewPermanent(res, errors.New("authentication failed"))
	}}
	c := NewCoordinator(store, fetcher)

	result := c.Refresh(context.Background(), resource.Members)
	if result.Outcome != OutcomePermanentFailure {
		t.Errorf("outcome = %s, want permanent_failure", result.Outcome)
	}
}

// TestLeaseReleasedAfterFailure verifies a failed refresh frees the lease
// so the next attempt fetches again.
func TestLeaseReleasedAfterFailure(t *testing.T) {
	store := mustOpenStore(t)

	var calls int64
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, upstream.NewTransient(res, errors.New("timeout"))
		}
		return staticRecords(`{}`), nil
	}}
	c := NewCoordinator(store, fetcher)

	if result := c.Refresh(context.Background(), resource.Todos); result.Outcome != OutcomeTransientFailure {
		t.Fatalf("first outcome = %s, want transient_failure", result.Outcome)
	}
	if c.InProgress(resource.Todos) {
		t.Fatal("lease still held after failed refresh")
	}
	if result := c.Refresh(context.Background(), resource.Todos); result.Outcome != OutcomeSuccess {
		t.Errorf("second outcome = %s, want success", result.Outcome)
	}
}

// TestRefreshAllCoversEveryResource verifies RefreshAll touches each
// resource type once and keeps going past failures.
func TestRefreshAllCoversEveryResource(t *testing.T) {
	store := mustOpenStore(t)
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
		if res == resource.Projects {
			return nil, upstream.NewTransient(res, errors.New("timeout"))
		}
		return staticRecords(`{}`), nil
	}}
	c := NewCoordinator(store, fetcher)

	results := c.RefreshAll(context.Background())
	if len(results) != len(resource.All()) {
		t.Fatalf("got %d results, want %d", len(results), len(resource.All()))
	}
	for _, result := range results {
		want := OutcomeSuccess
		if result.Resource == resource.Projects {
			want = OutcomeTransientFailure
		}
		if result.Outcome != want {
			t.Errorf("%s outcome = %s, want %s", result.Resource, result.Outcome, want)
		}
	}
}

// recordingMetrics captures refresh outcomes for assertions.
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingMetrics) RecordRefresh(res resource.Type, outcome string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, string(res)+"/"+outcome)
}

// TestMetricsRecorded verifies outcomes flow to the metrics recorder.
func TestMetricsRecorded(t *testing.T) {
	store := mustOpenStore(t)
	fetcher := &fakeFetcher{fetch: func(context.Context, resource.Type) ([]json.RawMessage, error) {
		return staticRecords(`{}`), nil
	}}
	rec := &recordingMetrics{}
	c := NewCoordinator(store, fetcher, WithMetrics(rec))

	c.Refresh(context.Background(), resource.Tasks)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "tasks/success" {
		t.Errorf("recorded outcomes = %v, want [tasks/success]", rec.outcomes)
	}
}

// TestCancelledRefreshLeavesNoFailureRecord verifies shutdown mid-fetch is
// not persisted as an upstream failure.
func TestCancelledRefreshLeavesNoFailureRecord(t *testing.T) {
	store := mustOpenStore(t)
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewCoordinator(store, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := c.Refresh(ctx, resource.Tasks)

	if result.Outcome != OutcomeTransientFailure {
		t.Errorf("Outcome = %s, want %s", result.Outcome, OutcomeTransientFailure)
	}
	if got := store.LastFailure(resource.Tasks); got != "" {
		t.Errorf("LastFailure = %q, want empty", got)
	}
}
