// Package refresh drives snapshot refreshes: the Coordinator collapses
// concurrent refresh requests into at most one upstream fetch per resource
// type, and the Scheduler triggers periodic refreshes per resource.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardcache/internal/resource"
	"boardcache/internal/snapshot"
	"boardcache/internal/upstream"
	"boardcache/internal/utils"
)

// Outcome classifies how a refresh attempt ended.
type Outcome string

const (
	// OutcomeSuccess means a new snapshot was committed.
	OutcomeSuccess Outcome = "success"
	// OutcomeTransientFailure means the attempt failed but a later retry
	// may succeed. The prior snapshot stays current.
	OutcomeTransientFailure Outcome = "transient_failure"
	// OutcomePermanentFailure means retrying without operator intervention
	// will not help (bad credentials, misconfigured database).
	OutcomePermanentFailure Outcome = "permanent_failure"
	// OutcomeAlreadyInProgress means another refresh held the lease; no
	// upstream fetch was made.
	OutcomeAlreadyInProgress Outcome = "already_in_progress"
)

// Result reports one refresh attempt.
type Result struct {
	Resource resource.Type      `json:"resource"`
	Outcome  Outcome            `json:"outcome"`
	Snapshot *snapshot.Snapshot `json:"-"`
	Version  int64              `json:"version,omitempty"`
	Duration time.Duration      `json:"duration"`
	Err      error              `json:"-"`
}

// MetricsRecorder receives refresh outcomes for instrumentation.
type MetricsRecorder interface {
	RecordRefresh(res resource.Type, outcome string, duration time.Duration)
}

// Coordinator serializes refreshes per resource type. A refresh holds an
// in-memory lease identified by an owner token; while the lease is held,
// further requests for the same resource return OutcomeAlreadyInProgress
// instead of fetching. Leases on distinct resources are independent.
type Coordinator struct {
	store   *snapshot.Store
	fetcher upstream.Fetcher
	metrics MetricsRecorder
	logger  *utils.Logger

	mu     sync.Mutex
	leases map[resource.Type]string

	now func() time.Time
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the coordinator clock.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator over a store and an upstream fetcher.
func NewCoordinator(store *snapshot.Store, fetcher upstream.Fetcher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   store,
		fetcher: fetcher,
		logger:  utils.GetLogger(),
		leases:  make(map[resource.Type]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// acquire takes the lease for a resource, returning the owner token, or ""
// if another refresh already holds it.
func (c *Coordinator) acquire(res resource.Type) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.leases[res]; held {
		return ""
	}
	token := uuid.NewString()
	c.leases[res] = token
	return token
}

// release frees the lease if the token still owns it.
func (c *Coordinator) release(res resource.Type, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leases[res] == token {
		delete(c.leases, res)
	}
}

// InProgress reports whether a refresh currently holds the lease for res.
func (c *Coordinator) InProgress(res resource.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, held := c.leases[res]
	return held
}

// Refresh fetches the full upstream record set for a resource type and
// commits it as the next snapshot. The lease is always released before
// returning, whatever the outcome.
func (c *Coordinator) Refresh(ctx context.Context, res resource.Type) Result {
	token := c.acquire(res)
	if token == "" {
		c.logger.Debug("refresh %s: already in progress, collapsing", res)
		result := Result{Resource: res, Outcome: OutcomeAlreadyInProgress}
		c.record(result)
		return result
	}
	defer c.release(res, token)

	start := c.now()
	records, err := c.fetcher.FetchAll(ctx, res)
	if err != nil {
		result := Result{
			Resource: res,
			Duration: c.now().Sub(start),
			Err:      err,
		}
		switch upstream.KindOf(err) {
		case upstream.Permanent:
			result.Outcome = OutcomePermanentFailure
			c.logger.Error("refresh %s: permanent failure: %v", res, err)
		default:
			result.Outcome = OutcomeTransientFailure
			c.logger.Warn("refresh %s: transient failure: %v", res, err)
		}
		// A refresh cut short by shutdown is not an upstream failure;
		// leave last_error alone.
		if ctx.Err() == nil {
			c.store.RecordFailure(ctx, res, err.Error())
		}
		c.record(result)
		return result
	}

	snap, err := c.store.Commit(ctx, res, records)
	if err != nil {
		// A commit that cannot land is retryable; the prior snapshot
		// stays current either way.
		result := Result{
			Resource: res,
			Outcome:  OutcomeTransientFailure,
			Duration: c.now().Sub(start),
			Err:      err,
		}
		if errors.Is(err, snapshot.ErrStorageUnavailable) {
			c.logger.Error("refresh %s: storage unavailable: %v", res, err)
		} else {
			c.logger.Error("refresh %s: commit failed: %v", res, err)
		}
		if ctx.Err() == nil {
			c.store.RecordFailure(ctx, res, err.Error())
		}
		c.record(result)
		return result
	}

	result := Result{
		Resource: res,
		Outcome:  OutcomeSuccess,
		Snapshot: snap,
		Version:  snap.Version,
		Duration: c.now().Sub(start),
	}
	c.logger.Info("refresh %s: committed version %d (%d records in %v)",
		res, snap.Version, len(snap.Records), result.Duration.Round(time.Millisecond))
	c.record(result)
	return result
}

// RefreshAll refreshes every resource type in order, one at a time.
// A failure on one resource does not stop the rest.
func (c *Coordinator) RefreshAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(resource.All()))
	for _, res := range resource.All() {
		if ctx.Err() != nil {
			break
		}
		results = append(results, c.Refresh(ctx, res))
	}
	return results
}

func (c *Coordinator) record(r Result) {
	if c.metrics != nil {
		c.metrics.RecordRefresh(r.Resource, string(r.Outcome), r.Duration)
	}
}
