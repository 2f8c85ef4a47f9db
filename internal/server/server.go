// Package server exposes the cache over HTTP: snapshot reads with
// filters, freshness introspection, on-demand refresh triggers, health,
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"boardcache/internal/metrics"
	"boardcache/internal/refresh"
	"boardcache/internal/resource"
	"boardcache/internal/snapshot"
	"boardcache/internal/utils"
	"boardcache/internal/views"
)

// Server serves the cache API.
type Server struct {
	store       *snapshot.Store
	coordinator *refresh.Coordinator
	collector   *metrics.Collector
	staleness   time.Duration
	logger      *utils.Logger
	now         func() time.Time

	httpServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsHandler attaches the collector whose handler serves /metrics.
func WithMetricsHandler(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithClock overrides the clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server over a store and a refresh coordinator. Snapshots
// older than staleness are flagged stale in freshness responses.
func New(store *snapshot.Store, coordinator *refresh.Coordinator, staleness time.Duration, opts ...Option) *Server {
	s := &Server{
		store:       store,
		coordinator: coordinator,
		staleness:   staleness,
		logger:      utils.GetLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/refresh", s.handleRefreshAll)
	mux.HandleFunc("POST /v1/refresh/{resource}", s.handleRefresh)
	mux.HandleFunc("GET /v1/snapshot/{resource}", s.handleSnapshot)
	mux.HandleFunc("GET /v1/snapshot/{resource}/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/freshness", s.handleFreshnessAll)
	mux.HandleFunc("GET /v1/freshness/{resource}", s.handleFreshness)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.collector != nil {
		mux.Handle("GET /metrics", s.collector.Handler())
	}
	return mux
}

// ListenAndServe starts the server on addr and blocks until it stops.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, format string, args ...any) {
	s.writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// pathResource resolves the {resource} path segment, writing a 404 on an
// unknown type.
func (s *Server) pathResource(w http.ResponseWriter, r *http.Request) (resource.Type, bool) {
	res, err := resource.Parse(r.PathValue("resource"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "%v", err)
		return "", false
	}
	return res, true
}

type refreshResponse struct {
	Resource   resource.Type   `json:"resource"`
	Outcome    refresh.Outcome `json:"outcome"`
	Version    int64           `json:"version,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

func toRefreshResponse(result refresh.Result) refreshResponse {
	resp := refreshResponse{
		Resource:   result.Resource,
		Outcome:    result.Outcome,
		Version:    result.Version,
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

func refreshStatus(outcome refresh.Outcome) int {
	switch outcome {
	case refresh.OutcomeSuccess:
		return http.StatusOK
	case refresh.OutcomeAlreadyInProgress:
		return http.StatusConflict
	case refresh.OutcomePermanentFailure:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, ok := s.pathResource(w, r)
	if !ok {
		return
	}
	result := s.coordinator.Refresh(r.Context(), res)
	s.writeJSON(w, refreshStatus(result.Outcome), toRefreshResponse(result))
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	results := s.coordinator.RefreshAll(r.Context())
	responses := make([]refreshResponse, 0, len(results))
	for _, result := range results {
		responses = append(responses, toRefreshResponse(result))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": responses})
}

// parseFilter builds a views.Filter from query parameters.
func parseFilter(r *http.Request) (views.Filter, error) {
	q := r.URL.Query()
	f := views.Filter{
		Status:    q.Get("status"),
		Assignee:  q.Get("assignee"),
		DueBefore: q.Get("due_before"),
		DueAfter:  q.Get("due_after"),
	}
	if v := q.Get("overdue"); v != "" {
		overdue, err := strconv.ParseBool(v)
		if err != nil {
			return views.Filter{}, fmt.Errorf("invalid overdue value: %q", v)
		}
		f.Overdue = &overdue
	}
	return f, nil
}

type snapshotResponse struct {
	Resource    resource.Type     `json:"resource"`
	Version     int64             `json:"version"`
	FetchedAt   time.Time         `json:"fetched_at"`
	RecordCount int               `json:"record_count"`
	Records     []json.RawMessage `json:"records"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	res, ok := s.pathResource(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	snap, err := s.store.Get(res)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no snapshot for %s yet; trigger a refresh first", res)
		return
	}

	records, err := views.Apply(res, snap.Records, filter)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshotResponse{
		Resource:    res,
		Version:     snap.Version,
		FetchedAt:   snap.FetchedAt,
		RecordCount: len(records),
		Records:     records,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, ok := s.pathResource(w, r)
	if !ok {
		return
	}

	snap, err := s.store.Get(res)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no snapshot for %s yet; trigger a refresh first", res)
		return
	}

	summary, err := views.Summarize(res, snap.Records)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type freshnessResponse struct {
	Resource    resource.Type `json:"resource"`
	Populated   bool          `json:"populated"`
	Version     int64         `json:"version,omitempty"`
	FetchedAt   *time.Time    `json:"fetched_at,omitempty"`
	AgeSeconds  float64       `json:"age_seconds,omitempty"`
	Stale       bool          `json:"stale"`
	Checksum    string        `json:"checksum,omitempty"`
	RecordCount int           `json:"record_count"`
	Refreshing  bool          `json:"refreshing"`
	LastError   string        `json:"last_error,omitempty"`
}

func (s *Server) freshnessFor(res resource.Type) freshnessResponse {
	resp := freshnessResponse{
		Resource:   res,
		Refreshing: s.coordinator.InProgress(res),
		LastError:  s.store.LastFailure(res),
	}

	fresh, err := s.store.Freshness(res)
	if err != nil {
		return resp
	}

	age := s.now().Sub(fresh.FetchedAt)
	resp.Populated = true
	resp.Version = fresh.Version
	resp.FetchedAt = &fresh.FetchedAt
	resp.AgeSeconds = age.Seconds()
	resp.Stale = age > s.staleness
	resp.Checksum = fresh.Checksum
	resp.RecordCount = fresh.RecordCount
	resp.LastError = fresh.LastError
	return resp
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	res, ok := s.pathResource(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.freshnessFor(res))
}

func (s *Server) handleFreshnessAll(w http.ResponseWriter, r *http.Request) {
	responses := make([]freshnessResponse, 0, len(resource.All()))
	for _, res := range resource.All() {
		responses = append(responses, s.freshnessFor(res))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"resources": responses})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"store":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
