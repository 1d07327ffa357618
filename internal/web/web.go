package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dayplan/internal/agenda"
	"dayplan/internal/conflict"
	"dayplan/internal/config"
	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/model"
)

// maxCheckBody bounds POST /api/conflicts/check payloads.
const maxCheckBody = 64 << 10

// maxWindow bounds windows requested through the query string.
const maxWindow = 366 * 24 * time.Hour

var errBadQuery = errors.New("invalid query")

// Agenda is the snapshot owner the API reads from.
type Agenda interface {
	Snapshot() *agenda.Snapshot
	Refresh(ctx context.Context) (*agenda.Snapshot, error)
}

// Server provides the HTTP API over the current agenda snapshot.
type Server struct {
	cfg      *config.Config
	agenda   Agenda
	rec      metrics.Recorder
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// NewServer constructs a new Server. A nil gatherer disables /metrics and a
// nil rec records nothing.
func NewServer(cfg *config.Config, ag Agenda, rec metrics.Recorder, gatherer prometheus.Gatherer) *Server {
	if rec == nil {
		rec = metrics.Nop{}
	}
	s := &Server{
		cfg:      cfg,
		agenda:   ag,
		rec:      rec,
		gatherer: gatherer,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	if s.cfg != nil && s.cfg.BasicAuth != nil {
		appLog.Warn("HTTP basic auth incomplete, API is unauthenticated")
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="dayplan", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("POST /api/conflicts/check", s.handleCheck)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	BuiltAt      time.Time             `json:"built_at"`
	RangeStart   time.Time             `json:"range_start"`
	RangeEnd     time.Time             `json:"range_end"`
	Timezone     string                `json:"timezone"`
	WeekStart    string                `json:"week_start"`
	Events       []model.CalendarEvent `json:"events"`
	Truncated    []model.EventID       `json:"truncated,omitempty"`
	SourceErrors []string              `json:"source_errors,omitempty"`
}

// conflictsResponse is the JSON response shape for /api/conflicts.
type conflictsResponse struct {
	BuiltAt     time.Time             `json:"built_at"`
	RangeStart  time.Time             `json:"range_start"`
	RangeEnd    time.Time             `json:"range_end"`
	Counts      map[model.EventID]int `json:"counts"`
	Conflicting int                   `json:"conflicting"`
	Pairs       []conflict.Pair       `json:"pairs"`
}

// checkRequest is the body of POST /api/conflicts/check.
type checkRequest struct {
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	AllDay    bool          `json:"all_day"`
	ExcludeID model.EventID `json:"exclude_id"`
}

type checkResponse struct {
	HasConflict bool                  `json:"has_conflict"`
	Conflicts   []model.EventConflict `json:"conflicts"`
}

// snapshot returns the current snapshot or writes 503 when none exists yet.
func (s *Server) snapshot(w http.ResponseWriter) (*agenda.Snapshot, bool) {
	snap := s.agenda.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot not built yet")
		return nil, false
	}
	return snap, true
}

// window returns snap, or a snapshot rebuilt for the window the query asks
// for. Either days/backfill (relative to today) or start/end (RFC3339) may
// be given, not both.
func (s *Server) window(q url.Values, snap *agenda.Snapshot) (*agenda.Snapshot, error) {
	relative := q.Has("days") || q.Has("backfill")
	absolute := q.Has("start") || q.Has("end")
	switch {
	case !relative && !absolute:
		return snap, nil
	case relative && absolute:
		return nil, fmt.Errorf("%w: use either days/backfill or start/end", errBadQuery)
	}

	var start, end time.Time
	if absolute {
		var err error
		if start, err = time.Parse(time.RFC3339, q.Get("start")); err != nil {
			return nil, fmt.Errorf("%w: start: %w", errBadQuery, err)
		}
		if end, err = time.Parse(time.RFC3339, q.Get("end")); err != nil {
			return nil, fmt.Errorf("%w: end: %w", errBadQuery, err)
		}
	} else {
		days, err := queryInt(q, "days", s.cfg.HorizonDays)
		if err != nil {
			return nil, err
		}
		backfill, err := queryInt(q, "backfill", s.cfg.BackfillDays)
		if err != nil {
			return nil, err
		}
		if days <= 0 || backfill < 0 {
			return nil, fmt.Errorf("%w: days must be positive and backfill non-negative", errBadQuery)
		}
		start, end = agenda.DayWindow(time.Now(), snap.Location(), backfill, days)
	}

	if end.Sub(start) > maxWindow {
		return nil, fmt.Errorf("%w: window longer than %d days", errBadQuery, int(maxWindow/(24*time.Hour)))
	}
	return snap.Window(start, end)
}

func queryInt(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", errBadQuery, key, err)
	}
	return n, nil
}

// windowed resolves the snapshot for r, writing the error response itself.
func (s *Server) windowed(w http.ResponseWriter, r *http.Request) (*agenda.Snapshot, bool) {
	snap, ok := s.snapshot(w)
	if !ok {
		return nil, false
	}
	snap, err := s.window(r.URL.Query(), snap)
	if err != nil {
		if errors.Is(err, errBadQuery) || errors.Is(err, model.ErrRange) {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
		appLog.Error("api window rebuild failed", err, "query", r.URL.RawQuery)
		writeError(w, http.StatusInternalServerError, "window rebuild failed")
		return nil, false
	}
	return snap, true
}

// handleEvents returns the working set for the snapshot horizon or for a
// requested window.
//
// GET /api/events?days=30&backfill=0
// GET /api/events?start=2024-05-01T00:00:00Z&end=2024-06-01T00:00:00Z
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.windowed(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		BuiltAt:      snap.BuiltAt,
		RangeStart:   snap.RangeStart,
		RangeEnd:     snap.RangeEnd,
		Timezone:     snap.Timezone,
		WeekStart:    snap.WeekStart,
		Events:       snap.Events,
		Truncated:    snap.Truncated,
		SourceErrors: snap.SourceErrors,
	})
}

// handleConflicts accepts the same window parameters as handleEvents.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.windowed(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conflictsResponse{
		BuiltAt:     snap.BuiltAt,
		RangeStart:  snap.RangeStart,
		RangeEnd:    snap.RangeEnd,
		Counts:      snap.ConflictCounts,
		Conflicting: snap.Conflicting(),
		Pairs:       snap.Pairs,
	})
}

// handleCheck runs single-candidate detection against the snapshot.
//
// POST /api/conflicts/check
//
//	{"start": "2024-05-06T14:00:00Z", "end": "2024-05-06T15:00:00Z", "exclude_id": "abc"}
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	var req checkRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.rec.ObserveConflictCheck(metrics.ResultInvalid)
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	conflicts, err := snap.Check(model.TimeInterval{Start: req.Start, End: req.End}, req.AllDay, req.ExcludeID)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			s.rec.ObserveConflictCheck(metrics.ResultInvalid)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("api conflict check failed", err)
		writeError(w, http.StatusInternalServerError, "conflict check failed")
		return
	}

	if len(conflicts) > 0 {
		s.rec.ObserveConflictCheck(metrics.ResultConflict)
	} else {
		s.rec.ObserveConflictCheck(metrics.ResultClear)
		conflicts = []model.EventConflict{}
	}
	writeJSON(w, http.StatusOK, checkResponse{HasConflict: len(conflicts) > 0, Conflicts: conflicts})
}

// handleRefresh rebuilds the snapshot on demand.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agenda.Refresh(r.Context())
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"built_at":    snap.BuiltAt,
		"events":      len(snap.Events),
		"conflicting": snap.Conflicting(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
