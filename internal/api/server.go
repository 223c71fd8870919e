// Package api serves stored articles, the ranked home page and run health
// over HTTP, and lets an authorized caller trigger an ingest run.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deusflow/newsdesk/internal/config"
	"github.com/deusflow/newsdesk/internal/metrics"
	"github.com/deusflow/newsdesk/internal/pipeline"
	"github.com/deusflow/newsdesk/internal/ranker"
	"github.com/deusflow/newsdesk/internal/storage"
)

const (
	DefaultPoolSize = 100
	maxPageSize     = 50
)

// Refresher runs one ingest pass on demand.
type Refresher interface {
	Refresh(ctx context.Context) (pipeline.Result, error)
}

type Options struct {
	Store        storage.ArticleStore
	Refresher    Refresher
	Guard        *RefreshGuard
	Metrics      *metrics.Metrics
	RefreshToken string
	SettingsPath string
	PoolSize     int
	Logger       *slog.Logger
	Now          func() time.Time
}

type Server struct {
	store        storage.ArticleStore
	refresher    Refresher
	guard        *RefreshGuard
	metrics      *metrics.Metrics
	refreshToken string
	settingsPath string
	poolSize     int
	log          *slog.Logger
	now          func() time.Time
}

func New(opts Options) *Server {
	s := &Server{
		store:        opts.Store,
		refresher:    opts.Refresher,
		guard:        opts.Guard,
		metrics:      opts.Metrics,
		refreshToken: opts.RefreshToken,
		settingsPath: opts.SettingsPath,
		poolSize:     opts.PoolSize,
		log:          opts.Logger,
		now:          opts.Now,
	}
	if s.guard == nil {
		s.guard = NewRefreshGuard(time.Minute, nil)
	}
	if s.metrics == nil {
		s.metrics = metrics.Global
	}
	if s.poolSize <= 0 {
		s.poolSize = DefaultPoolSize
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /items", s.handleItems)
	mux.HandleFunc("GET /home", s.handleHome)
	mux.HandleFunc("GET /sources", s.handleSources)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)
	mux.HandleFunc("POST /refresh", s.handleRefresh)

	var h http.Handler = mux
	h = withRecover(s.log, h)
	h = withLogging(s.log, h)
	return otelhttp.NewHandler(h, "newsdesk-api")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	s.log.Error("store request failed", "op", op, "err", err)
	writeError(w, http.StatusServiceUnavailable, "storage unavailable")
}

// intParam parses a query parameter. Missing means def; out of range or
// non-numeric is an error.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

type healthResponse struct {
	Status  string             `json:"status"`
	LastRun *storage.RunRecord `json:"last_run"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		s.log.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", LastRun: run})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetStats())
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", storage.DefaultRecentLimit, 1, storage.MaxRecentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.store.Recent(r.Context(), storage.RecentOptions{
		Limit: limit,
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
	})
	if err != nil {
		s.storeError(w, "items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.Sources(r.Context())
	if err != nil {
		s.storeError(w, "sources", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// handleHome pages through the home ordering: the ranked selection first,
// then the rest of the candidate pool newest first.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings()
	if err != nil {
		s.log.Warn("settings unavailable, using defaults", "err", err)
	}

	offset, err := intParam(r, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", settings.HomeCount, 1, maxPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := s.store.Recent(r.Context(), storage.RecentOptions{
		Limit:  s.poolSize,
		Source: strings.TrimSpace(r.URL.Query().Get("source")),
	})
	if err != nil {
		s.storeError(w, "home", err)
		return
	}

	ordered := HomeOrder(pool, settings, s.now())
	if offset >= len(ordered) {
		writeJSON(w, http.StatusOK, []storage.Article{})
		return
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	writeJSON(w, http.StatusOK, ordered[offset:end])
}

// HomeOrder puts the ranked selection ahead of the remaining pool items,
// which keep their incoming order.
func HomeOrder(pool []storage.Article, settings config.ServerSettings, now time.Time) []storage.Article {
	picked := ranker.Select(pool, ranker.Options{
		HomeCount:      settings.HomeCount,
		PerDomainQuota: settings.PerDomainQuota,
		HalfLifeHours:  float64(settings.RecencyHalfLifeHours),
	}, now)

	used := make(map[string]bool, len(picked))
	for _, a := range picked {
		used[a.URL] = true
	}

	out := make([]storage.Article, 0, len(pool))
	out = append(out, picked...)
	for _, a := range pool {
		if !used[a.URL] {
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) settings() (config.ServerSettings, error) {
	if s.settingsPath == "" {
		return config.DefaultServerSettings(), nil
	}
	st, err := config.LoadServerSettings(s.settingsPath)
	if err != nil {
		return st.Normalize(), err
	}
	return st, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	st, err := s.settings()
	if err != nil {
		s.log.Warn("settings unavailable, using defaults", "err", err)
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	st, _ := s.settings()
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.settingsPath == "" {
		writeJSON(w, http.StatusOK, st.Normalize())
		return
	}
	saved, err := config.SaveServerSettings(s.settingsPath, st)
	if err != nil {
		s.log.Error("failed to save settings", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// authorized checks the bearer token. An unset token rejects everyone.
func (s *Server) authorized(r *http.Request) bool {
	if s.refreshToken == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.refreshToken)) == 1
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}

	release, err := s.guard.Acquire()
	if err != nil {
		s.metrics.IncrementRefreshRejected()
		if wait := s.guard.RetryAfter(); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	defer release()

	res, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.log.Error("refresh failed", "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNoFeeds) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"ok": false, "error": err.Error(), "stats": res.Stats})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": res.Stats, "run_id": res.RunID})
}
