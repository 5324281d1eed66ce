// Package api provides the HTTP and gRPC server for quantdash, exposing
// price-panel management, backtest runs and the run archive.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quantdash/internal/domain"
	"quantdash/internal/events"
	"quantdash/internal/panel"
	"quantdash/internal/report"
	"quantdash/internal/store"
	"quantdash/internal/strategy"
	"quantdash/internal/util"
)

// maxUploadBytes bounds the size of an uploaded price CSV.
const maxUploadBytes = 256 << 20

// Sample generation defaults.
const (
	defaultSampleDays = 600
	defaultSampleSeed = 42
)

// Options wires a Server to its collaborators.
type Options struct {
	Backtester *strategy.Backtester
	Prices     store.PriceStore // optional; the panel is kept in memory only when nil
	Runs       store.RunStore
	Defaults   domain.Params
	Lenient    bool // default for uploads without ?lenient=
	Logger     *slog.Logger
	Metrics    *Metrics
	Events     *events.Hub
	Now        func() time.Time
}

// Server serves the quantdash HTTP API. The current panel is replaced by
// uploads and read by runs; runs never observe a half-replaced panel.
type Server struct {
	bt       *strategy.Backtester
	prices   store.PriceStore
	runs     store.RunStore
	defaults domain.Params
	lenient  bool
	log      *slog.Logger
	metrics  *Metrics
	events   *events.Hub
	now      func() time.Time

	mu    sync.RWMutex
	panel *domain.Panel

	// replaceMu orders panel replacements so the store and memory agree.
	replaceMu sync.Mutex
}

// NewServer creates a new Server from opts.
func NewServer(opts Options) *Server {
	s := &Server{
		bt:       opts.Backtester,
		prices:   opts.Prices,
		runs:     opts.Runs,
		defaults: opts.Defaults,
		lenient:  opts.Lenient,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		events:   opts.Events,
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = util.Discard()
	}
	s.log = s.log.With("component", "api")
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.events == nil {
		s.events = events.NewHub(64)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.defaults.Signal == "" {
		s.defaults = domain.DefaultParams()
	}
	return s
}

// LoadPanel restores the current panel from the price store. An empty
// store leaves the server without a panel.
func (s *Server) LoadPanel(ctx context.Context) error {
	if s.prices == nil {
		return nil
	}
	pts, err := store.ReadPanelPoints(ctx, s.prices, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("reading stored panel: %w", err)
	}
	if len(pts) == 0 {
		return nil
	}
	p, err := panel.FromPoints(pts)
	if err != nil {
		return fmt.Errorf("rebuilding stored panel: %w", err)
	}
	s.setPanel(p)
	s.log.Info("panel restored", "tickers", len(p.Tickers), "rows", p.Rows())
	return nil
}

// Panel returns the current panel, or nil.
func (s *Server) Panel() *domain.Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panel
}

func (s *Server) setPanel(p *domain.Panel) {
	s.mu.Lock()
	s.panel = p
	s.mu.Unlock()
	s.metrics.PanelRows.Set(float64(p.Rows()))
	s.metrics.PanelTickers.Set(float64(len(p.Tickers)))
}

// replacePanel persists p (when a store is configured) and makes it current.
// On a persist error the current panel is left unchanged.
func (s *Server) replacePanel(ctx context.Context, p *domain.Panel) error {
	s.replaceMu.Lock()
	defer s.replaceMu.Unlock()
	if s.prices != nil {
		if err := store.ReplacePanel(ctx, s.prices, p.Points()); err != nil {
			return fmt.Errorf("persisting panel: %w", err)
		}
	}
	s.setPanel(p)
	s.events.Publish(events.TypePanel, summarize(p))
	return nil
}

// RunBacktest runs params against the current panel and archives the
// result. It is shared by the HTTP and gRPC front ends.
func (s *Server) RunBacktest(ctx context.Context, params domain.Params) (*domain.Result, error) {
	start := time.Now()
	p := s.Panel()
	if p == nil {
		s.metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, domain.ErrEmptyPanel
	}

	res, err := s.bt.Run(ctx, p, params)
	s.metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if s.runs != nil {
		if err := s.runs.SaveRun(ctx, res); err != nil {
			s.metrics.RunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("archiving run %s: %w", res.RunID, err)
		}
	}
	s.metrics.RunsTotal.WithLabelValues("ok").Inc()
	s.metrics.RunDays.Observe(float64(res.NDays()))
	s.events.Publish(events.TypeRun, res.Summary())
	return res, nil
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/panel", s.handleGetPanel)
	mux.HandleFunc("POST /api/panel", s.handleUploadPanel)
	mux.HandleFunc("POST /api/sample", s.handleLoadSample)
	mux.HandleFunc("GET /api/sample.csv", s.handleSampleCSV)
	mux.HandleFunc("GET /api/signals", s.handleSignals)
	mux.HandleFunc("GET /api/defaults", s.handleDefaults)
	mux.HandleFunc("POST /api/runs", s.handleRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/runs/{id}/equity.csv", s.handleEquityCSV)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns an http.Handler with CORS and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.metrics.instrument(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Error kinds reported to clients.
const (
	KindMalformedRow  = "malformed_row"
	KindDuplicateRow  = "duplicate_row"
	KindEmptyPanel    = "empty_panel"
	KindEmptySeries   = "empty_series"
	KindInvalidParams = "invalid_params"
	KindNotFound      = "not_found"
	KindLimitBreach   = "limit_breach"
	KindInternal      = "internal"
)

// Classify maps an error from the domain taxonomy to an HTTP status and a
// client-facing kind.
func Classify(err error) (int, string) {
	var (
		mre *domain.MalformedRowError
		dre *domain.DuplicateRowError
		pe  *domain.ParamError
		le  *domain.LimitError
	)
	switch {
	case errors.As(err, &mre):
		return http.StatusBadRequest, KindMalformedRow
	case errors.As(err, &dre):
		return http.StatusBadRequest, KindDuplicateRow
	case errors.As(err, &pe):
		return http.StatusBadRequest, KindInvalidParams
	case errors.Is(err, domain.ErrEmptyPanel):
		return http.StatusUnprocessableEntity, KindEmptyPanel
	case errors.Is(err, domain.ErrEmptySeries):
		return http.StatusUnprocessableEntity, KindEmptySeries
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.As(err, &le):
		return http.StatusInternalServerError, KindLimitBreach
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSONStatus(w, status, ErrorResponse{Error: msg, Kind: kind})
}

// writeDomainError classifies err and writes it. Internal failures are
// logged.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := Classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeError(w, status, kind, err.Error())
}

// ---------------------------------------------------------------------------
// Panel handlers
// ---------------------------------------------------------------------------

// PanelSummary describes the current panel.
type PanelSummary struct {
	Rows    int      `json:"rows"`
	Tickers []string `json:"tickers"`
	Dates   int      `json:"dates"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
}

// UploadResponse is returned by panel uploads and sample loads.
type UploadResponse struct {
	Panel   PanelSummary `json:"panel"`
	Rows    int          `json:"rows_read"`
	Dropped int          `json:"rows_dropped"`
	Errors  []string     `json:"errors,omitempty"`
}

func summarize(p *domain.Panel) PanelSummary {
	return PanelSummary{
		Rows:    p.Rows(),
		Tickers: p.Tickers,
		Dates:   len(p.Dates),
		Start:   p.Start().Format(domain.DateLayout),
		End:     p.End().Format(domain.DateLayout),
	}
}

func (s *Server) handleGetPanel(w http.ResponseWriter, _ *http.Request) {
	p := s.Panel()
	if p == nil {
		writeError(w, http.StatusNotFound, KindNotFound, "no price panel loaded")
		return
	}
	writeJSON(w, summarize(p))
}

func (s *Server) handleUploadPanel(w http.ResponseWriter, r *http.Request) {
	lenient := s.lenient
	if v := r.URL.Query().Get("lenient"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, KindInvalidParams, "lenient must be a boolean")
			return
		}
		lenient = b
	}

	body, err := uploadBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindMalformedRow, err.Error())
		return
	}
	defer body.Close()

	p, rep, err := panel.LoadCSV(body, panel.Options{Lenient: lenient})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.replacePanel(r.Context(), p); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.metrics.RowsDropped.Add(float64(rep.Dropped))
	s.log.Info("panel uploaded", "rows", rep.Rows, "kept", rep.Kept, "dropped", rep.Dropped, "tickers", len(p.Tickers))

	resp := UploadResponse{Panel: summarize(p), Rows: rep.Rows, Dropped: rep.Dropped}
	for _, e := range rep.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, resp)
}

// uploadBody returns the CSV payload of r: the "file" part of a multipart
// form, or the raw body otherwise.
func uploadBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return r.Body, nil
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("reading multipart file: %w", err)
	}
	return f, nil
}

// sampleArgs parses days, seed and tickers query parameters.
func sampleArgs(r *http.Request) (days int, seed uint64, tickers []string, err error) {
	q := r.URL.Query()
	days, seed = defaultSampleDays, defaultSampleSeed
	if v := q.Get("days"); v != "" {
		if days, err = strconv.Atoi(v); err != nil {
			return 0, 0, nil, &domain.ParamError{Field: "days", Reason: "must be a positive integer"}
		}
	}
	if v := q.Get("seed"); v != "" {
		if seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return 0, 0, nil, &domain.ParamError{Field: "seed", Reason: "must be a non-negative integer"}
		}
	}
	if v := q.Get("tickers"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				tickers = append(tickers, t)
			}
		}
	}
	if err := panel.CheckSampleSize(days, len(tickers)); err != nil {
		return 0, 0, nil, err
	}
	return days, seed, tickers, nil
}

func (s *Server) handleLoadSample(w http.ResponseWriter, r *http.Request) {
	days, seed, tickers, err := sampleArgs(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	pts := panel.Sample(days, tickers, seed, s.now())
	p, err := panel.FromPoints(pts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.replacePanel(r.Context(), p); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info("sample panel loaded", "days", days, "seed", seed, "tickers", len(p.Tickers))
	writeJSON(w, UploadResponse{Panel: summarize(p), Rows: len(pts)})
}

func (s *Server) handleSampleCSV(w http.ResponseWriter, r *http.Request) {
	days, seed, tickers, err := sampleArgs(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sample_prices.csv"`)
	if err := panel.WriteCSV(w, panel.Sample(days, tickers, seed, s.now())); err != nil {
		s.log.Error("writing sample csv", "error", err)
	}
}

// ---------------------------------------------------------------------------
// Run handlers
// ---------------------------------------------------------------------------

func (s *Server) handleSignals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string][]string{"signals": s.bt.Strategies()})
}

func (s *Server) handleDefaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.defaults)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	params := s.defaults
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidParams, err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			var pe *domain.ParamError
			if !errors.As(err, &pe) {
				err = &domain.ParamError{Field: "body", Reason: err.Error()}
			}
			s.writeDomainError(w, r, err)
			return
		}
	}

	res, err := s.RunBacktest(r.Context(), params)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, KindInvalidParams, "limit must be an integer")
			return
		}
		limit = n
	}
	if s.runs == nil {
		writeJSON(w, []domain.RunSummary{})
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	writeJSON(w, runs)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*domain.Result, bool) {
	if s.runs == nil {
		s.writeDomainError(w, r, fmt.Errorf("run archive disabled: %w", domain.ErrNotFound))
		return nil, false
	}
	res, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return res, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if res, ok := s.lookupRun(w, r); ok {
		writeJSON(w, res)
	}
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeDomainError(w, r, fmt.Errorf("run archive disabled: %w", domain.ErrNotFound))
		return
	}
	if err := s.runs.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.events.Publish(events.TypeRunDeleted, map[string]string{"run_id": r.PathValue("id")})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEquityCSV(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="equity_%s.csv"`, res.RunID))
	if err := report.WriteEquityCSV(w, res.Days); err != nil {
		s.log.Error("writing equity csv", "run_id", res.RunID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Event stream
// ---------------------------------------------------------------------------

// handleEvents streams hub events as server-sent events. A reconnecting
// client's Last-Event-ID replays the retained events it missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		after, _ = strconv.ParseUint(v, 10, 64)
	}
	id, backlog, ch := s.events.Subscribe(16, after)
	defer s.events.Unsubscribe(id)

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(e events.Event) bool {
		data, err := json.Marshal(e)
		if err != nil {
			s.log.Error("encoding event", "seq", e.Seq, "error", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	for _, e := range backlog {
		if !send(e) {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok || !send(e) {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "panel_loaded": s.Panel() != nil})
}
