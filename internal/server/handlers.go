package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/service/query"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	query               *query.Service
	engine              CycleRunner
	store               Pinger
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	storeDriver         string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, OpenAPISpec.
type HandlersDeps struct {
	Query               *query.Service
	Engine              CycleRunner
	Store               Pinger
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	StoreDriver         string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 10
	}
	return &Handlers{
		query:               d.Query,
		engine:              d.Engine,
		store:               d.Store,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		storeDriver:         d.StoreDriver,
		maxRequestBodyBytes: maxBody,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleConflicts handles GET /v1/conflicts.
func (h *Handlers) HandleConflicts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	q := r.URL.Query()
	page, err := h.query.Conflicts(r.Context(), query.ConflictQuery{
		Sort:    q.Get("sort"),
		Theatre: q.Get("theatre"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeList(w, r, orEmpty(page.Items), page.Total, page.Limit, page.Offset, page.HasMore)
}

// HandleTheatres handles GET /v1/theatres.
func (h *Handlers) HandleTheatres(w http.ResponseWriter, r *http.Request) {
	minTension, err := queryFloat(r, "min_tension")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	out, err := h.query.Theatres(r.Context(), query.TheatreQuery{
		Sort:       r.URL.Query().Get("sort"),
		MinTension: minTension,
	})
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(out))
}

// HandleFronts handles GET /v1/fronts.
func (h *Handlers) HandleFronts(w http.ResponseWriter, r *http.Request) {
	minIntensity, err := queryFloat(r, "min_intensity")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	out, err := h.query.Fronts(r.Context(), query.FrontQuery{
		Theatre:      r.URL.Query().Get("theatre"),
		MinIntensity: minIntensity,
	})
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(out))
}

// HandleAlliances handles GET /v1/alliances.
func (h *Handlers) HandleAlliances(w http.ResponseWriter, r *http.Request) {
	out, err := h.query.Alliances(r.Context())
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(out))
}

// HandleRelations handles GET /v1/relations.
func (h *Handlers) HandleRelations(w http.ResponseWriter, r *http.Request) {
	minStrength, err := queryFloat(r, "min_strength")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	q := r.URL.Query()
	out, err := h.query.Relations(r.Context(), query.RelationQuery{
		Entity:       q.Get("entity"),
		RelationType: q.Get("relation_type"),
		MinStrength:  minStrength,
	})
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(out))
}

// HandleWorld handles GET /v1/world.
func (h *Handlers) HandleWorld(w http.ResponseWriter, r *http.Request) {
	world, err := h.query.World(r.Context())
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, world)
}

// HandleCycle handles POST /v1/cycle. The body is optional.
func (h *Handlers) HandleCycle(w http.ResponseWriter, r *http.Request) {
	var req model.CycleRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, errEmptyBody) {
		handleDecodeError(w, r, err)
		return
	}
	opts, err := runOptions(req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// A client disconnect must not abort a half-written tick; the engine's
	// own tick timeout still applies.
	res, err := h.engine.RunUpdateCycle(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		if errors.Is(err, cce.ErrTickInProgress) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "an update cycle is already running")
			return
		}
		h.logger.Error("cycle: run failed", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "update cycle could not start")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleLastCycle handles GET /v1/cycle.
func (h *Handlers) HandleLastCycle(w http.ResponseWriter, r *http.Request) {
	last := h.engine.LastTick()
	if last == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no update cycle has completed yet")
		return
	}
	writeJSON(w, r, http.StatusOK, last)
}

func runOptions(req model.CycleRequest) (cce.RunOptions, error) {
	opts := cce.RunOptions{V2Enabled: req.V2Enabled}
	if req.MinTension != nil {
		v := *req.MinTension
		if math.IsNaN(v) || v < 0 || v > 1 {
			return cce.RunOptions{}, errors.New("min_tension must be within [0,1]")
		}
		opts.MinTension = &v
	}
	if req.MaxAgeSecs != nil {
		if *req.MaxAgeSecs <= 0 {
			return cce.RunOptions{}, errors.New("max_age_seconds must be positive")
		}
		d := time.Duration(*req.MaxAgeSecs) * time.Second
		opts.MaxAge = &d
	}
	return opts, nil
}

// HandleSubscribe handles GET /v1/subscribe, streaming one SSE event per
// completed update cycle.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "tick stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle streams would otherwise be cut at WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.Config()
	resp := model.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Store:     h.storeDriver,
		StoreOK:   true,
		Enabled:   cfg.Flags.Enabled,
		V2Enabled: cfg.Flags.V2Enabled,
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.StoreOK = false
		status = http.StatusServiceUnavailable
	}
	if last := h.engine.LastTick(); last != nil {
		at := last.FinishedAt
		resp.LastTickAt = &at
		if !last.Success && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, r, status, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// writeQueryError maps query and store errors to responses.
func (h *Handlers) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidSort), errors.Is(err, query.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, cce.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	default:
		h.logger.Error("query failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// queryFloat parses an optional float query parameter; absent means 0.
func queryFloat(r *http.Request, key string) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return f, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
