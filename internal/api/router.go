// Package api exposes the chart data HTTP surface consumed by the
// dashboard frontend.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/statview/statview/internal/history"
	"github.com/statview/statview/internal/models"
	"github.com/statview/statview/internal/series"
	"github.com/statview/statview/internal/websocket"
)

// fallbackWindow is the time-axis width used when the sample set is too
// small to derive bounds from the data itself.
const fallbackWindow = time.Minute

// SampleSource is the slice of the history store the router needs.
type SampleSource interface {
	Query(serverID string, start, end time.Time) ([]models.SampleRecord, error)
	Servers() ([]history.ServerInfo, error)
	GetStats() history.Stats
}

// Router handles all HTTP endpoints.
type Router struct {
	mux       *http.ServeMux
	source    SampleSource
	hub       *websocket.Hub
	startTime time.Time
}

// NewRouter creates the router and registers every route.
func NewRouter(source SampleSource, hub *websocket.Hub) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		source:    source,
		hub:       hub,
		startTime: time.Now(),
	}

	r.mux.HandleFunc("/api/charts", r.handleCharts)
	r.mux.HandleFunc("/api/servers", r.handleServers)
	r.mux.HandleFunc("/api/health", r.handleHealth)
	if hub != nil {
		r.mux.HandleFunc("/ws", hub.HandleWebSocket)
	}
	r.mux.Handle("/metrics", promhttp.Handler())

	return r
}

// ServeHTTP dispatches through the access-log and metrics middleware.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.mux.ServeHTTP(recorder, req)

	elapsed := time.Since(start)
	route := normalizeRoute(req.URL.Path)
	recordAPIRequest(req.Method, route, recorder.status, elapsed)

	log.Debug().
		Str("requestID", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", recorder.status).
		Dur("elapsed", elapsed).
		Msg("Handled API request")
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// ChartResponse is the /api/charts payload: the transformed series plus
// the horizontal axis bounds.
type ChartResponse struct {
	models.TransformResult
	TimeBounds models.TimeBounds `json:"timeBounds"`
}

func (r *Router) handleCharts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := req.URL.Query()

	serverID := query.Get("server")
	if serverID == "" {
		http.Error(w, "Missing server parameter", http.StatusBadRequest)
		return
	}

	kind, err := models.ParseMetricKind(query.Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	window := parseRange(query.Get("range"))
	end := time.Now()
	start := end.Add(-window)

	records, err := r.source.Query(serverID, start, end)
	if err != nil {
		log.Error().Err(err).Str("server", serverID).Msg("Failed to query sample history")
		http.Error(w, "Failed to query sample history", http.StatusInternalServerError)
		return
	}

	result := series.Transform(records, kind)

	bounds, ok := series.TimeBounds(result)
	switch {
	case !ok:
		// No points at all; pin a fixed window ending now so the frontend
		// still renders an empty chart frame.
		bounds = models.TimeBounds{
			MinMs: end.Add(-fallbackWindow).UnixMilli(),
			MaxMs: end.UnixMilli(),
		}
	case bounds.MinMs == bounds.MaxMs:
		// Single sample; widen the degenerate zero-width window around it.
		half := fallbackWindow.Milliseconds() / 2
		bounds = models.TimeBounds{MinMs: bounds.MinMs - half, MaxMs: bounds.MaxMs + half}
	}

	writeJSON(w, ChartResponse{TransformResult: result, TimeBounds: bounds})
}

func (r *Router) handleServers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	servers, err := r.source.Servers()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list servers")
		http.Error(w, "Failed to list servers", http.StatusInternalServerError)
		return
	}
	if servers == nil {
		servers = []history.ServerInfo{}
	}

	writeJSON(w, servers)
}

// HealthResponse is the /api/health payload.
type HealthResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptimeSeconds"`
	Clients       int           `json:"wsClients"`
	Storage       history.Stats `json:"storage"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clients := 0
	if r.hub != nil {
		clients = r.hub.GetClientCount()
	}

	writeJSON(w, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
		Clients:       clients,
		Storage:       r.source.GetStats(),
	})
}

// parseRange maps the frontend's range strings onto durations, defaulting
// to one hour for anything unrecognized.
func parseRange(value string) time.Duration {
	switch value {
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "", "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "24h":
		return 24 * time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
