// Package httpapi serves the operational endpoints next to the WebSocket
// gateway: liveness, readiness and a presence stats view.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"clipstream/presence/internal/logging"
	"clipstream/presence/internal/presence"
)

// ReadinessProvider exposes the server state readiness checks report on.
type ReadinessProvider interface {
	SessionCount() int
	AuthLinkError() error
	Uptime() time.Duration
}

// StatsProvider exposes the cached presence summary the stats endpoint serves.
// Serving the cache keeps /stats off the registry lock.
type StatsProvider interface {
	CachedSnapshot() map[string]any
	CachedDetail() []presence.DeviceDetail
	CachedMemHuman() string
}

// QueueStatsFunc reports the staged broadcast backlog and total overflow drops.
type QueueStatsFunc func() (depth int, dropped uint64)

// Options configures the HandlerSet.
type Options struct {
	Logger     *logging.Logger
	Readiness  ReadinessProvider
	Stats      StatsProvider
	QueueStats QueueStatsFunc
	AdminToken string
	Version    string
	TimeSource func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	logger     *logging.Logger
	readiness  ReadinessProvider
	stats      StatsProvider
	queueStats QueueStatsFunc
	adminToken string
	version    string
	now        func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:     logger,
		readiness:  opts.Readiness,
		stats:      opts.Stats,
		queueStats: opts.QueueStats,
		adminToken: strings.TrimSpace(opts.AdminToken),
		version:    opts.Version,
		now:        now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/stats", h.StatsHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Version   string `json:"version"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Version:   h.version,
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports session counts and the identity link state. A dead
// identity link means new connections cannot authenticate, so the server is
// not ready even though existing sessions keep working.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Sessions = h.readiness.SessionCount()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.AuthLinkError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// StatsHandler serves the cached presence snapshot. Requests carrying the
// admin token additionally receive the per-device detail map.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	type response struct {
		Version      string                  `json:"version"`
		Snapshot     map[string]any          `json:"snapshot"`
		SocketMem    string                  `json:"socket_mem"`
		QueueDepth   int                     `json:"queue_depth"`
		QueueDropped uint64                  `json:"queue_dropped"`
		Detail       []presence.DeviceDetail `json:"users_online_detail,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Version: h.version, Snapshot: map[string]any{}}
		if h.stats != nil {
			resp.Snapshot = h.stats.CachedSnapshot()
			resp.SocketMem = h.stats.CachedMemHuman()
		}
		if h.queueStats != nil {
			resp.QueueDepth, resp.QueueDropped = h.queueStats()
		}
		if h.adminToken != "" && h.authorise(r) {
			if h.stats != nil {
				resp.Detail = h.stats.CachedDetail()
			}
		} else if hasToken(r) {
			h.logger.Warn("stats detail denied: unauthorized request",
				logging.String("remote_addr", r.RemoteAddr))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func hasToken(r *http.Request) bool {
	return strings.TrimSpace(r.Header.Get("Authorization")) != "" ||
		strings.TrimSpace(r.Header.Get("X-Admin-Token")) != "" ||
		strings.TrimSpace(r.URL.Query().Get("token")) != ""
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
