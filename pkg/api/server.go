// Plank - REST API server
// Serves board and webhook endpoints + WebSocket for live events + metrics.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/app"
	"github.com/plankhq/plank/pkg/config"
)

// Server is the HTTP API server for the plank daemon.
type Server struct {
	config    *config.Config
	container *app.Container
	wsHub     *WSHub
	bridge    *EventBridge
	startTime time.Time
	server    *http.Server
	log       zerolog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.Config, container *app.Container, log zerolog.Logger) *Server {
	// Secure-by-default: auto-generate an API key when none is configured.
	// Random key per session, printed once at startup; set gateway.api_key or
	// PLANK_API_KEY for a persistent key.
	if cfg.Gateway.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.Gateway.APIKey = hex.EncodeToString(raw)
			log.Info().Str("api_key", cfg.Gateway.APIKey).
				Msg("generated session API key; set gateway.api_key to make it permanent")
		}
	}
	s := &Server{
		config:    cfg,
		container: container,
		startTime: time.Now(),
		log:       log,
	}
	s.wsHub = NewWSHub(s, log)
	s.bridge = NewEventBridge(container.EventBus, s.wsHub)
	return s
}

// Start begins listening on the configured host:port.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/system/status", s.handleSystemStatus)
	mux.HandleFunc("GET /api/system/info", s.handleSystemInfo)

	mux.HandleFunc("POST /api/boards", s.handleCreateBoard)
	mux.HandleFunc("GET /api/boards/{id}", s.handleGetBoard)
	mux.HandleFunc("DELETE /api/boards/{id}", s.handleDeleteBoard)
	mux.HandleFunc("POST /api/boards/{id}/tasks", s.handleAddTask)
	mux.HandleFunc("DELETE /api/boards/{id}/tasks/{task}", s.handleRemoveTask)
	mux.HandleFunc("POST /api/boards/{id}/tasks/{task}/start", s.handleStartTask)
	mux.HandleFunc("POST /api/boards/{id}/tasks/{task}/complete", s.handleCompleteTask)
	mux.HandleFunc("POST /api/boards/{id}/tasks/{task}/assignee", s.handleReassignTask)
	mux.HandleFunc("POST /api/boards/{id}/tasks/{task}/hours", s.handleLogHours)
	mux.HandleFunc("POST /api/boards/{id}/dependencies", s.handleAddDependency)
	mux.HandleFunc("DELETE /api/boards/{id}/dependencies", s.handleRemoveDependency)

	mux.HandleFunc("POST /api/webhooks", s.handleRegisterWebhook)
	mux.HandleFunc("GET /api/webhooks", s.handleListWebhooks)

	// Prometheus scrape endpoint
	mux.Handle("GET /metrics", s.container.Metrics.Handler())

	// WebSocket for live events
	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(authMiddleware(s.config.Gateway.APIKey, s.log, mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("API server starting")

	go s.wsHub.Run(ctx)
	s.bridge.Attach()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.container.Store.Ping(); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)

	var outboxPending int64
	if s.container.Outbox != nil {
		if n, err := s.container.Outbox.PendingCount(r.Context()); err == nil {
			outboxPending = n
		}
	}

	webhookCount := 0
	if hooks, err := s.container.WebhookService.Webhooks(r.Context()); err == nil {
		webhookCount = len(hooks)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
		"outbox": map[string]interface{}{
			"enabled": s.container.Outbox != nil,
			"pending": outboxPending,
		},
		"webhooks":   webhookCount,
		"ws_clients": s.wsHub.ClientCount(),
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":     hostname,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"cpus":         runtime.NumCPU(),
		"goroutines":   runtime.NumGoroutine(),
		"memory_mb":    float64(m.Alloc) / 1024 / 1024,
		"sys_mb":       float64(m.Sys) / 1024 / 1024,
		"gc_cycles":    m.NumGC,
		"gateway_host": s.config.Gateway.Host,
		"gateway_port": s.config.Gateway.Port,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
