package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/rmq"
)

// HealthServer exposes liveness over HTTP: the process is healthy iff the
// database, redis and the message bus are all reachable.
type HealthServer struct {
	addr   string
	db     *sql.DB
	redis  *redis.Client
	bus    *rmq.Client
	logger *zap.Logger
}

func NewHealthServer(addr string, db *sql.DB, redisClient *redis.Client, bus *rmq.Client, logger *zap.Logger) *HealthServer {
	return &HealthServer{
		addr:   addr,
		db:     db,
		redis:  redisClient,
		bus:    bus,
		logger: logger,
	}
}

// Run serves until the context is cancelled.
func (h *HealthServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)

	server := &http.Server{
		Addr:    h.addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"redis":    "ok",
		"bus":      "ok",
	}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}
	if !h.bus.IsConnected() {
		checks["bus"] = "disconnected"
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(checks); err != nil {
		h.logger.Warn("Failed to write health response", zap.Error(err))
	}
}
