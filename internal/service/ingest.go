// Package service wires the ingestion pipeline together: database, redis
// activity feed, message bus, handlers and the health endpoint.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/config"
	"github.com/astrosat/safers-dashboard-api/internal/correlation"
	"github.com/astrosat/safers-dashboard-api/internal/handler"
	"github.com/astrosat/safers-dashboard-api/internal/notify"
	"github.com/astrosat/safers-dashboard-api/internal/repository"
	"github.com/astrosat/safers-dashboard-api/internal/rmq"
)

// Queue names for the dispatch table.
const (
	queueAlerts      = "alerts"
	queueCameras     = "cameras"
	queueMapRequests = "map_requests"
)

// IngestService is the long-running message consumer.
type IngestService struct {
	cfg    *config.Config
	logger *zap.Logger

	db     *sql.DB
	redis  *redis.Client
	client *rmq.Client
	router *rmq.Router
	health *HealthServer

	// Fanout and Validator are exposed for the API layer: dispatching
	// created map requests and validating alerts.
	Fanout    *handler.MapRequestFanout
	Validator *handler.AlertValidator

	wg      sync.WaitGroup
	stopCtx context.CancelFunc
}

// NewIngestService builds the full pipeline from configuration. It connects
// to postgres, redis and the message bus, and binds one queue per message
// family.
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	db, err := repository.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := notify.NewRedisClient(&cfg.Redis)
	feed := notify.NewFeed(redisClient, cfg.Safers.ActivityStream, logger)

	client, err := rmq.NewClient(&cfg.MQTT, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}
	router := rmq.NewRouter(client, logger)

	correlator := correlation.NewCorrelator(
		cfg.Safers.PossibleEventDistanceKm,
		cfg.Safers.PossibleEventTimerange,
		logger,
	)

	alerts := handler.NewAlertHandler(db, feed, logger)
	cameras := handler.NewCameraHandler(
		db, feed,
		cfg.Safers.CameraMediaTriggerTimerange,
		cfg.Safers.CameraMediaPreserveTimerange,
		logger,
	)
	mapRequests := handler.NewMapRequestHandler(db, feed, logger)

	router.Bind(queueAlerts, cfg.Safers.Topics.Alerts, alerts.Handle)
	router.Bind(queueCameras, cfg.Safers.Topics.Cameras, cameras.Handle)
	router.Bind(queueMapRequests, cfg.Safers.Topics.MapRequestStatus, mapRequests.Handle)

	svc := &IngestService{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		client:    client,
		router:    router,
		Fanout:    handler.NewMapRequestFanout(db, router, cfg.Safers.Site, logger),
		Validator: handler.NewAlertValidator(db, correlator, feed, logger),
	}
	svc.health = NewHealthServer(cfg.Health.Addr, db, redisClient, client, logger)

	return svc, nil
}

// Start launches the consumer and health workers and returns. Use Stop to
// shut down.
func (s *IngestService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.stopCtx = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.router.Start(runCtx); err != nil {
			s.logger.Error("Message router stopped", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.health.Run(runCtx); err != nil {
			s.logger.Error("Health server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Ingest service started",
		zap.String("site", s.cfg.Safers.Site),
		zap.String("broker", s.cfg.MQTT.Broker),
	)
	return nil
}

// Stop drains the workers and closes every connection, consumer side first
// so no message arrives on a closing pipeline.
func (s *IngestService) Stop() {
	if err := s.router.Stop(); err != nil {
		s.logger.Warn("Failed to unbind routing patterns", zap.Error(err))
	}
	if s.stopCtx != nil {
		s.stopCtx()
	}
	s.wg.Wait()

	s.client.Disconnect()
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("Failed to close redis connection", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database connection", zap.Error(err))
	}

	s.logger.Info("Ingest service stopped")
}
