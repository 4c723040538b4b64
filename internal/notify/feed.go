// Package notify publishes ingestion outcomes to the dashboard's activity
// feed on Redis Streams.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/config"
)

// Activity kinds published to the feed.
const (
	ActivityAlertCreated       = "alert.created"
	ActivityCameraMediaCreated = "camera_media.created"
	ActivityEventOpened        = "event.opened"
	ActivityEventExtended      = "event.extended"
	ActivityMapRequestLayer    = "map_request.layer_status"
)

// NewRedisClient builds the feed's redis connection.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Feed appends activity entries to a redis stream.
type Feed struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

func NewFeed(client *redis.Client, stream string, logger *zap.Logger) *Feed {
	return &Feed{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Publish appends one activity entry. It runs after the ingestion
// transaction has committed, so failures are logged and swallowed: a feed
// outage must not negative-acknowledge an already-persisted message.
func (f *Feed) Publish(ctx context.Context, kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("Failed to serialize activity entry",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return
	}

	err = f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		Values: map[string]interface{}{
			"type":      kind,
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		f.logger.Error("Failed to publish activity entry",
			zap.String("kind", kind),
			zap.String("stream", f.stream),
			zap.Error(err),
		)
		return
	}

	f.logger.Debug("Published activity entry",
		zap.String("kind", kind),
		zap.String("stream", f.stream),
	)
}
