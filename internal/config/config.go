package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds the postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds the activity-feed redis settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds the message-bus connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// SafersConfig holds the pipeline's own tunables.
type SafersConfig struct {
	// Site is the site identity segment used in map-request routing keys
	// and as the request-id prefix.
	Site string

	// PossibleEventDistanceKm is the radius within which alerts can merge
	// into one event.
	PossibleEventDistanceKm float64
	// PossibleEventTimerange is the window within which alerts can merge
	// into one event.
	PossibleEventTimerange time.Duration

	// CameraMediaTriggerTimerange is the cooldown between two
	// alert-triggering detections from the same camera.
	CameraMediaTriggerTimerange time.Duration
	// CameraMediaPreserveTimerange is how long undetected camera media are
	// kept before the retention sweep purges them.
	CameraMediaPreserveTimerange time.Duration

	// ActivityStream is the redis stream the dashboard feed reads from.
	ActivityStream string

	Topics struct {
		Alerts           string
		Cameras          string
		MapRequestStatus string
	}
}

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Safers   SafersConfig

	Health struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "safers")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "safers-ingest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Safers.Site = getEnv("SAFERS_SITE", "safers")
	cfg.Safers.PossibleEventDistanceKm = getEnvFloat("SAFERS_POSSIBLE_EVENT_DISTANCE_KM", 10.0)
	cfg.Safers.PossibleEventTimerange = getEnvDuration("SAFERS_POSSIBLE_EVENT_TIMERANGE", 72*time.Hour)
	cfg.Safers.CameraMediaTriggerTimerange = getEnvDuration("SAFERS_CAMERA_MEDIA_TRIGGER_TIMERANGE", 6*time.Hour)
	cfg.Safers.CameraMediaPreserveTimerange = getEnvDuration("SAFERS_CAMERA_MEDIA_PRESERVE_TIMERANGE", 24*time.Hour)
	cfg.Safers.ActivityStream = getEnv("SAFERS_ACTIVITY_STREAM", "safers:activity:stream")

	cfg.Safers.Topics.Alerts = getEnv("SAFERS_TOPIC_ALERTS", "alert/#")
	cfg.Safers.Topics.Cameras = getEnv("SAFERS_TOPIC_CAMERAS", "camera/#")
	cfg.Safers.Topics.MapRequestStatus = getEnv(
		"SAFERS_TOPIC_MAP_REQUEST_STATUS",
		"status/+/+/"+cfg.Safers.Site+"/+",
	)

	cfg.Health.Addr = getEnv("HEALTH_ADDR", ":8086")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
