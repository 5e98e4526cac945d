package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const envPrefix = "inventory"

const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr string `envconfig:"GRPC_ADDR" default:":50051"`

	Storage   string `envconfig:"STORAGE" default:"memory"`
	MySQLDSN  string `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/inventory?parseTime=true"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"inventory-events"`

	WriteAttempts  int           `envconfig:"WRITE_ATTEMPTS" default:"5"`
	ReservationTTL time.Duration `envconfig:"RESERVATION_TTL" default:"10m"`

	EventInitialInterval time.Duration `envconfig:"EVENT_INITIAL_INTERVAL" default:"500ms"`
	EventMultiplier      float64       `envconfig:"EVENT_MULTIPLIER" default:"2.0"`
	EventMaxInterval     time.Duration `envconfig:"EVENT_MAX_INTERVAL" default:"5s"`
	EventMaxAttempts     int           `envconfig:"EVENT_MAX_ATTEMPTS" default:"5"`
	EventQueueSize       int           `envconfig:"EVENT_QUEUE_SIZE" default:"1024"`

	AuthUser     string `envconfig:"AUTH_USER" default:"admin"`
	AuthPassword string `envconfig:"AUTH_PASSWORD" default:"admin123"`

	SeedDemo bool `envconfig:"SEED_DEMO" default:"true"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load reads INVENTORY_* environment variables.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "process env")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageMySQL:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.WriteAttempts <= 0 {
		return errors.New("WRITE_ATTEMPTS must be positive")
	}
	if c.EventMaxAttempts <= 0 {
		return errors.New("EVENT_MAX_ATTEMPTS must be positive")
	}
	if c.EventMultiplier < 1 {
		return errors.New("EVENT_MULTIPLIER must be at least 1")
	}
	if c.EventInitialInterval <= 0 || c.EventMaxInterval < c.EventInitialInterval {
		return errors.New("event retry intervals are inconsistent")
	}
	return nil
}

func (c *Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
