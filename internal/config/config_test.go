package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, StorageMemory, c.Storage)
	assert.Equal(t, 5, c.WriteAttempts)
	assert.Equal(t, 10*time.Minute, c.ReservationTTL)
	assert.Equal(t, 500*time.Millisecond, c.EventInitialInterval)
	assert.Equal(t, 2.0, c.EventMultiplier)
	assert.Equal(t, 5*time.Second, c.EventMaxInterval)
	assert.Equal(t, 5, c.EventMaxAttempts)
	assert.Empty(t, c.KafkaBrokers)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("INVENTORY_STORAGE", "mysql")
	t.Setenv("INVENTORY_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("INVENTORY_EVENT_MAX_ATTEMPTS", "3")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMySQL, c.Storage)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 3, c.EventMaxAttempts)
}

func TestLoad_RejectsUnknownStorage(t *testing.T) {
	t.Setenv("INVENTORY_STORAGE", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	c := &Config{LogLevel: "debug", LogFormat: "json"}

	logger, err := c.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	c.LogLevel = "loud"
	_, err = c.Logger()
	assert.Error(t, err)
}
