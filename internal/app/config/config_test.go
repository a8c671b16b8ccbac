package config

import (
	"testing"
	"time"

	"ipms-mediator/internal/pkg/constvars"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInternalConfig(t *testing.T) {
	t.Setenv("BROKER_DRIVER", constvars.BrokerDriverRabbitMQ)
	t.Setenv("RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("IPMS_PORT", "not-a-number")

	cfg := NewInternalConfig()

	assert.Equal(t, constvars.BrokerDriverRabbitMQ, cfg.Broker.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 2575, cfg.IPMS.Port, "unparsable values fall back to the default")
	assert.Equal(t, constvars.TopicDeadLetter, cfg.Retry.DeadLetterTopic)
	require.NoError(t, cfg.Validate())
}

func TestInternalConfigValidate(t *testing.T) {
	t.Run("Unknown Broker Driver", func(t *testing.T) {
		cfg := NewInternalConfig()
		cfg.Broker.Driver = "nats"
		assert.Error(t, cfg.Validate())
	})

	t.Run("Zero Attempts", func(t *testing.T) {
		cfg := NewInternalConfig()
		cfg.Retry.MaxAttempts = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("Zero Lock TTL", func(t *testing.T) {
		cfg := NewInternalConfig()
		cfg.Lock.TTL = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("Collaborator Without URL", func(t *testing.T) {
		cfg := NewInternalConfig()
		cfg.SHR.BaseUrl = ""
		assert.Error(t, cfg.Validate())
	})
}
