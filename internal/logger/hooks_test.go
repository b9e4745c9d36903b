package logger

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/babylonai/a2a-go/internal/bus"
)

func TestBusLogHook_ForwardsToEventBus(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	eventBus := bus.NewEventBus(logger)
	defer eventBus.Stop()

	received := make([]bus.Event, 0)
	var mutex sync.Mutex
	eventBus.Subscribe(bus.EventServerLog, func(event bus.Event) {
		mutex.Lock()
		received = append(received, event)
		mutex.Unlock()
	})

	logger.AddHook(NewBusLogHook(eventBus, "test-server"))

	t.Run("Warn entries reach the bus", func(t *testing.T) {
		mutex.Lock()
		received = received[:0]
		mutex.Unlock()

		logger.WithField("agentId", "agent-1").Warn("Rate limit exceeded")

		// Give time for async processing
		time.Sleep(100 * time.Millisecond)

		mutex.Lock()
		defer mutex.Unlock()
		assert.Len(t, received, 1)
		if len(received) > 0 {
			payload := received[0].Payload
			assert.Equal(t, "warning", payload["level"])
			assert.Equal(t, "Rate limit exceeded", payload["message"])
			assert.Equal(t, "test-server", payload["source"])
			assert.Equal(t, "agent-1", payload["agentId"])
		}
	})

	t.Run("Info and debug entries stay off the bus", func(t *testing.T) {
		mutex.Lock()
		received = received[:0]
		mutex.Unlock()

		logger.Info("Handshake completed")
		logger.Debug("frame received")

		time.Sleep(100 * time.Millisecond)

		mutex.Lock()
		defer mutex.Unlock()
		assert.Empty(t, received)
	})
}

func TestNew_LevelAndFormat(t *testing.T) {
	logger := New("debug", "json")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	// Unknown levels fall back to info.
	logger = New("chatty", "text")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
