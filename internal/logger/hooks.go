package logger

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/babylonai/a2a-go/internal/bus"
)

// New builds the process logger from configuration.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level: %s, using 'info'", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// BusLogHook forwards warn-and-above log entries onto the event bus so
// connected observers see operational problems without scraping stdout.
type BusLogHook struct {
	eventBus *bus.EventBus
	source   string
}

func NewBusLogHook(eventBus *bus.EventBus, source string) *BusLogHook {
	return &BusLogHook{eventBus: eventBus, source: source}
}

// Levels returns the log levels this hook is interested in
func (h *BusLogHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
	}
}

// Fire is called when a log event occurs
func (h *BusLogHook) Fire(entry *logrus.Entry) error {
	if h.eventBus == nil {
		return nil
	}

	payload := map[string]interface{}{
		"level":     entry.Level.String(),
		"message":   entry.Message,
		"source":    h.source,
		"timestamp": entry.Time.Format(time.RFC3339),
	}
	for key, value := range entry.Data {
		payload[key] = value
	}

	h.eventBus.Publish(bus.Event{
		Type:    bus.EventServerLog,
		Payload: payload,
	})

	return nil
}
