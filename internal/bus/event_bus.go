package bus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventAgentConnected    EventType = "agentConnected"
	EventAgentDisconnected EventType = "agentDisconnected"

	EventMarketUpdate     EventType = "marketUpdate"
	EventCoalitionMessage EventType = "coalitionMessage"
	EventAnalysisShared   EventType = "analysisShared"
	EventPaymentVerified  EventType = "paymentVerified"

	EventServerLog EventType = "serverLog"
)

var allEventTypes = []EventType{
	EventAgentConnected,
	EventAgentDisconnected,
	EventMarketUpdate,
	EventCoalitionMessage,
	EventAnalysisShared,
	EventPaymentVerified,
	EventServerLog,
}

type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

type EventHandler func(event Event)

// EventBus fans protocol lifecycle events out to registered observers on a
// dedicated goroutine. Publishing never blocks the protocol path; the channel
// drops under sustained overload.
type EventBus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]EventHandler
	logger    *logrus.Logger
	eventChan chan Event
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func NewEventBus(logger *logrus.Logger) *EventBus {
	if logger == nil {
		logger = logrus.New()
	}
	eb := &EventBus{
		handlers:  make(map[EventType][]EventHandler),
		logger:    logger,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	go eb.processEvents()

	return eb
}

func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debugf("Handler subscribed to event type: %s", eventType)
}

func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, eventType := range allEventTypes {
		eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	}

	eb.logger.Debug("Handler subscribed to all event types")
}

func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
	default:
		eb.logger.Warnf("Event channel full, dropping event: %s", event.Type)
	}
}

func (eb *EventBus) processEvents() {
	for {
		select {
		case event := <-eb.eventChan:
			eb.handleEvent(event)
		case <-eb.stopChan:
			eb.logger.Info("EventBus stopped")
			return
		}
	}
}

func (eb *EventBus) handleEvent(event Event) {
	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, handler := range handlers {
		// Run each handler in a goroutine to prevent blocking
		go func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Errorf("Panic in event handler for %s: %v", event.Type, r)
				}
			}()
			h(event)
		}(handler)
	}
}

func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopChan)
	})
}

// PublishAgentConnected announces a completed handshake.
func (eb *EventBus) PublishAgentConnected(agentID, address string, tokenID int64) {
	eb.Publish(Event{
		Type: EventAgentConnected,
		Payload: map[string]interface{}{
			"agentId": agentID,
			"address": address,
			"tokenId": tokenID,
		},
	})
}

// PublishAgentDisconnected announces a closed connection.
func (eb *EventBus) PublishAgentDisconnected(agentID string, code int, reason string) {
	eb.Publish(Event{
		Type: EventAgentDisconnected,
		Payload: map[string]interface{}{
			"agentId": agentID,
			"code":    code,
			"reason":  reason,
		},
	})
}

// PublishMarketUpdate announces new market state pushed to subscribers.
func (eb *EventBus) PublishMarketUpdate(marketID string, data map[string]interface{}) {
	eb.Publish(Event{
		Type: EventMarketUpdate,
		Payload: map[string]interface{}{
			"marketId": marketID,
			"data":     data,
		},
	})
}

// PublishPaymentVerified announces a successfully verified x402 payment.
func (eb *EventBus) PublishPaymentVerified(requestID, txHash string) {
	eb.Publish(Event{
		Type: EventPaymentVerified,
		Payload: map[string]interface{}{
			"requestId": requestID,
			"txHash":    txHash,
		},
	})
}
