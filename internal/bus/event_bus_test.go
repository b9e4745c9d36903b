package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	eb := NewEventBus(logrus.New())
	defer eb.Stop()

	received := make([]Event, 0)
	var mutex sync.Mutex
	eb.Subscribe(EventAgentConnected, func(event Event) {
		mutex.Lock()
		received = append(received, event)
		mutex.Unlock()
	})

	eb.PublishAgentConnected("agent-1", "0xabc", 1)
	eb.PublishAgentDisconnected("agent-1", 1000, "bye") // no handler registered

	time.Sleep(100 * time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	assert.Len(t, received, 1)
	assert.Equal(t, EventAgentConnected, received[0].Type)
	assert.Equal(t, "agent-1", received[0].Payload["agentId"])
}

func TestEventBus_SubscribeAll(t *testing.T) {
	eb := NewEventBus(logrus.New())
	defer eb.Stop()

	var mutex sync.Mutex
	seen := make(map[EventType]bool)
	eb.SubscribeAll(func(event Event) {
		mutex.Lock()
		seen[event.Type] = true
		mutex.Unlock()
	})

	eb.PublishMarketUpdate("market-1", map[string]interface{}{"price": 0.5})
	eb.PublishPaymentVerified("x402-1", "0xhash")

	time.Sleep(100 * time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	assert.True(t, seen[EventMarketUpdate])
	assert.True(t, seen[EventPaymentVerified])
}

func TestEventBus_HandlerPanicIsContained(t *testing.T) {
	eb := NewEventBus(logrus.New())
	defer eb.Stop()

	eb.Subscribe(EventServerLog, func(Event) { panic("boom") })

	done := make(chan struct{})
	eb.Subscribe(EventServerLog, func(Event) { close(done) })

	eb.Publish(Event{Type: EventServerLog, Payload: map[string]interface{}{}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("surviving handler never ran")
	}
}
