package a2a

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionRegistry_SubscribeIdempotent(t *testing.T) {
	sr := NewSubscriptionRegistry()

	sr.Subscribe("agent-1", "market-1")
	sr.Subscribe("agent-1", "market-1")
	sr.Subscribe("agent-2", "market-1")

	assert.Equal(t, []string{"agent-1", "agent-2"}, sr.Subscribers("market-1"))
}

func TestSubscriptionRegistry_Unsubscribe(t *testing.T) {
	sr := NewSubscriptionRegistry()

	sr.Subscribe("agent-1", "market-1")
	sr.Unsubscribe("agent-1", "market-1")
	sr.Unsubscribe("agent-1", "market-1") // repeat is a no-op
	sr.Unsubscribe("agent-1", "market-2") // unknown market is a no-op

	assert.Empty(t, sr.Subscribers("market-1"))
	assert.Zero(t, sr.Count())
}

func TestSubscriptionRegistry_RemoveAgent(t *testing.T) {
	sr := NewSubscriptionRegistry()

	sr.Subscribe("agent-1", "market-1")
	sr.Subscribe("agent-1", "market-2")
	sr.Subscribe("agent-2", "market-2")

	sr.RemoveAgent("agent-1")

	assert.Empty(t, sr.Subscribers("market-1"))
	assert.Equal(t, []string{"agent-2"}, sr.Subscribers("market-2"))
	assert.Equal(t, 1, sr.Count())
}
