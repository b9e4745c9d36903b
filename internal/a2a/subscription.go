package a2a

import (
	"sort"
	"sync"
)

// SubscriptionRegistry tracks which agents want push updates for which
// markets. It is a pure relation: no per-subscription state beyond membership.
type SubscriptionRegistry struct {
	mu      sync.RWMutex
	markets map[string]map[string]bool // marketID -> set of agentIDs
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{markets: make(map[string]map[string]bool)}
}

// Subscribe is idempotent; repeated subscribes are a no-op success.
func (sr *SubscriptionRegistry) Subscribe(agentID, marketID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	set, ok := sr.markets[marketID]
	if !ok {
		set = make(map[string]bool)
		sr.markets[marketID] = set
	}
	set[agentID] = true
}

// Unsubscribe removes the agent from one market's fan-out set.
func (sr *SubscriptionRegistry) Unsubscribe(agentID, marketID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if set, ok := sr.markets[marketID]; ok {
		delete(set, agentID)
		if len(set) == 0 {
			delete(sr.markets, marketID)
		}
	}
}

// Subscribers returns the agents subscribed to a market, sorted for
// deterministic fan-out.
func (sr *SubscriptionRegistry) Subscribers(marketID string) []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	set := sr.markets[marketID]
	agents := make([]string, 0, len(set))
	for agentID := range set {
		agents = append(agents, agentID)
	}
	sort.Strings(agents)
	return agents
}

// RemoveAgent drops the agent from every market. Called on disconnect so a
// dead connection never lingers in fan-out sets.
func (sr *SubscriptionRegistry) RemoveAgent(agentID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for marketID, set := range sr.markets {
		delete(set, agentID)
		if len(set) == 0 {
			delete(sr.markets, marketID)
		}
	}
}

// Count returns the number of markets with at least one subscriber.
func (sr *SubscriptionRegistry) Count() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.markets)
}
