package a2a

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Coalition is a named, strategy-tagged group of agents coordinating around a
// market. Member order is join order; the list never holds duplicates.
type Coalition struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Members      []string  `json:"members"`
	Strategy     string    `json:"strategy"`
	TargetMarket string    `json:"targetMarket"`
	MinMembers   int       `json:"minMembers"`
	MaxMembers   int       `json:"maxMembers"`
	CreatedAt    time.Time `json:"createdAt"`
	Active       bool      `json:"active"`
}

func (c *Coalition) hasMember(agentID string) bool {
	for _, m := range c.Members {
		if m == agentID {
			return true
		}
	}
	return false
}

func (c *Coalition) clone() *Coalition {
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	return &cp
}

// CoalitionRegistry owns all coalitions. An empty coalition is deactivated,
// never deleted, so its history stays inspectable.
type CoalitionRegistry struct {
	mu         sync.RWMutex
	coalitions map[string]*Coalition
	// allowRejoinInactive permits joinCoalition on a deactivated coalition,
	// reactivating it. Off by default.
	allowRejoinInactive bool
	logger              *logrus.Logger
}

func NewCoalitionRegistry(allowRejoinInactive bool, logger *logrus.Logger) *CoalitionRegistry {
	if logger == nil {
		logger = logrus.New()
	}
	return &CoalitionRegistry{
		coalitions:          make(map[string]*Coalition),
		allowRejoinInactive: allowRejoinInactive,
		logger:              logger,
	}
}

// Propose creates a coalition with the creator as its sole member.
func (cr *CoalitionRegistry) Propose(creator, name, targetMarket, strategy string, minMembers, maxMembers int) *Coalition {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	c := &Coalition{
		ID:           "coalition-" + uuid.New().String(),
		Name:         name,
		Members:      []string{creator},
		Strategy:     strategy,
		TargetMarket: targetMarket,
		MinMembers:   minMembers,
		MaxMembers:   maxMembers,
		CreatedAt:    time.Now(),
		Active:       true,
	}
	cr.coalitions[c.ID] = c

	cr.logger.WithFields(logrus.Fields{
		"coalitionId": c.ID,
		"creator":     creator,
		"market":      targetMarket,
	}).Info("Coalition proposed")

	return c.clone()
}

// Join adds the agent to the coalition. Joining twice is a no-op success.
func (cr *CoalitionRegistry) Join(coalitionID, agentID string) (*Coalition, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	c, ok := cr.coalitions[coalitionID]
	if !ok {
		return nil, ErrCoalitionNotFound(coalitionID)
	}
	if !c.Active {
		if !cr.allowRejoinInactive {
			return nil, &RPCError{Code: CodeCoalitionNotFound, Message: "Coalition is not active: " + coalitionID}
		}
		c.Active = true
	}
	if c.hasMember(agentID) {
		return c.clone(), nil
	}
	if c.MaxMembers > 0 && len(c.Members) >= c.MaxMembers {
		return nil, ErrInvalidParams("coalition is full")
	}

	c.Members = append(c.Members, agentID)
	cr.logger.WithFields(logrus.Fields{
		"coalitionId": coalitionID,
		"agentId":     agentID,
		"members":     len(c.Members),
	}).Info("Agent joined coalition")

	return c.clone(), nil
}

// Leave removes the agent. Removing the last member deactivates the
// coalition but keeps it retrievable.
func (cr *CoalitionRegistry) Leave(coalitionID, agentID string) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	c, ok := cr.coalitions[coalitionID]
	if !ok {
		return ErrCoalitionNotFound(coalitionID)
	}

	for i, m := range c.Members {
		if m == agentID {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
			break
		}
	}
	if len(c.Members) == 0 {
		c.Active = false
		cr.logger.WithField("coalitionId", coalitionID).Info("Coalition deactivated: no members left")
	}
	return nil
}

// Get returns a copy of the coalition, or nil when unknown.
func (cr *CoalitionRegistry) Get(coalitionID string) *Coalition {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	if c, ok := cr.coalitions[coalitionID]; ok {
		return c.clone()
	}
	return nil
}

// Recipients validates the sender's membership and returns the other members
// of an active coalition, i.e. the fan-out list for a coalition message.
func (cr *CoalitionRegistry) Recipients(coalitionID, sender string) ([]string, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	c, ok := cr.coalitions[coalitionID]
	if !ok {
		return nil, ErrCoalitionNotFound(coalitionID)
	}
	if !c.Active {
		return nil, &RPCError{Code: CodeCoalitionNotFound, Message: "Coalition is not active: " + coalitionID}
	}
	if !c.hasMember(sender) {
		return nil, ErrInvalidParams("sender is not a coalition member")
	}

	recipients := make([]string, 0, len(c.Members)-1)
	for _, m := range c.Members {
		if m != sender {
			recipients = append(recipients, m)
		}
	}
	return recipients, nil
}

// RemoveAgent applies the configured disconnect policy. With leaveAll the
// agent is removed from every coalition; otherwise membership is retained and
// broadcast skips the dead connection.
func (cr *CoalitionRegistry) RemoveAgent(agentID string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	for _, c := range cr.coalitions {
		for i, m := range c.Members {
			if m == agentID {
				c.Members = append(c.Members[:i], c.Members[i+1:]...)
				break
			}
		}
		if len(c.Members) == 0 {
			c.Active = false
		}
	}
}

// Counts returns total and active coalition counts.
func (cr *CoalitionRegistry) Counts() (total, active int) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	total = len(cr.coalitions)
	for _, c := range cr.coalitions {
		if c.Active {
			active++
		}
	}
	return total, active
}
