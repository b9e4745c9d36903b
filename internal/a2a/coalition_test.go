package a2a

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalition_ProposeCreatorIsSoleMember(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)

	c := cr.Propose("agent-1", "whales", "market-9", "momentum", 2, 5)
	assert.Contains(t, c.ID, "coalition-")
	assert.Equal(t, []string{"agent-1"}, c.Members)
	assert.True(t, c.Active)

	got := cr.Get(c.ID)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Nil(t, cr.Get("coalition-unknown"))
}

func TestCoalition_JoinIsIdempotent(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)
	c := cr.Propose("agent-1", "whales", "market-9", "momentum", 2, 5)

	joined, err := cr.Join(c.ID, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1", "agent-2"}, joined.Members)

	again, err := cr.Join(c.ID, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1", "agent-2"}, again.Members)
}

func TestCoalition_JoinUnknown(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)

	_, err := cr.Join("coalition-unknown", "agent-1")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeCoalitionNotFound, rpcErr.Code)
}

func TestCoalition_JoinFull(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)
	c := cr.Propose("agent-1", "duo", "market-1", "hedge", 2, 2)

	_, err := cr.Join(c.ID, "agent-2")
	require.NoError(t, err)

	_, err = cr.Join(c.ID, "agent-3")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "full")
}

func TestCoalition_LastLeaveDeactivates(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)
	c := cr.Propose("agent-1", "solo", "market-1", "scalp", 1, 3)

	require.NoError(t, cr.Leave(c.ID, "agent-1"))

	got := cr.Get(c.ID)
	require.NotNil(t, got, "deactivated coalitions stay retrievable")
	assert.False(t, got.Active)
	assert.Empty(t, got.Members)
}

func TestCoalition_RejoinInactivePolicy(t *testing.T) {
	// Default policy: joining a deactivated coalition is rejected.
	cr := NewCoalitionRegistry(false, nil)
	c := cr.Propose("agent-1", "x", "market-1", "s", 1, 3)
	require.NoError(t, cr.Leave(c.ID, "agent-1"))

	_, err := cr.Join(c.ID, "agent-2")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeCoalitionNotFound, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "not active")

	// Opt-in policy: joining reactivates it.
	cr = NewCoalitionRegistry(true, nil)
	c = cr.Propose("agent-1", "x", "market-1", "s", 1, 3)
	require.NoError(t, cr.Leave(c.ID, "agent-1"))

	joined, err := cr.Join(c.ID, "agent-2")
	require.NoError(t, err)
	assert.True(t, joined.Active)
	assert.Equal(t, []string{"agent-2"}, joined.Members)
}

func TestCoalition_Recipients(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)
	c := cr.Propose("agent-1", "trio", "market-1", "s", 1, 5)
	_, err := cr.Join(c.ID, "agent-2")
	require.NoError(t, err)
	_, err = cr.Join(c.ID, "agent-3")
	require.NoError(t, err)

	recipients, err := cr.Recipients(c.ID, "agent-2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agent-1", "agent-3"}, recipients)

	// Non-members cannot fan out to the coalition.
	_, err = cr.Recipients(c.ID, "agent-9")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestCoalition_RemoveAgent(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)
	a := cr.Propose("agent-1", "a", "market-1", "s", 1, 5)
	b := cr.Propose("agent-2", "b", "market-2", "s", 1, 5)
	_, err := cr.Join(b.ID, "agent-1")
	require.NoError(t, err)

	cr.RemoveAgent("agent-1")

	assert.False(t, cr.Get(a.ID).Active, "emptied coalition is deactivated")
	assert.Equal(t, []string{"agent-2"}, cr.Get(b.ID).Members)

	total, active := cr.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, active)
}

func TestCoalition_ReturnedCopiesAreDetached(t *testing.T) {
	cr := NewCoalitionRegistry(false, nil)
	c := cr.Propose("agent-1", "x", "market-1", "s", 1, 5)

	c.Members[0] = "tampered"
	assert.Equal(t, []string{"agent-1"}, cr.Get(c.ID).Members)
}
