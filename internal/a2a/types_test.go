package a2a

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_IDRoundTrip(t *testing.T) {
	// Numeric and string ids must echo back byte-identical.
	for _, id := range []string{`42`, `"req-7"`} {
		resp := NewResponse(json.RawMessage(id), map[string]string{"ok": "yes"})
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"id":`+id)
	}

	// Absent id normalizes to null.
	resp := NewErrorResponse(nil, ErrParseError())
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":null`)
}

func TestRequest_IsNotification(t *testing.T) {
	assert.True(t, (&Request{}).IsNotification())
	assert.True(t, (&Request{ID: json.RawMessage(`null`)}).IsNotification())
	assert.False(t, (&Request{ID: json.RawMessage(`1`)}).IsNotification())
	assert.False(t, (&Request{ID: json.RawMessage(`"a"`)}).IsNotification())
}

func TestNotification_MarshalsWithNullID(t *testing.T) {
	note := NewNotification(NotifyMarketUpdate, map[string]string{"marketId": "m1"})
	data, err := json.Marshal(note)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":null`)
	assert.Contains(t, string(data), `"method":"marketUpdate"`)
}
