package a2a

import (
	"encoding/json"
)

// Version is the JSON-RPC protocol version carried by every frame.
const Version = "2.0"

// ServerCapabilities is advertised in every successful handshake response.
var ServerCapabilities = []string{
	"discovery",
	"market-data",
	"subscriptions",
	"coalitions",
	"micropayments",
}

// Request is a JSON-RPC 2.0 request frame. ID is kept raw so that numeric
// and string ids round-trip unchanged into the response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no correlation id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response frame. Exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewResponse builds a success response correlated to the given id.
func NewResponse(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: normalizeID(id)}
}

// NewErrorResponse builds an error response correlated to the given id.
func NewErrorResponse(id json.RawMessage, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: Version, Error: rpcErr, ID: normalizeID(id)}
}

// Notification is a server-initiated frame with no reply expected (id:null).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id"`
}

// NewNotification builds a push frame for server-initiated events.
func NewNotification(method string, params interface{}) *Notification {
	return &Notification{JSONRPC: Version, Method: method, Params: params}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// Credentials are the proof material carried by a handshake request.
// Timestamp is Unix milliseconds, matching the reference clients.
type Credentials struct {
	Address   string `json:"address"`
	TokenID   int64  `json:"tokenId"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// CapabilitySet is the capability declaration an agent sends at handshake.
type CapabilitySet struct {
	Strategies []string `json:"strategies,omitempty"`
	Markets    []string `json:"markets,omitempty"`
	Actions    []string `json:"actions,omitempty"`
	Version    string   `json:"version,omitempty"`
}

// HandshakeParams is the params shape of the "handshake" method.
type HandshakeParams struct {
	Credentials  Credentials   `json:"credentials"`
	Capabilities CapabilitySet `json:"capabilities"`
	Endpoint     string        `json:"endpoint,omitempty"`
}

// HandshakeResult is returned to a client whose handshake succeeded.
type HandshakeResult struct {
	AgentID            string   `json:"agentId"`
	SessionToken       string   `json:"sessionToken"`
	ServerCapabilities []string `json:"serverCapabilities"`
	ExpiresAt          int64    `json:"expiresAt"`
}

// Reputation is the on-chain reputation snapshot of an agent profile.
type Reputation struct {
	TotalBets     int64   `json:"totalBets"`
	Wins          int64   `json:"wins"`
	AccuracyScore float64 `json:"accuracyScore"`
	TrustScore    float64 `json:"trustScore"`
	Volume        string  `json:"volume"`
}

// AgentProfile is the registry view of an agent. Fetched on demand from the
// identity registry and never cached beyond a single request.
type AgentProfile struct {
	TokenID      int64         `json:"tokenId"`
	Address      string        `json:"address"`
	Name         string        `json:"name"`
	Endpoint     string        `json:"endpoint,omitempty"`
	Capabilities CapabilitySet `json:"capabilities"`
	Reputation   Reputation    `json:"reputation"`
	Active       bool          `json:"active"`
}

// DiscoverFilters narrow a discover call. Values within one field match ANY,
// fields combine with AND.
type DiscoverFilters struct {
	Strategies    []string `json:"strategies,omitempty"`
	Markets       []string `json:"markets,omitempty"`
	MinReputation float64  `json:"minReputation,omitempty"`
}

// DiscoverParams is the params shape of the "discover" method.
type DiscoverParams struct {
	Filters DiscoverFilters `json:"filters,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

// DiscoverResult lists matching agents.
type DiscoverResult struct {
	Agents []AgentProfile `json:"agents"`
	Total  int            `json:"total"`
}

// CoalitionMessageTypes are the accepted messageType values for coalitionMessage.
var CoalitionMessageTypes = map[string]bool{
	"analysis":     true,
	"vote":         true,
	"action":       true,
	"coordination": true,
}

// Push notification method names (server -> client).
const (
	NotifyMarketUpdate      = "marketUpdate"
	NotifyCoalitionMessage  = "coalitionMessage"
	NotifyAnalysisShared    = "analysisShared"
	NotifyAnalysisRequested = "analysisRequested"
)
