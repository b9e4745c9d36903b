package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/babylonai/a2a-go/internal/bus"
)

// Caller identifies the authenticated agent a request came from.
type Caller struct {
	AgentID string
	Address string
	TokenID int64
}

// HandlerFunc is a registered method handler. Returning an *RPCError puts it
// on the wire as-is; any other error becomes a generic InternalError.
type HandlerFunc func(ctx context.Context, caller *Caller, params json.RawMessage) (interface{}, error)

// Broadcaster is how the router hands push fan-out back to the connection
// layer. The router never touches connections directly.
type Broadcaster interface {
	Broadcast(agentIDs []string, note *Notification)
}

// RouterConfig carries the feature flags the router needs.
type RouterConfig struct {
	PaymentsEnabled   bool
	CoalitionsEnabled bool
}

// MessageRouter dispatches authenticated JSON-RPC requests to typed handlers
// via a registration table. It is stateless per call; all state lives in the
// shared registries.
type MessageRouter struct {
	handlers      map[string]HandlerFunc
	coalitions    *CoalitionRegistry
	subscriptions *SubscriptionRegistry
	payments      *PaymentLedger
	registry      IdentityRegistry
	markets       MarketDataProvider
	broadcaster   Broadcaster
	eventBus      *bus.EventBus
	logger        *logrus.Logger
}

func NewMessageRouter(
	cfg RouterConfig,
	coalitions *CoalitionRegistry,
	subscriptions *SubscriptionRegistry,
	payments *PaymentLedger,
	registry IdentityRegistry,
	markets MarketDataProvider,
	eventBus *bus.EventBus,
	logger *logrus.Logger,
) *MessageRouter {
	if logger == nil {
		logger = logrus.New()
	}
	r := &MessageRouter{
		handlers:      make(map[string]HandlerFunc),
		coalitions:    coalitions,
		subscriptions: subscriptions,
		payments:      payments,
		registry:      registry,
		markets:       markets,
		eventBus:      eventBus,
		logger:        logger,
	}

	r.Register("ping", r.handlePing)
	r.Register("discover", r.handleDiscover)
	r.Register("getAgentInfo", r.handleGetAgentInfo)
	r.Register("getMarketData", r.handleGetMarketData)
	r.Register("getMarketPrices", r.handleGetMarketPrices)
	r.Register("subscribeMarket", r.handleSubscribeMarket)
	r.Register("unsubscribeMarket", r.handleUnsubscribeMarket)
	r.Register("shareAnalysis", r.handleShareAnalysis)
	r.Register("requestAnalysis", r.handleRequestAnalysis)

	if cfg.CoalitionsEnabled {
		r.Register("proposeCoalition", r.handleProposeCoalition)
		r.Register("joinCoalition", r.handleJoinCoalition)
		r.Register("coalitionMessage", r.handleCoalitionMessage)
		r.Register("leaveCoalition", r.handleLeaveCoalition)
	}
	if cfg.PaymentsEnabled {
		r.Register("paymentRequest", r.handlePaymentRequest)
		r.Register("paymentReceipt", r.handlePaymentReceipt)
	}

	return r
}

// Register binds a method name to its handler.
func (r *MessageRouter) Register(method string, handler HandlerFunc) {
	r.handlers[method] = handler
}

// SetBroadcaster wires the connection layer's fan-out in after construction.
func (r *MessageRouter) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

// Route dispatches one authenticated request and produces its response.
func (r *MessageRouter) Route(ctx context.Context, caller *Caller, req *Request) *Response {
	// Reference clients namespace methods as "a2a.method".
	method := strings.TrimPrefix(req.Method, "a2a.")

	handler, ok := r.handlers[method]
	if !ok {
		return NewErrorResponse(req.ID, ErrMethodNotFound(req.Method))
	}

	result, err := handler(ctx, caller, req.Params)
	if err != nil {
		rpcErr := AsRPCError(err)
		if rpcErr.Code == CodeInternalError {
			r.logger.WithFields(logrus.Fields{
				"method":  method,
				"agentId": caller.AgentID,
			}).Errorf("Handler failed: %v", err)
		}
		return NewErrorResponse(req.ID, rpcErr)
	}
	return NewResponse(req.ID, result)
}

func (r *MessageRouter) handlePing(_ context.Context, _ *Caller, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"pong": true, "time": time.Now().UnixMilli()}, nil
}

func (r *MessageRouter) handleDiscover(ctx context.Context, _ *Caller, raw json.RawMessage) (interface{}, error) {
	var params DiscoverParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, ErrInvalidParams("filters must be an object")
		}
	}

	if r.registry == nil {
		return &DiscoverResult{Agents: []AgentProfile{}, Total: 0}, nil
	}

	profiles, err := r.registry.Discover(ctx, params.Filters)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	matched := make([]AgentProfile, 0, len(profiles))
	for _, p := range profiles {
		if !p.Active {
			continue
		}
		if params.Filters.MinReputation > 0 && p.Reputation.TrustScore < params.Filters.MinReputation {
			continue
		}
		if len(params.Filters.Strategies) > 0 && !anyMatch(p.Capabilities.Strategies, params.Filters.Strategies) {
			continue
		}
		if len(params.Filters.Markets) > 0 && !anyMatch(p.Capabilities.Markets, params.Filters.Markets) {
			continue
		}
		matched = append(matched, p)
	}

	total := len(matched)
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	return &DiscoverResult{Agents: matched, Total: total}, nil
}

func (r *MessageRouter) handleGetAgentInfo(ctx context.Context, _ *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		AgentID string `json:"agentId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.AgentID == "" {
		return nil, ErrInvalidParams("agentId is required")
	}

	tokenID, err := ParseAgentID(params.AgentID)
	if err != nil {
		return nil, ErrAgentNotFound(params.AgentID)
	}
	if r.registry == nil {
		return nil, ErrAgentNotFound(params.AgentID)
	}
	profile, err := r.registry.GetProfile(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}
	if profile == nil {
		return nil, ErrAgentNotFound(params.AgentID)
	}
	return profile, nil
}

func (r *MessageRouter) handleGetMarketData(ctx context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	return r.marketLookup(ctx, raw, func(marketID string) (map[string]interface{}, error) {
		return r.markets.GetMarketData(ctx, marketID)
	})
}

func (r *MessageRouter) handleGetMarketPrices(ctx context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	return r.marketLookup(ctx, raw, func(marketID string) (map[string]interface{}, error) {
		return r.markets.GetMarketPrices(ctx, marketID)
	})
}

func (r *MessageRouter) marketLookup(_ context.Context, raw json.RawMessage, fetch func(string) (map[string]interface{}, error)) (interface{}, error) {
	var params struct {
		MarketID string `json:"marketId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.MarketID == "" {
		return nil, ErrInvalidParams("marketId is required")
	}
	if r.markets == nil {
		// Typed placeholder when no market-state collaborator is wired.
		return map[string]interface{}{"marketId": params.MarketID, "available": false}, nil
	}
	data, err := fetch(params.MarketID)
	if err != nil {
		return nil, fmt.Errorf("market lookup: %w", err)
	}
	if data == nil {
		return nil, ErrMarketNotFound(params.MarketID)
	}
	return data, nil
}

func (r *MessageRouter) handleSubscribeMarket(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		MarketID string `json:"marketId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.MarketID == "" {
		return nil, ErrInvalidParams("marketId is required")
	}
	r.subscriptions.Subscribe(caller.AgentID, params.MarketID)
	return map[string]interface{}{"subscribed": true, "marketId": params.MarketID}, nil
}

func (r *MessageRouter) handleUnsubscribeMarket(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		MarketID string `json:"marketId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.MarketID == "" {
		return nil, ErrInvalidParams("marketId is required")
	}
	r.subscriptions.Unsubscribe(caller.AgentID, params.MarketID)
	return map[string]interface{}{"unsubscribed": true, "marketId": params.MarketID}, nil
}

func (r *MessageRouter) handleProposeCoalition(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		Name         string `json:"name"`
		TargetMarket string `json:"targetMarket"`
		Strategy     string `json:"strategy"`
		MinMembers   int    `json:"minMembers"`
		MaxMembers   int    `json:"maxMembers"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, ErrInvalidParams("malformed coalition proposal")
	}
	if params.Name == "" {
		return nil, ErrInvalidParams("name is required")
	}
	if params.TargetMarket == "" {
		return nil, ErrInvalidParams("targetMarket is required")
	}
	if params.Strategy == "" {
		return nil, ErrInvalidParams("strategy is required")
	}
	if params.MaxMembers > 0 && params.MinMembers > params.MaxMembers {
		return nil, ErrInvalidParams("minMembers exceeds maxMembers")
	}

	c := r.coalitions.Propose(caller.AgentID, params.Name, params.TargetMarket, params.Strategy, params.MinMembers, params.MaxMembers)
	return map[string]interface{}{"coalitionId": c.ID, "proposal": c}, nil
}

func (r *MessageRouter) handleJoinCoalition(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		CoalitionID string `json:"coalitionId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.CoalitionID == "" {
		return nil, ErrInvalidParams("coalitionId is required")
	}
	c, err := r.coalitions.Join(params.CoalitionID, caller.AgentID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"joined": true, "coalition": c}, nil
}

func (r *MessageRouter) handleCoalitionMessage(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		CoalitionID string      `json:"coalitionId"`
		MessageType string      `json:"messageType"`
		Content     interface{} `json:"content"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.CoalitionID == "" {
		return nil, ErrInvalidParams("coalitionId is required")
	}
	if !CoalitionMessageTypes[params.MessageType] {
		return nil, ErrInvalidParams("messageType must be one of analysis, vote, action, coordination")
	}

	recipients, err := r.coalitions.Recipients(params.CoalitionID, caller.AgentID)
	if err != nil {
		return nil, err
	}

	if r.broadcaster != nil && len(recipients) > 0 {
		r.broadcaster.Broadcast(recipients, NewNotification(NotifyCoalitionMessage, map[string]interface{}{
			"coalitionId": params.CoalitionID,
			"from":        caller.AgentID,
			"messageType": params.MessageType,
			"content":     params.Content,
			"timestamp":   time.Now().UnixMilli(),
		}))
	}
	if r.eventBus != nil {
		r.eventBus.Publish(bus.Event{
			Type: bus.EventCoalitionMessage,
			Payload: map[string]interface{}{
				"coalitionId": params.CoalitionID,
				"from":        caller.AgentID,
				"messageType": params.MessageType,
			},
		})
	}

	return map[string]interface{}{"delivered": true, "recipients": len(recipients)}, nil
}

func (r *MessageRouter) handleLeaveCoalition(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		CoalitionID string `json:"coalitionId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.CoalitionID == "" {
		return nil, ErrInvalidParams("coalitionId is required")
	}
	if err := r.coalitions.Leave(params.CoalitionID, caller.AgentID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"left": true}, nil
}

func (r *MessageRouter) handleShareAnalysis(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		MarketID   string      `json:"marketId"`
		Analyst    string      `json:"analyst"`
		Prediction *float64    `json:"prediction"`
		Confidence *float64    `json:"confidence"`
		Reasoning  string      `json:"reasoning"`
		DataPoints interface{} `json:"dataPoints"`
		Timestamp  int64       `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, ErrInvalidParams("malformed analysis")
	}
	if params.MarketID == "" {
		return nil, ErrInvalidParams("marketId is required")
	}
	if params.Timestamp == 0 {
		return nil, ErrInvalidParams("timestamp is required")
	}
	if params.Prediction != nil && (*params.Prediction < 0 || *params.Prediction > 1) {
		return nil, ErrInvalidParams("prediction must be within [0,1]")
	}
	if params.Confidence != nil && (*params.Confidence < 0 || *params.Confidence > 1) {
		return nil, ErrInvalidParams("confidence must be within [0,1]")
	}

	analysisID := "analysis-" + uuid.New().String()

	if r.broadcaster != nil {
		subscribers := r.subscriptions.Subscribers(params.MarketID)
		recipients := subscribers[:0:0]
		for _, agentID := range subscribers {
			if agentID != caller.AgentID {
				recipients = append(recipients, agentID)
			}
		}
		if len(recipients) > 0 {
			r.broadcaster.Broadcast(recipients, NewNotification(NotifyAnalysisShared, map[string]interface{}{
				"analysisId": analysisID,
				"marketId":   params.MarketID,
				"analyst":    caller.AgentID,
				"prediction": params.Prediction,
				"confidence": params.Confidence,
				"reasoning":  params.Reasoning,
				"dataPoints": params.DataPoints,
				"timestamp":  params.Timestamp,
			}))
		}
	}
	if r.eventBus != nil {
		r.eventBus.Publish(bus.Event{
			Type: bus.EventAnalysisShared,
			Payload: map[string]interface{}{
				"analysisId": analysisID,
				"marketId":   params.MarketID,
				"analyst":    caller.AgentID,
			},
		})
	}

	return map[string]interface{}{"shared": true, "analysisId": analysisID}, nil
}

func (r *MessageRouter) handleRequestAnalysis(_ context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		MarketID     string      `json:"marketId"`
		Deadline     int64       `json:"deadline"`
		PaymentOffer interface{} `json:"paymentOffer"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.MarketID == "" {
		return nil, ErrInvalidParams("marketId is required")
	}
	if params.Deadline == 0 {
		return nil, ErrInvalidParams("deadline is required")
	}

	requestID := "analysis-req-" + uuid.New().String()

	broadcasted := false
	if r.broadcaster != nil {
		subscribers := r.subscriptions.Subscribers(params.MarketID)
		recipients := subscribers[:0:0]
		for _, agentID := range subscribers {
			if agentID != caller.AgentID {
				recipients = append(recipients, agentID)
			}
		}
		if len(recipients) > 0 {
			r.broadcaster.Broadcast(recipients, NewNotification(NotifyAnalysisRequested, map[string]interface{}{
				"requestId":    requestID,
				"marketId":     params.MarketID,
				"requester":    caller.AgentID,
				"deadline":     params.Deadline,
				"paymentOffer": params.PaymentOffer,
			}))
			broadcasted = true
		}
	}

	return map[string]interface{}{"requestId": requestID, "broadcasted": broadcasted}, nil
}

func (r *MessageRouter) handlePaymentRequest(ctx context.Context, caller *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		From     string                 `json:"from"`
		To       string                 `json:"to"`
		Amount   string                 `json:"amount"`
		Service  string                 `json:"service"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, ErrInvalidParams("malformed payment request")
	}
	if params.To == "" {
		return nil, ErrInvalidParams("to is required")
	}
	if params.Amount == "" {
		return nil, ErrInvalidParams("amount is required")
	}
	if params.Service == "" {
		return nil, ErrInvalidParams("service is required")
	}
	from := params.From
	if from == "" {
		from = caller.Address
	}

	req, err := r.payments.Create(ctx, from, params.To, params.Amount, params.Service, params.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"requestId": req.ID,
		"amount":    req.Amount,
		"expiresAt": req.ExpiresAt.UnixMilli(),
	}, nil
}

func (r *MessageRouter) handlePaymentReceipt(ctx context.Context, _ *Caller, raw json.RawMessage) (interface{}, error) {
	var params struct {
		RequestID string `json:"requestId"`
		TxHash    string `json:"txHash"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.RequestID == "" {
		return nil, ErrInvalidParams("requestId is required")
	}
	if params.TxHash == "" {
		return nil, ErrInvalidParams("txHash is required")
	}

	result, err := r.payments.Verify(ctx, params.RequestID, params.TxHash)
	if err != nil {
		return nil, fmt.Errorf("payment verification: %w", err)
	}
	if result.Verified && r.eventBus != nil {
		r.eventBus.PublishPaymentVerified(params.RequestID, params.TxHash)
	}
	return result, nil
}

// ParseAgentID extracts the token id from an "agent-{tokenId}" identifier.
func ParseAgentID(agentID string) (int64, error) {
	rest, ok := strings.CutPrefix(agentID, "agent-")
	if !ok {
		return 0, fmt.Errorf("malformed agent id: %s", agentID)
	}
	tokenID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed agent id: %s", agentID)
	}
	return tokenID, nil
}

// AgentIDForToken formats the canonical agent id for an identity token.
func AgentIDForToken(tokenID int64) string {
	return fmt.Sprintf("agent-%d", tokenID)
}

func anyMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
