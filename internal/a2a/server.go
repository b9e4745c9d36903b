package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/babylonai/a2a-go/internal/bus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	sendBufferSize = 64

	// DefaultAuthTimeout bounds how long a connection may stay
	// unauthenticated before it is force-closed.
	DefaultAuthTimeout = 30 * time.Second
)

// Connection states.
const (
	stateConnecting int32 = iota
	stateUnauthenticated
	stateAuthenticated
	stateClosed
)

// AgentConnection is one live transport connection. Owned exclusively by the
// Server; the router only ever sees the derived Caller.
type AgentConnection struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	state atomic.Int32

	mu           sync.Mutex
	agentID      string
	address      string
	tokenID      int64
	capabilities CapabilitySet
	sessionToken string
	connectedAt  time.Time
	lastActivity time.Time

	authTimer *time.Timer
	closeOnce sync.Once
}

func (ac *AgentConnection) caller() *Caller {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return &Caller{AgentID: ac.agentID, Address: ac.address, TokenID: ac.tokenID}
}

func (ac *AgentConnection) touch() {
	ac.mu.Lock()
	ac.lastActivity = time.Now()
	ac.mu.Unlock()
}

// ServerOptions configures the connection manager. Zero values fall back to
// sensible defaults in NewServer.
type ServerOptions struct {
	Host               string
	Port               int
	MaxConnections     int
	RateLimitPerMinute int
	AuthTimeout        time.Duration

	// LeaveCoalitionsOnDisconnect switches the disconnect policy from
	// "retain membership, skip send on closed connections" to auto-leave.
	LeaveCoalitionsOnDisconnect bool
}

// Server owns the connection table, runs the per-connection handshake state
// machine and gates every authenticated message through the rate limiter
// before handing it to the router.
type Server struct {
	opts          ServerOptions
	auth          *AuthManager
	router        *MessageRouter
	limiter       *RateLimiter
	subscriptions *SubscriptionRegistry
	coalitions    *CoalitionRegistry
	payments      *PaymentLedger
	eventBus      *bus.EventBus
	logger        *logrus.Logger
	upgrader      websocket.Upgrader

	mu      sync.RWMutex
	conns   map[string]*AgentConnection
	byAgent map[string]*AgentConnection
	closed  bool

	connSeq  atomic.Int64
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	httpSrv  *http.Server
	boundAddr string
}

func NewServer(
	opts ServerOptions,
	auth *AuthManager,
	router *MessageRouter,
	subscriptions *SubscriptionRegistry,
	coalitions *CoalitionRegistry,
	payments *PaymentLedger,
	eventBus *bus.EventBus,
	logger *logrus.Logger,
) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = DefaultAuthTimeout
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 100
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 60
	}

	s := &Server{
		opts:          opts,
		auth:          auth,
		router:        router,
		limiter:       NewRateLimiter(opts.RateLimitPerMinute),
		subscriptions: subscriptions,
		coalitions:    coalitions,
		payments:      payments,
		eventBus:      eventBus,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Agents connect from arbitrary hosts; auth happens at handshake.
				return true
			},
		},
		conns:    make(map[string]*AgentConnection),
		byAgent:  make(map[string]*AgentConnection),
		stopChan: make(chan struct{}),
	}

	router.SetBroadcaster(s)
	return s
}

// Start binds the HTTP listener and begins accepting connections. It returns
// once the listener is bound; serving continues in the background.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET("/a2a", func(c *gin.Context) {
		s.handleUpgrade(c.Writer, c.Request)
	})
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.ConnectionCount()})
	})
	engine.GET("/stats", func(c *gin.Context) {
		s.handleStats(c)
	})

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.httpSrv = &http.Server{Handler: engine}
	s.boundAddr = ln.Addr().String()

	s.logger.Infof("A2A server listening on %s", s.boundAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("HTTP server stopped: %v", err)
		}
	}()

	s.wg.Add(1)
	go s.sweepLoop()

	return nil
}

// Addr returns the bound listen address, useful when Port was 0.
func (s *Server) Addr() string {
	return s.boundAddr
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.auth.CleanupExpiredSessions(context.Background())
			s.limiter.Sweep()
			if s.payments != nil {
				s.payments.Sweep(context.Background())
			}
		case <-s.stopChan:
			return
		}
	}
}

// handleUpgrade enforces the admission limit before any handshake cost is
// paid, then promotes the transport to a tracked unauthenticated connection.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed || len(s.conns) >= s.opts.MaxConnections {
		s.mu.Unlock()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	ac := &AgentConnection{
		id:          fmt.Sprintf("conn-%d", s.connSeq.Add(1)),
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	ac.state.Store(stateUnauthenticated)
	ac.lastActivity = ac.connectedAt

	s.mu.Lock()
	if s.closed || len(s.conns) >= s.opts.MaxConnections {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[ac.id] = ac
	s.mu.Unlock()

	ac.authTimer = time.AfterFunc(s.opts.AuthTimeout, func() {
		if ac.state.Load() == stateUnauthenticated {
			s.logger.Warnf("Connection %s failed to authenticate within %v", ac.id, s.opts.AuthTimeout)
			s.closeConnection(ac, websocket.ClosePolicyViolation, "authentication timeout")
		}
	})

	s.logger.Debugf("New connection accepted: %s", ac.id)

	s.wg.Add(2)
	go s.writePump(ac)
	go s.readPump(ac)
}

// readPump is the single reader for a connection; requests are processed
// in order, so a client's second request is never handled before its first
// response was queued.
func (s *Server) readPump(ac *AgentConnection) {
	defer func() {
		s.wg.Done()
		s.teardown(ac, websocket.CloseNormalClosure, "connection closed")
	}()

	ac.conn.SetReadLimit(maxMessageSize)
	_ = ac.conn.SetReadDeadline(time.Now().Add(pongWait))
	ac.conn.SetPongHandler(func(string) error {
		_ = ac.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := ac.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debugf("Connection %s read error: %v", ac.id, err)
			}
			return
		}
		s.handleFrame(ac, message)
	}
}

// writePump pumps queued frames to the transport and keeps the connection
// alive with pings.
func (s *Server) writePump(ac *AgentConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ac.conn.Close()
		s.wg.Done()
	}()

	for {
		select {
		case message := <-ac.send:
			_ = ac.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ac.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ac.done:
			_ = ac.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = ac.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ac.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame runs the per-connection protocol state machine for one frame.
func (s *Server) handleFrame(ac *AgentConnection, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendResponse(ac, NewErrorResponse(nil, ErrParseError()))
		return
	}
	if req.JSONRPC != Version || req.Method == "" {
		s.sendResponse(ac, NewErrorResponse(req.ID, ErrInvalidRequest()))
		return
	}

	method := req.Method
	if method == "a2a.handshake" {
		method = "handshake"
	}

	switch ac.state.Load() {
	case stateUnauthenticated:
		if method != "handshake" {
			// Non-fatal: the client may still attempt a handshake.
			s.sendResponse(ac, NewErrorResponse(req.ID, ErrNotAuthenticated()))
			return
		}
		s.handleHandshake(ac, &req)

	case stateAuthenticated:
		if method == "handshake" {
			s.sendResponse(ac, NewErrorResponse(req.ID, ErrInvalidRequest()))
			return
		}
		caller := ac.caller()
		if !s.limiter.Check(caller.AgentID) {
			s.sendResponse(ac, NewErrorResponse(req.ID, ErrRateLimitExceeded()))
			return
		}
		ac.touch()
		resp := s.router.Route(context.Background(), caller, &req)
		if !req.IsNotification() {
			s.sendResponse(ac, resp)
		}

	default:
		// Closing; drop the frame.
	}
}

// handleHandshake delegates to the AuthManager. Failure is fatal for this
// connection: the error is sent and the transport closed, so the client must
// reconnect to retry.
func (s *Server) handleHandshake(ac *AgentConnection, req *Request) {
	var params HandshakeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendResponse(ac, NewErrorResponse(req.ID, ErrInvalidParams("malformed handshake params")))
		s.closeConnection(ac, websocket.ClosePolicyViolation, "handshake failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := s.auth.Authenticate(ctx, params.Credentials)
	if err != nil {
		s.sendResponse(ac, NewErrorResponse(req.ID, AsRPCError(err)))
		s.closeConnection(ac, websocket.ClosePolicyViolation, "handshake failed")
		return
	}

	agentID := AgentIDForToken(session.TokenID)

	ac.mu.Lock()
	ac.agentID = agentID
	ac.address = session.Address
	ac.tokenID = session.TokenID
	ac.capabilities = params.Capabilities
	ac.sessionToken = session.Token
	ac.lastActivity = time.Now()
	if ac.authTimer != nil {
		ac.authTimer.Stop()
	}
	ac.mu.Unlock()
	ac.state.Store(stateAuthenticated)

	s.mu.Lock()
	if prev, ok := s.byAgent[agentID]; ok && prev != ac {
		// A newer connection for the same identity supersedes the old one.
		go s.closeConnection(prev, websocket.ClosePolicyViolation, "superseded by new connection")
	}
	s.byAgent[agentID] = ac
	s.mu.Unlock()

	if s.eventBus != nil {
		s.eventBus.PublishAgentConnected(agentID, session.Address, session.TokenID)
	}

	s.logger.WithFields(logrus.Fields{
		"agentId": agentID,
		"address": session.Address,
	}).Info("Handshake completed")

	s.sendResponse(ac, NewResponse(req.ID, &HandshakeResult{
		AgentID:            agentID,
		SessionToken:       session.Token,
		ServerCapabilities: ServerCapabilities,
		ExpiresAt:          session.ExpiresAt.UnixMilli(),
	}))
}

func (s *Server) sendResponse(ac *AgentConnection, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Errorf("Failed to marshal response: %v", err)
		return
	}
	s.enqueue(ac, data)
}

func (s *Server) enqueue(ac *AgentConnection, data []byte) {
	if ac.state.Load() == stateClosed {
		return
	}
	select {
	case ac.send <- data:
	default:
		// Slow consumer; drop the connection rather than block the server.
		s.logger.Warnf("Send buffer full, closing connection %s", ac.id)
		s.closeConnection(ac, websocket.ClosePolicyViolation, "send buffer overflow")
	}
}

// Broadcast sends a notification to the listed agents. Only authenticated,
// open connections receive it; delivery is best-effort.
func (s *Server) Broadcast(agentIDs []string, note *Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		s.logger.Errorf("Failed to marshal notification: %v", err)
		return
	}

	s.mu.RLock()
	targets := make([]*AgentConnection, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		if ac, ok := s.byAgent[agentID]; ok && ac.state.Load() == stateAuthenticated {
			targets = append(targets, ac)
		}
	}
	s.mu.RUnlock()

	for _, ac := range targets {
		s.enqueue(ac, data)
	}
}

// BroadcastAll sends a notification to every authenticated connection.
func (s *Server) BroadcastAll(note *Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		s.logger.Errorf("Failed to marshal notification: %v", err)
		return
	}

	s.mu.RLock()
	targets := make([]*AgentConnection, 0, len(s.byAgent))
	for _, ac := range s.byAgent {
		if ac.state.Load() == stateAuthenticated {
			targets = append(targets, ac)
		}
	}
	s.mu.RUnlock()

	for _, ac := range targets {
		s.enqueue(ac, data)
	}
}

// PushMarketUpdate fans a market snapshot out to its subscribers.
func (s *Server) PushMarketUpdate(marketID string, data map[string]interface{}) {
	subscribers := s.subscriptions.Subscribers(marketID)
	if len(subscribers) == 0 {
		return
	}
	s.Broadcast(subscribers, NewNotification(NotifyMarketUpdate, map[string]interface{}{
		"marketId": marketID,
		"data":     data,
	}))
	if s.eventBus != nil {
		s.eventBus.PublishMarketUpdate(marketID, data)
	}
}

// closeConnection force-closes a connection with a close frame.
func (s *Server) closeConnection(ac *AgentConnection, code int, reason string) {
	ac.closeOnce.Do(func() {
		_ = ac.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = ac.conn.Close()
	})
}

// teardown runs exactly once per connection, after the read pump exits. It
// removes the connection from the tables and applies disconnect cleanup.
func (s *Server) teardown(ac *AgentConnection, code int, reason string) {
	wasAuthenticated := ac.state.Swap(stateClosed) == stateAuthenticated

	ac.mu.Lock()
	if ac.authTimer != nil {
		ac.authTimer.Stop()
	}
	agentID := ac.agentID
	ac.mu.Unlock()

	s.mu.Lock()
	delete(s.conns, ac.id)
	if agentID != "" && s.byAgent[agentID] == ac {
		delete(s.byAgent, agentID)
	}
	s.mu.Unlock()

	close(ac.done)
	s.closeConnection(ac, code, reason)

	if wasAuthenticated && agentID != "" {
		s.limiter.Remove(agentID)
		s.subscriptions.RemoveAgent(agentID)
		if s.opts.LeaveCoalitionsOnDisconnect {
			s.coalitions.RemoveAgent(agentID)
		}
		if s.eventBus != nil {
			s.eventBus.PublishAgentDisconnected(agentID, code, reason)
		}
		s.logger.WithField("agentId", agentID).Info("Agent disconnected")
	} else {
		s.logger.Debugf("Connection %s closed before authenticating", ac.id)
	}
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) handleStats(c *gin.Context) {
	totalCoalitions, activeCoalitions := 0, 0
	if s.coalitions != nil {
		totalCoalitions, activeCoalitions = s.coalitions.Counts()
	}
	stats := gin.H{
		"connections": s.ConnectionCount(),
		"coalitions": gin.H{
			"total":  totalCoalitions,
			"active": activeCoalitions,
		},
		"subscribedMarkets": s.subscriptions.Count(),
	}
	if s.payments != nil {
		if ps, err := s.payments.Statistics(c.Request.Context()); err == nil {
			stats["payments"] = ps
		}
	}
	c.JSON(http.StatusOK, stats)
}

// Close shuts the server down: stop accepting, close every live connection
// with a shutdown reason, and wait (bounded) for the pumps to drain. Safe to
// call concurrently with ongoing message handling.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*AgentConnection, 0, len(s.conns))
	for _, ac := range s.conns {
		conns = append(conns, ac)
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopChan) })

	for _, ac := range conns {
		s.closeConnection(ac, websocket.CloseGoingAway, "server shutting down")
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warnf("HTTP shutdown: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("A2A server stopped")
	return nil
}
