package a2a

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ClientOptions configures an AgentClient.
type ClientOptions struct {
	URL          string
	PrivateKey   *ecdsa.PrivateKey
	TokenID      int64
	Capabilities CapabilitySet
	Endpoint     string

	// Reconnect enables automatic redial with capped backoff after an
	// unexpected disconnect. Each redial performs a fresh handshake.
	Reconnect            bool
	MaxReconnectAttempts int

	CallTimeout time.Duration
	Logger      *logrus.Logger
}

// AgentClient is the client-side actor of the protocol: it dials the server,
// performs the handshake and exposes a call/await interface over the wire.
type AgentClient struct {
	opts    ClientOptions
	address string
	logger  *logrus.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *Response
	seq       atomic.Int64

	agentID      string
	sessionToken string

	notifications chan *Notification
	closed        atomic.Bool
	readerDone    chan struct{}
}

func NewAgentClient(opts ClientOptions) (*AgentClient, error) {
	if opts.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &AgentClient{
		opts:          opts,
		address:       ethcrypto.PubkeyToAddress(opts.PrivateKey.PublicKey).Hex(),
		logger:        logger,
		pending:       make(map[int64]chan *Response),
		notifications: make(chan *Notification, 64),
	}, nil
}

// Address returns the wallet address derived from the signing key.
func (c *AgentClient) Address() string { return c.address }

// AgentID returns the id assigned at handshake, empty before Connect.
func (c *AgentClient) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// SessionToken returns the current session token, empty before Connect.
func (c *AgentClient) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

// Notifications delivers server-initiated push frames. Frames are dropped if
// the consumer falls behind.
func (c *AgentClient) Notifications() <-chan *Notification {
	return c.notifications
}

// Connect dials the server and performs the handshake.
func (c *AgentClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.readerDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (c *AgentClient) handshake(ctx context.Context) error {
	timestamp := time.Now().UnixMilli()
	signature, err := SignChallenge(c.opts.PrivateKey, c.address, c.opts.TokenID, timestamp)
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}

	params := HandshakeParams{
		Credentials: Credentials{
			Address:   c.address,
			TokenID:   c.opts.TokenID,
			Signature: signature,
			Timestamp: timestamp,
		},
		Capabilities: c.opts.Capabilities,
		Endpoint:     c.opts.Endpoint,
	}

	raw, err := c.Call(ctx, "handshake", params)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	var result HandshakeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("handshake result: %w", err)
	}

	c.mu.Lock()
	c.agentID = result.AgentID
	c.sessionToken = result.SessionToken
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"agentId": result.AgentID,
		"server":  c.opts.URL,
	}).Info("Connected to A2A server")

	return nil
}

// Call sends a request and awaits its correlated response. A server-side
// error comes back as *RPCError.
func (c *AgentClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	id := c.seq.Add(1)
	req := map[string]interface{}{
		"jsonrpc": Version,
		"method":  method,
		"id":      id,
	}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(data); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a request with no id; the server will not reply.
func (c *AgentClient) Notify(method string, params interface{}) error {
	data, err := json.Marshal(NewNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.write(data)
}

func (c *AgentClient) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *AgentClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		done := c.readerDone
		c.mu.Unlock()
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.failPending(fmt.Errorf("connection lost: %w", err))
			if !c.closed.Load() && c.opts.Reconnect {
				go c.reconnect()
			}
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warnf("Malformed frame from server: %v", err)
			continue
		}

		var id int64
		if len(resp.ID) > 0 && string(resp.ID) != "null" && json.Unmarshal(resp.ID, &id) == nil {
			c.pendingMu.Lock()
			ch, ok := c.pending[id]
			c.pendingMu.Unlock()
			if ok {
				ch <- &resp
			}
			continue
		}

		// No correlation id: a server push.
		var note Notification
		if err := json.Unmarshal(data, &note); err != nil || note.Method == "" {
			continue
		}
		select {
		case c.notifications <- &note:
		default:
			c.logger.Warnf("Notification buffer full, dropping %s", note.Method)
		}
	}
}

func (c *AgentClient) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- &Response{JSONRPC: Version, Error: &RPCError{Code: CodeInternalError, Message: err.Error()}}:
		default:
		}
		delete(c.pending, id)
	}
}

// reconnect redials with capped exponential backoff. Handshake failures
// count as attempts; a fresh signature is produced each time.
func (c *AgentClient) reconnect() {
	backoff := time.Second
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		if c.closed.Load() {
			return
		}
		c.logger.Infof("Reconnect attempt %d/%d", attempt, c.opts.MaxReconnectAttempts)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("Reconnected")
			return
		}

		c.logger.Warnf("Reconnect failed: %v", err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
	c.logger.Error("Giving up on reconnection")
}

// Close tears the connection down and stops reconnection.
func (c *AgentClient) Close() error {
	c.closed.Store(true)

	c.mu.Lock()
	conn := c.conn
	done := c.readerDone
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	err := conn.Close()

	if done != nil {
		select {
		case <-done:
		case <-time.After(writeWait):
		}
	}
	return err
}
