package a2a

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentRequest is the unit of the x402 micropayment flow: committed
// off-chain, settled on-chain, verified against the ledger.
type PaymentRequest struct {
	ID        string                 `json:"id"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Amount    string                 `json:"amount"` // smallest currency unit, decimal string
	Service   string                 `json:"service"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
	Verified  bool                   `json:"verified"`
	TxHash    string                 `json:"txHash,omitempty"`
}

// PaymentStore abstracts payment persistence. The in-memory implementation
// serves single-instance deployments; internal/store provides a shared-store
// backend for clustered ones.
type PaymentStore interface {
	Put(ctx context.Context, req *PaymentRequest) error
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, id string) (*PaymentRequest, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*PaymentRequest, error)
}

// MemoryPaymentStore is the default single-instance PaymentStore.
type MemoryPaymentStore struct {
	mu       sync.RWMutex
	requests map[string]*PaymentRequest
}

func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{requests: make(map[string]*PaymentRequest)}
}

func (s *MemoryPaymentStore) Put(_ context.Context, req *PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryPaymentStore) Get(_ context.Context, id string) (*PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryPaymentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
	return nil
}

func (s *MemoryPaymentStore) List(_ context.Context) ([]*PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PaymentRequest, 0, len(s.requests))
	for _, req := range s.requests {
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

// VerifyResult is the outcome of a verification attempt. Business-rule
// failures land here with Verified=false; only infrastructure failures
// surface as errors.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// PaymentStatistics is computed on demand from the store.
type PaymentStatistics struct {
	Pending  int `json:"pending"`
	Verified int `json:"verified"`
	Expired  int `json:"expired"`
}

// PaymentLedger tracks x402 requests through commit -> settle-on-chain ->
// verify. Verification is idempotent per request id.
type PaymentLedger struct {
	mu        sync.Mutex
	store     PaymentStore
	ledger    Ledger
	minAmount *big.Int
	timeout   time.Duration
	logger    *logrus.Logger
}

func NewPaymentLedger(store PaymentStore, ledger Ledger, minAmount *big.Int, timeout time.Duration, logger *logrus.Logger) *PaymentLedger {
	if logger == nil {
		logger = logrus.New()
	}
	if minAmount == nil {
		minAmount = big.NewInt(0)
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &PaymentLedger{
		store:     store,
		ledger:    ledger,
		minAmount: minAmount,
		timeout:   timeout,
		logger:    logger,
	}
}

// Create validates the amount and stores a Pending request with a fresh,
// globally unique id.
func (pl *PaymentLedger) Create(ctx context.Context, from, to, amount, service string, metadata map[string]interface{}) (*PaymentRequest, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() < 0 {
		return nil, ErrPaymentFailed("invalid amount")
	}
	if value.Cmp(pl.minAmount) < 0 {
		return nil, ErrPaymentFailed(fmt.Sprintf("amount below minimum %s", pl.minAmount.String()))
	}

	now := time.Now()
	req := &PaymentRequest{
		ID:        fmt.Sprintf("x402-%d-%s", now.UnixMilli(), shortRandom()),
		From:      from,
		To:        to,
		Amount:    amount,
		Service:   service,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(pl.timeout),
	}
	if err := pl.store.Put(ctx, req); err != nil {
		return nil, fmt.Errorf("payment store: %w", err)
	}

	pl.logger.WithFields(logrus.Fields{
		"requestId": req.ID,
		"from":      from,
		"to":        to,
		"amount":    amount,
		"service":   service,
	}).Info("Payment request created")

	return req, nil
}

// Verify checks a settlement receipt against the ledger. The check ordering
// is part of the protocol contract: not found, expired, already verified
// (idempotent success), transaction missing, unconfirmed, reverted, then
// itemized sender/recipient/amount mismatches.
func (pl *PaymentLedger) Verify(ctx context.Context, requestID, txHash string) (*VerifyResult, error) {
	pl.mu.Lock()
	req, err := pl.store.Get(ctx, requestID)
	if err != nil {
		pl.mu.Unlock()
		return nil, fmt.Errorf("payment store: %w", err)
	}
	if req == nil {
		pl.mu.Unlock()
		return &VerifyResult{Verified: false, Message: "payment request not found"}, nil
	}
	if !req.Verified && time.Now().After(req.ExpiresAt) {
		pl.mu.Unlock()
		return &VerifyResult{Verified: false, Message: "payment request expired"}, nil
	}
	if req.Verified {
		pl.mu.Unlock()
		return &VerifyResult{Verified: true, Message: "payment already verified"}, nil
	}
	pl.mu.Unlock()

	if pl.ledger == nil {
		return nil, fmt.Errorf("no ledger configured")
	}

	tx, err := pl.ledger.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("ledger transaction lookup: %w", err)
	}
	if tx == nil {
		return &VerifyResult{Verified: false, Message: "transaction not found"}, nil
	}

	receipt, err := pl.ledger.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("ledger receipt lookup: %w", err)
	}
	if receipt == nil {
		return &VerifyResult{Verified: false, Message: "transaction not yet confirmed"}, nil
	}
	if !receipt.Succeeded() {
		return &VerifyResult{Verified: false, Message: "transaction failed on chain"}, nil
	}

	var mismatches []string
	if !SameAddress(tx.From, req.From) {
		mismatches = append(mismatches, fmt.Sprintf("sender mismatch: expected %s, got %s", req.From, tx.From))
	}
	if !SameAddress(tx.To, req.To) {
		mismatches = append(mismatches, fmt.Sprintf("recipient mismatch: expected %s, got %s", req.To, tx.To))
	}
	// Amount must cover the request; overpaying is acceptable.
	requested, _ := new(big.Int).SetString(req.Amount, 10)
	if tx.Value == nil || tx.Value.Cmp(requested) < 0 {
		paid := "0"
		if tx.Value != nil {
			paid = tx.Value.String()
		}
		mismatches = append(mismatches, fmt.Sprintf("insufficient amount: expected %s, got %s", req.Amount, paid))
	}
	if len(mismatches) > 0 {
		return &VerifyResult{Verified: false, Message: strings.Join(mismatches, "; ")}, nil
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	current, err := pl.store.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("payment store: %w", err)
	}
	if current == nil {
		return &VerifyResult{Verified: false, Message: "payment request not found"}, nil
	}
	if current.Verified {
		return &VerifyResult{Verified: true, Message: "payment already verified"}, nil
	}
	current.Verified = true
	current.TxHash = txHash
	if err := pl.store.Put(ctx, current); err != nil {
		return nil, fmt.Errorf("payment store: %w", err)
	}

	pl.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"txHash":    txHash,
	}).Info("Payment verified")

	return &VerifyResult{Verified: true, Message: "payment verified"}, nil
}

// Get returns the request, or nil when unknown.
func (pl *PaymentLedger) Get(ctx context.Context, requestID string) (*PaymentRequest, error) {
	return pl.store.Get(ctx, requestID)
}

// Cancel removes a request regardless of state.
func (pl *PaymentLedger) Cancel(ctx context.Context, requestID string) error {
	req, err := pl.store.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("payment store: %w", err)
	}
	if req == nil {
		return ErrPaymentFailed("payment request not found")
	}
	return pl.store.Delete(ctx, requestID)
}

// Sweep removes Pending requests past expiry. Verified requests are kept for
// audit until explicitly cancelled.
func (pl *PaymentLedger) Sweep(ctx context.Context) int {
	all, err := pl.store.List(ctx)
	if err != nil {
		pl.logger.Errorf("Payment sweep failed: %v", err)
		return 0
	}
	now := time.Now()
	swept := 0
	for _, req := range all {
		if !req.Verified && now.After(req.ExpiresAt) {
			if err := pl.store.Delete(ctx, req.ID); err != nil {
				pl.logger.Errorf("Payment sweep delete %s: %v", req.ID, err)
				continue
			}
			swept++
		}
	}
	if swept > 0 {
		pl.logger.Debugf("Swept %d expired payment requests", swept)
	}
	return swept
}

// Statistics counts request states on demand.
func (pl *PaymentLedger) Statistics(ctx context.Context) (*PaymentStatistics, error) {
	all, err := pl.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment store: %w", err)
	}
	stats := &PaymentStatistics{}
	now := time.Now()
	for _, req := range all {
		switch {
		case req.Verified:
			stats.Verified++
		case now.After(req.ExpiresAt):
			stats.Expired++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

func shortRandom() string {
	return uuid.New().String()[:8]
}
