package a2a

import (
	"context"
	"math/big"
)

// IdentityRegistry is the external, chain-backed identity collaborator.
// internal/chain provides the on-chain implementation; tests use mocks.
type IdentityRegistry interface {
	// VerifyOwnership reports whether address owns the identity token.
	VerifyOwnership(ctx context.Context, address string, tokenID int64) (bool, error)
	// GetProfile returns nil, nil on a registry miss.
	GetProfile(ctx context.Context, tokenID int64) (*AgentProfile, error)
	// Discover enumerates active agents matching the filters.
	Discover(ctx context.Context, filters DiscoverFilters) ([]AgentProfile, error)
}

// LedgerTransaction is the subset of an on-chain transaction the payment
// verifier needs.
type LedgerTransaction struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
}

// LedgerReceipt carries confirmation state for a settled transaction.
type LedgerReceipt struct {
	Status      uint64
	BlockNumber uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *LedgerReceipt) Succeeded() bool {
	return r.Status == 1
}

// Ledger is the external blockchain collaborator queried during payment
// verification. Both lookups return nil, nil when the hash is unknown; a
// known transaction with a nil receipt is pending confirmation.
type Ledger interface {
	GetTransaction(ctx context.Context, hash string) (*LedgerTransaction, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*LedgerReceipt, error)
}

// MarketDataProvider is the external market-state collaborator backing
// getMarketData / getMarketPrices. Out of scope for the protocol core; a nil
// provider yields a typed placeholder response.
type MarketDataProvider interface {
	GetMarketData(ctx context.Context, marketID string) (map[string]interface{}, error)
	GetMarketPrices(ctx context.Context, marketID string) (map[string]interface{}, error)
}
