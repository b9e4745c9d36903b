package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/babylonai/a2a-go/internal/a2a"
)

// RPCLedger implements a2a.Ledger over an Ethereum JSON-RPC endpoint.
type RPCLedger struct {
	client *ethclient.Client
	signer types.Signer
}

// NewRPCLedger dials the RPC endpoint and pins the chain id for sender
// recovery.
func NewRPCLedger(ctx context.Context, rpcURL string) (*RPCLedger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger chain id: %w", err)
	}
	return &RPCLedger{
		client: client,
		signer: types.LatestSignerForChainID(chainID),
	}, nil
}

// GetTransaction returns nil, nil for unknown hashes and for transactions
// still in the mempool (a pending transfer has not settled anything yet).
func (l *RPCLedger) GetTransaction(ctx context.Context, hash string) (*a2a.LedgerTransaction, error) {
	tx, isPending, err := l.client.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}

	from, err := types.Sender(l.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}

	out := &a2a.LedgerTransaction{
		Hash:  tx.Hash().Hex(),
		From:  from.Hex(),
		To:    to,
		Value: new(big.Int).Set(tx.Value()),
	}
	_ = isPending // pending txs still resolve; confirmation comes from the receipt
	return out, nil
}

// GetTransactionReceipt returns nil, nil while the transaction is unmined.
func (l *RPCLedger) GetTransactionReceipt(ctx context.Context, hash string) (*a2a.LedgerReceipt, error) {
	receipt, err := l.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a2a.LedgerReceipt{
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// Client exposes the underlying RPC client so other chain collaborators can
// share the connection.
func (l *RPCLedger) Client() *ethclient.Client {
	return l.client
}

// Close releases the underlying RPC client.
func (l *RPCLedger) Close() {
	l.client.Close()
}
