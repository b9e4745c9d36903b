// Package chain implements the on-chain collaborators of the A2A core: the
// agent identity registry and the settlement ledger.
package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/babylonai/a2a-go/internal/a2a"
)

// ABI for the agent identity registry (ERC-721 ownership plus agent metadata
// and reputation views).
const identityABI = `[
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"owner","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"getAgent","outputs":[{"components":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"endpoint","type":"string"},{"internalType":"bool","name":"active","type":"bool"}],"internalType":"struct IAgentRegistry.Agent","name":"agent","type":"tuple"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"getCapabilities","outputs":[{"internalType":"string[]","name":"strategies","type":"string[]"},{"internalType":"string[]","name":"markets","type":"string[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"getReputation","outputs":[{"components":[{"internalType":"uint256","name":"totalBets","type":"uint256"},{"internalType":"uint256","name":"wins","type":"uint256"},{"internalType":"uint256","name":"accuracyScore","type":"uint256"},{"internalType":"uint256","name":"trustScore","type":"uint256"},{"internalType":"uint256","name":"volume","type":"uint256"}],"internalType":"struct IAgentRegistry.Reputation","name":"reputation","type":"tuple"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getAgentCount","outputs":[{"internalType":"uint256","name":"count","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// reputation scores are stored on chain scaled by 1e4.
const scoreScale = 10000.0

type agentTuple struct {
	Owner    common.Address
	Name     string
	Endpoint string
	Active   bool
}

type reputationTuple struct {
	TotalBets     *big.Int
	Wins          *big.Int
	AccuracyScore *big.Int
	TrustScore    *big.Int
	Volume        *big.Int
}

// ContractRegistry implements a2a.IdentityRegistry against the on-chain
// agent registry contract.
type ContractRegistry struct {
	addr     common.Address
	contract *bind.BoundContract
	abi      abi.ABI
}

func NewContractRegistry(addr common.Address, backend bind.ContractBackend) (*ContractRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(identityABI))
	if err != nil {
		return nil, err
	}
	c := bind.NewBoundContract(addr, parsed, backend, backend, backend)
	return &ContractRegistry{addr: addr, contract: c, abi: parsed}, nil
}

// VerifyOwnership checks that address is the current owner of the identity
// token. A revert (nonexistent token) counts as not owned.
func (r *ContractRegistry) VerifyOwnership(ctx context.Context, address string, tokenID int64) (bool, error) {
	var owner common.Address
	out := []interface{}{&owner}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", big.NewInt(tokenID))
	if err != nil {
		if isRevert(err) {
			return false, nil
		}
		return false, err
	}
	return owner == common.HexToAddress(address), nil
}

// GetProfile fetches the full agent profile. Returns nil, nil on a registry
// miss (reverted lookup).
func (r *ContractRegistry) GetProfile(ctx context.Context, tokenID int64) (*a2a.AgentProfile, error) {
	call := &bind.CallOpts{Context: ctx}
	id := big.NewInt(tokenID)

	var agent agentTuple
	out := []interface{}{&agent}
	if err := r.contract.Call(call, &out, "getAgent", id); err != nil {
		if isRevert(err) {
			return nil, nil
		}
		return nil, err
	}

	var strategies, markets []string
	capsOut := []interface{}{&strategies, &markets}
	if err := r.contract.Call(call, &capsOut, "getCapabilities", id); err != nil && !isRevert(err) {
		return nil, err
	}

	var rep reputationTuple
	repOut := []interface{}{&rep}
	if err := r.contract.Call(call, &repOut, "getReputation", id); err != nil && !isRevert(err) {
		return nil, err
	}

	profile := &a2a.AgentProfile{
		TokenID:  tokenID,
		Address:  agent.Owner.Hex(),
		Name:     agent.Name,
		Endpoint: agent.Endpoint,
		Capabilities: a2a.CapabilitySet{
			Strategies: strategies,
			Markets:    markets,
		},
		Active: agent.Active,
	}
	if rep.TotalBets != nil {
		profile.Reputation = a2a.Reputation{
			TotalBets:     rep.TotalBets.Int64(),
			Wins:          rep.Wins.Int64(),
			AccuracyScore: float64(rep.AccuracyScore.Int64()) / scoreScale,
			TrustScore:    float64(rep.TrustScore.Int64()) / scoreScale,
			Volume:        rep.Volume.String(),
		}
	}
	return profile, nil
}

// Discover enumerates registered agents and applies the reputation
// pre-filter on the registry side; capability filters stay with the caller.
func (r *ContractRegistry) Discover(ctx context.Context, filters a2a.DiscoverFilters) ([]a2a.AgentProfile, error) {
	var count *big.Int
	out := []interface{}{&count}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAgentCount"); err != nil {
		return nil, err
	}

	var profiles []a2a.AgentProfile
	for id := int64(1); id <= count.Int64(); id++ {
		profile, err := r.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if profile == nil || !profile.Active {
			continue
		}
		if filters.MinReputation > 0 && profile.Reputation.TrustScore < filters.MinReputation {
			continue
		}
		profiles = append(profiles, *profile)
	}
	return profiles, nil
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}
