package a2a

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// BuildChallenge constructs the canonical authentication challenge. The exact
// string, including newlines, is what existing clients sign; changing it
// breaks signature verification for every deployed agent.
func BuildChallenge(address string, tokenID int64, timestamp int64) string {
	return fmt.Sprintf("A2A Authentication\n\nAddress: %s\nToken ID: %d\nTimestamp: %d", address, tokenID, timestamp)
}

// SignChallenge signs the challenge using EIP-191 (personal_sign semantics)
// and returns a 0x-prefixed signature.
func SignChallenge(privKey *ecdsa.PrivateKey, address string, tokenID int64, timestamp int64) (string, error) {
	msg := BuildChallenge(address, tokenID, timestamp)
	hash := accounts.TextHash([]byte(msg))
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// RecoverSigner recovers the address that produced an EIP-191 signature over
// the given challenge. Accepts both 0/1 and 27/28 recovery id encodings
// (ethers.js emits the latter).
func RecoverSigner(challenge string, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("malformed signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte{}, sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(challenge))
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
