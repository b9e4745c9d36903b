package a2a

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChallenge_ExactFormat(t *testing.T) {
	got := BuildChallenge("0xAbC123", 7, 1700000000000)
	want := "A2A Authentication\n\nAddress: 0xAbC123\nToken ID: 7\nTimestamp: 1700000000000"
	assert.Equal(t, want, got)
}

func TestSignChallenge_Roundtrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := SignChallenge(key, address, 42, 1700000000000)
	require.NoError(t, err)

	challenge := BuildChallenge(address, 42, 1700000000000)
	recovered, err := RecoverSigner(challenge, sig)
	require.NoError(t, err)
	assert.Equal(t, address, recovered.Hex())
}

func TestRecoverSigner_WrongKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	sig, err := SignChallenge(otherKey, address, 1, 1700000000000)
	require.NoError(t, err)

	challenge := BuildChallenge(address, 1, 1700000000000)
	recovered, err := RecoverSigner(challenge, sig)
	require.NoError(t, err)
	assert.NotEqual(t, address, recovered.Hex())
}

func TestRecoverSigner_EthersStyleRecoveryID(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := SignChallenge(key, address, 5, 1700000000000)
	require.NoError(t, err)

	// Re-encode the recovery id as 27/28 the way ethers.js emits it.
	decoded, err := hexutil.Decode(sig)
	require.NoError(t, err)
	decoded[ethcrypto.RecoveryIDOffset] += 27

	challenge := BuildChallenge(address, 5, 1700000000000)
	recovered, err := RecoverSigner(challenge, hexutil.Encode(decoded))
	require.NoError(t, err)
	assert.Equal(t, address, recovered.Hex())
}

func TestRecoverSigner_Malformed(t *testing.T) {
	_, err := RecoverSigner("challenge", "not-hex")
	assert.Error(t, err)

	_, err = RecoverSigner("challenge", "0x1234")
	assert.Error(t, err)
}

func TestSameAddress_CaseInsensitive(t *testing.T) {
	assert.True(t, SameAddress("0xAbCd000000000000000000000000000000000000", "0xabcd000000000000000000000000000000000000"))
	assert.False(t, SameAddress("0x1111000000000000000000000000000000000000", "0x2222000000000000000000000000000000000000"))
}
