package a2a

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRegistry struct {
	owners   map[int64]string
	profiles map[int64]*AgentProfile
}

func (m *mockRegistry) VerifyOwnership(_ context.Context, address string, tokenID int64) (bool, error) {
	owner, ok := m.owners[tokenID]
	return ok && SameAddress(owner, address), nil
}

func (m *mockRegistry) GetProfile(_ context.Context, tokenID int64) (*AgentProfile, error) {
	return m.profiles[tokenID], nil
}

func (m *mockRegistry) Discover(_ context.Context, filters DiscoverFilters) ([]AgentProfile, error) {
	var out []AgentProfile
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func signedCredentials(t *testing.T, key *ecdsa.PrivateKey, tokenID int64, ts int64) Credentials {
	t.Helper()
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	sig, err := SignChallenge(key, address, tokenID, ts)
	require.NoError(t, err)
	return Credentials{
		Address:   address,
		TokenID:   tokenID,
		Signature: sig,
		Timestamp: ts,
	}
}

func TestAuthenticate_Success(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	am := NewAuthManager(NewMemorySessionStore(), nil, nil)
	creds := signedCredentials(t, key, 42, time.Now().UnixMilli())

	session, err := am.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, creds.Address, session.Address)
	assert.Equal(t, int64(42), session.TokenID)
	assert.Len(t, session.Token, 64) // 32 random bytes hex-encoded
	assert.WithinDuration(t, time.Now().Add(SessionTTL), session.ExpiresAt, 5*time.Second)

	assert.True(t, am.VerifySession(context.Background(), session.Token))
}

func TestAuthenticate_StaleTimestamp(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	am := NewAuthManager(NewMemorySessionStore(), nil, nil)
	stale := time.Now().Add(-ReplayWindow - time.Minute).UnixMilli()
	creds := signedCredentials(t, key, 1, stale)

	_, err = am.Authenticate(context.Background(), creds)
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeAuthenticationFailed, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "timestamp expired")
}

func TestAuthenticate_FutureTimestampRejected(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	am := NewAuthManager(NewMemorySessionStore(), nil, nil)
	future := time.Now().Add(ReplayWindow + time.Minute).UnixMilli()
	creds := signedCredentials(t, key, 1, future)

	_, err = am.Authenticate(context.Background(), creds)
	require.Error(t, err)
}

func TestAuthenticate_InvalidSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	store := NewMemorySessionStore()
	am := NewAuthManager(store, nil, nil)

	// Signature produced by a different key than the claimed address.
	ts := time.Now().UnixMilli()
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	sig, err := SignChallenge(other, address, 1, ts)
	require.NoError(t, err)

	_, err = am.Authenticate(context.Background(), Credentials{
		Address:   address,
		TokenID:   1,
		Signature: sig,
		Timestamp: ts,
	})
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeAuthenticationFailed, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "invalid signature")

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "no session should exist after a failed handshake")
}

func TestAuthenticate_OwnershipCheck(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	registry := &mockRegistry{owners: map[int64]string{7: address}}
	am := NewAuthManager(NewMemorySessionStore(), registry, nil)

	// Owns token 7.
	session, err := am.Authenticate(context.Background(), signedCredentials(t, key, 7, time.Now().UnixMilli()))
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)

	// Does not own token 8.
	_, err = am.Authenticate(context.Background(), signedCredentials(t, key, 8, time.Now().UnixMilli()))
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Contains(t, rpcErr.Message, "does not own token")
}

func TestSessionStore_ExpiryAndSweep(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Session{
		Token:     "live",
		Address:   "0x1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, store.Put(ctx, &Session{
		Token:     "dead",
		Address:   "0x2",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	// Expired sessions read as absent.
	got, err := store.Get(ctx, "dead")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0x1", got.Address)

	evicted, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted, "lazy eviction on Get already removed the expired session")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRevoke(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	am := NewAuthManager(NewMemorySessionStore(), nil, nil)
	session, err := am.Authenticate(context.Background(), signedCredentials(t, key, 1, time.Now().UnixMilli()))
	require.NoError(t, err)

	require.NoError(t, am.Revoke(context.Background(), session.Token))
	assert.False(t, am.VerifySession(context.Background(), session.Token))
}
