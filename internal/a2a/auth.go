package a2a

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// ReplayWindow bounds how far a credential timestamp may drift from
	// server time before the handshake is rejected.
	ReplayWindow = 5 * time.Minute

	// SessionTTL is how long a minted session stays valid.
	SessionTTL = 24 * time.Hour

	sessionTokenBytes = 32
)

// AuthManager orchestrates challenge verification, optional on-chain identity
// checks and session issuance. A failed authentication is terminal for that
// handshake attempt; the caller must retry with a fresh timestamp/signature.
type AuthManager struct {
	sessions SessionStore
	registry IdentityRegistry // optional; skips ownership check when nil
	logger   *logrus.Logger
}

func NewAuthManager(sessions SessionStore, registry IdentityRegistry, logger *logrus.Logger) *AuthManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &AuthManager{
		sessions: sessions,
		registry: registry,
		logger:   logger,
	}
}

// Authenticate verifies the supplied credentials and mints a session.
func (am *AuthManager) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	now := time.Now()

	issued := time.UnixMilli(creds.Timestamp)
	drift := now.Sub(issued)
	if drift < 0 {
		drift = -drift
	}
	if drift > ReplayWindow {
		am.logger.WithFields(logrus.Fields{
			"address": creds.Address,
			"driftMs": drift.Milliseconds(),
		}).Warn("Handshake rejected: timestamp outside replay window")
		return nil, ErrAuthenticationFailed("timestamp expired")
	}

	challenge := BuildChallenge(creds.Address, creds.TokenID, creds.Timestamp)
	signer, err := RecoverSigner(challenge, creds.Signature)
	if err != nil || !SameAddress(signer.Hex(), creds.Address) {
		am.logger.WithField("address", creds.Address).Warn("Handshake rejected: signature does not match claimed address")
		return nil, ErrAuthenticationFailed("invalid signature")
	}

	if am.registry != nil {
		owns, err := am.registry.VerifyOwnership(ctx, creds.Address, creds.TokenID)
		if err != nil {
			return nil, fmt.Errorf("identity registry lookup: %w", err)
		}
		if !owns {
			am.logger.WithFields(logrus.Fields{
				"address": creds.Address,
				"tokenId": creds.TokenID,
			}).Warn("Handshake rejected: token ownership mismatch")
			return nil, ErrAuthenticationFailed("agent does not own token")
		}
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("session token generation: %w", err)
	}

	session := &Session{
		Token:     token,
		Address:   creds.Address,
		TokenID:   creds.TokenID,
		ExpiresAt: now.Add(SessionTTL),
	}
	if err := am.sessions.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	am.logger.WithFields(logrus.Fields{
		"address": creds.Address,
		"tokenId": creds.TokenID,
	}).Info("Agent authenticated")

	return session, nil
}

// VerifySession reports whether the token maps to a live session.
func (am *AuthManager) VerifySession(ctx context.Context, token string) bool {
	session, err := am.sessions.Get(ctx, token)
	return err == nil && session != nil
}

// GetSession returns the live session for a token, or nil.
func (am *AuthManager) GetSession(ctx context.Context, token string) (*Session, error) {
	return am.sessions.Get(ctx, token)
}

// Revoke invalidates a session immediately.
func (am *AuthManager) Revoke(ctx context.Context, token string) error {
	return am.sessions.Delete(ctx, token)
}

// CleanupExpiredSessions sweeps the store; the server runs this periodically.
func (am *AuthManager) CleanupExpiredSessions(ctx context.Context) int {
	evicted, err := am.sessions.Sweep(ctx)
	if err != nil {
		am.logger.Errorf("Session sweep failed: %v", err)
		return 0
	}
	if evicted > 0 {
		am.logger.Debugf("Evicted %d expired sessions", evicted)
	}
	return evicted
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
