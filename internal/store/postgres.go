// Package store provides the shared-store backend for clustered deployments.
// Sessions and payment requests written here are visible to every server
// instance; the in-memory stores in internal/a2a remain the single-instance
// default.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babylonai/a2a-go/internal/a2a"
)

type Postgres struct{ db *pgxpool.Pool }

func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: pool}, nil
}

// EnsureSchema creates the protocol tables if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS a2a_sessions (
            token      TEXT PRIMARY KEY,
            address    TEXT NOT NULL,
            token_id   BIGINT NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS a2a_payments (
            id         TEXT PRIMARY KEY,
            payload    JSONB NOT NULL,
            verified   BOOLEAN NOT NULL DEFAULT FALSE,
            expires_at TIMESTAMPTZ NOT NULL
        );
    `)
	return err
}

func (s *Postgres) Close() { s.db.Close() }

// SessionStore returns the pgx-backed a2a.SessionStore.
func (s *Postgres) SessionStore() a2a.SessionStore { return &sessionStore{db: s.db} }

// PaymentStore returns the pgx-backed a2a.PaymentStore.
func (s *Postgres) PaymentStore() a2a.PaymentStore { return &paymentStore{db: s.db} }

type sessionStore struct{ db *pgxpool.Pool }

func (s *sessionStore) Put(ctx context.Context, session *a2a.Session) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO a2a_sessions (token, address, token_id, expires_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (token)
        DO UPDATE SET address=EXCLUDED.address, token_id=EXCLUDED.token_id, expires_at=EXCLUDED.expires_at
    `, session.Token, session.Address, session.TokenID, session.ExpiresAt)
	return err
}

func (s *sessionStore) Get(ctx context.Context, token string) (*a2a.Session, error) {
	session := &a2a.Session{Token: token}
	err := s.db.QueryRow(ctx, `
        SELECT address, token_id, expires_at FROM a2a_sessions
        WHERE token=$1 AND expires_at > now()
    `, token).Scan(&session.Address, &session.TokenID, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM a2a_sessions WHERE token=$1`, token)
	return err
}

func (s *sessionStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM a2a_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *sessionStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM a2a_sessions WHERE expires_at > now()`).Scan(&count)
	return count, err
}

type paymentStore struct{ db *pgxpool.Pool }

func (s *paymentStore) Put(ctx context.Context, req *a2a.PaymentRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal payment request: %w", err)
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO a2a_payments (id, payload, verified, expires_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (id)
        DO UPDATE SET payload=EXCLUDED.payload, verified=EXCLUDED.verified, expires_at=EXCLUDED.expires_at
    `, req.ID, payload, req.Verified, req.ExpiresAt)
	return err
}

func (s *paymentStore) Get(ctx context.Context, id string) (*a2a.PaymentRequest, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM a2a_payments WHERE id=$1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	req := &a2a.PaymentRequest{}
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("unmarshal payment request: %w", err)
	}
	return req, nil
}

func (s *paymentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM a2a_payments WHERE id=$1`, id)
	return err
}

func (s *paymentStore) List(ctx context.Context) ([]*a2a.PaymentRequest, error) {
	rows, err := s.db.Query(ctx, `SELECT payload FROM a2a_payments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*a2a.PaymentRequest
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		req := &a2a.PaymentRequest{}
		if err := json.Unmarshal(payload, req); err != nil {
			return nil, fmt.Errorf("unmarshal payment request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
