/*
Copyright 2026 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sessionstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	goerrs "github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/pgconn"
)

// PostgresStore is a Store backed by one schema's sessions/session_keys
// tables. Both private-sessions and private-profiles run their own
// PostgresStore against their own schema; the two never share a pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	cfg  Config
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgconn.Pool, cfg Config) *PostgresStore {
	return &PostgresStore{pool: pool.Pool, cfg: cfg}
}

func (s *PostgresStore) CreateSession(ctx context.Context, authorDID string, expiresAt time.Time, recipients []RecipientKey) (Session, error) {
	hasAuthor := false
	for _, r := range recipients {
		if r.RecipientDID == authorDID {
			hasAuthor = true
			break
		}
	}
	if !hasAuthor {
		return Session{}, goerrs.New(goerrs.KindValidation, "recipients must include the author's own key")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return Session{}, goerrs.Wrap(goerrs.KindInternal, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.New()
	now := time.Now()
	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, author_did, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		id, authorDID, now, expiresAt)
	if err != nil {
		return Session{}, goerrs.Wrap(goerrs.KindInternal, "insert session", err)
	}

	batch := &pgx.Batch{}
	for _, r := range recipients {
		batch.Queue(
			`INSERT INTO session_keys (session_id, recipient_did, encrypted_dek, user_key_pair_id) VALUES ($1, $2, $3, $4)`,
			id, r.RecipientDID, r.EncryptedDEK, r.UserKeyPairID)
	}
	br := tx.SendBatch(ctx, batch)
	for range recipients {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return Session{}, goerrs.Wrap(goerrs.KindInternal, "insert session key", err)
		}
	}
	if err := br.Close(); err != nil {
		return Session{}, goerrs.Wrap(goerrs.KindInternal, "close batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, goerrs.Wrap(goerrs.KindInternal, "commit transaction", err)
	}

	return Session{ID: id, AuthorDID: authorDID, CreatedAt: now, ExpiresAt: expiresAt}, nil
}

func (s *PostgresStore) RevokeAllActive(ctx context.Context, authorDID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = now()
		 WHERE author_did = $1 AND revoked_at IS NULL AND expires_at > now()`,
		authorDID)
	if err != nil {
		return 0, goerrs.Wrap(goerrs.KindInternal, "revoke active sessions", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) AddRecipientToSession(ctx context.Context, sessionID uuid.UUID, key RecipientKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_keys (session_id, recipient_did, encrypted_dek, user_key_pair_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, recipient_did) DO NOTHING`,
		sessionID, key.RecipientDID, key.EncryptedDEK, key.UserKeyPairID)
	if err != nil {
		return goerrs.Wrap(goerrs.KindInternal, "add recipient to session", err)
	}
	return nil
}

func (s *PostgresStore) DeleteKeys(ctx context.Context, authorDID, recipientDID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM session_keys sk
		 USING sessions s
		 WHERE sk.session_id = s.id AND s.author_did = $1 AND sk.recipient_did = $2`,
		authorDID, recipientDID)
	if err != nil {
		return goerrs.Wrap(goerrs.KindInternal, "delete session keys", err)
	}
	return nil
}

func (s *PostgresStore) ListCandidateSessions(ctx context.Context, authorDID string) ([]CandidateSession, error) {
	since := time.Now().Add(-s.cfg.LookbackWindow)
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.author_did, s.created_at, s.expires_at, s.revoked_at,
		        sk.recipient_did, sk.encrypted_dek, sk.user_key_pair_id
		 FROM sessions s
		 JOIN session_keys sk ON sk.session_id = s.id AND sk.recipient_did = s.author_did
		 WHERE s.author_did = $1 AND s.created_at > $2
		       AND s.revoked_at IS NULL AND s.expires_at > now()`,
		authorDID, since)
	if err != nil {
		return nil, goerrs.Wrap(goerrs.KindInternal, "list candidate sessions", err)
	}
	defer rows.Close()

	var out []CandidateSession
	for rows.Next() {
		var cs CandidateSession
		if err := rows.Scan(
			&cs.Session.ID, &cs.Session.AuthorDID, &cs.Session.CreatedAt, &cs.Session.ExpiresAt, &cs.Session.RevokedAt,
			&cs.AuthorKey.RecipientDID, &cs.AuthorKey.EncryptedDEK, &cs.AuthorKey.UserKeyPairID,
		); err != nil {
			return nil, goerrs.Wrap(goerrs.KindInternal, "scan candidate session", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, goerrs.Wrap(goerrs.KindInternal, "list candidate sessions", err)
	}
	return out, nil
}

func (s *PostgresStore) HasRecipientKey(ctx context.Context, sessionID uuid.UUID, recipientDID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM session_keys WHERE session_id = $1 AND recipient_did = $2)`,
		sessionID, recipientDID,
	).Scan(&exists)
	if err != nil {
		return false, goerrs.Wrap(goerrs.KindInternal, "check recipient key", err)
	}
	return exists, nil
}

func (s *PostgresStore) ScanByKeyPair(ctx context.Context, userKeyPairID uuid.UUID, batch int) ([]SessionKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, recipient_did, encrypted_dek, user_key_pair_id
		 FROM session_keys WHERE user_key_pair_id = $1 LIMIT $2`,
		userKeyPairID, batch)
	if err != nil {
		return nil, goerrs.Wrap(goerrs.KindInternal, "scan by keypair", err)
	}
	defer rows.Close()

	var out []SessionKey
	for rows.Next() {
		var sk SessionKey
		if err := rows.Scan(&sk.SessionID, &sk.RecipientDID, &sk.EncryptedDEK, &sk.UserKeyPairID); err != nil {
			return nil, goerrs.Wrap(goerrs.KindInternal, "scan session key", err)
		}
		out = append(out, sk)
	}
	if err := rows.Err(); err != nil {
		return nil, goerrs.Wrap(goerrs.KindInternal, "scan by keypair", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateKeyPairReference(ctx context.Context, sessionID uuid.UUID, recipientDID string, newEncryptedDEK []byte, newUserKeyPairID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_keys SET encrypted_dek = $3, user_key_pair_id = $4
		 WHERE session_id = $1 AND recipient_did = $2`,
		sessionID, recipientDID, newEncryptedDEK, newUserKeyPairID)
	if err != nil {
		return goerrs.Wrap(goerrs.KindInternal, "update keypair reference", err)
	}
	if tag.RowsAffected() == 0 {
		return goerrs.New(goerrs.KindNotFound, "session key not found")
	}
	return nil
}
