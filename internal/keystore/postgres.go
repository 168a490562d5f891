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

package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/pgconn"
)

// MinRotationAge is the minimum age a current key pair must reach before
// Rotate will tombstone it. Spec default: 5 minutes.
const MinRotationAge = 5 * time.Minute

// PostgresStore implements Store against the user_keys schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool. Callers own the pool's lifecycle.
func NewPostgresStore(pool *pgconn.Pool) *PostgresStore {
	return &PostgresStore{pool: pool.Pool}
}

func scanKeyPair(row pgx.Row) (UserKeyPair, error) {
	var k UserKeyPair
	var deletedAt *time.Time
	if err := row.Scan(&k.ID, &k.AuthorDID, &k.PublicKey, &k.PrivateKey, &k.CreatedAt, &deletedAt); err != nil {
		return UserKeyPair{}, err
	}
	k.DeletedAt = deletedAt
	return k, nil
}

const keyPairColumns = "id, author_did, public_key, private_key, created_at, deleted_at"

func (s *PostgresStore) GetOrCreatePublicKey(ctx context.Context, authorDID string) (UserKeyPair, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+keyPairColumns+`
		FROM user_keys
		WHERE author_did = $1 AND deleted_at IS NULL`, authorDID)
	k, err := scanKeyPair(row)
	if err == nil {
		return k, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return UserKeyPair{}, fmt.Errorf("keystore: get current key pair: %w", err)
	}

	publicKey, privateKey, err := generateKeyPairFn()
	if err != nil {
		return UserKeyPair{}, fmt.Errorf("keystore: generate key pair: %w", err)
	}

	id := uuid.New()
	row = s.pool.QueryRow(ctx, `
		INSERT INTO user_keys (id, author_did, public_key, private_key, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, now(), NULL)
		ON CONFLICT (author_did) WHERE deleted_at IS NULL DO UPDATE SET author_did = EXCLUDED.author_did
		RETURNING `+keyPairColumns, id, authorDID, publicKey, privateKey)
	return scanKeyPair(row)
}

func (s *PostgresStore) GetPublicKeys(ctx context.Context, dids []string) ([]UserKeyPair, error) {
	if len(dids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+keyPairColumns+`
		FROM user_keys
		WHERE author_did = ANY($1) AND deleted_at IS NULL`, dids)
	if err != nil {
		return nil, fmt.Errorf("keystore: get public keys: %w", err)
	}
	defer rows.Close()

	var out []UserKeyPair
	for rows.Next() {
		k, err := scanKeyPair(rows)
		if err != nil {
			return nil, fmt.Errorf("keystore: scan public key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPrivateKeys(ctx context.Context, did string, ids []uuid.UUID) ([]UserKeyPair, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+keyPairColumns+`
		FROM user_keys
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("keystore: get private keys: %w", err)
	}
	defer rows.Close()

	var out []UserKeyPair
	owners := map[string]struct{}{}
	for rows.Next() {
		k, err := scanKeyPair(rows)
		if err != nil {
			return nil, fmt.Errorf("keystore: scan private key: %w", err)
		}
		owners[k.AuthorDID] = struct{}{}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Defense in depth: the caller asked for keys it believes belong to
	// did. If the result set's owning DIDs are anything but exactly
	// {did}, something upstream mis-scoped the request; that is an
	// internal authorization failure, not a client error, and must never
	// be silently filtered.
	if len(owners) > 1 {
		return nil, errs.Newf(errs.KindInternal, "private key request for %q returned %d distinct owning DIDs", did, len(owners))
	}
	if len(owners) == 1 {
		if _, ok := owners[did]; !ok {
			return nil, errs.Newf(errs.KindInternal, "private key request for %q returned keys owned by a different DID", did)
		}
	}
	return out, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, authorDID string, newPublicKey, newPrivateKey []byte) (previous, current UserKeyPair, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return UserKeyPair{}, UserKeyPair{}, fmt.Errorf("keystore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+keyPairColumns+`
		FROM user_keys
		WHERE author_did = $1 AND deleted_at IS NULL
		FOR UPDATE`, authorDID)
	prev, err := scanKeyPair(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserKeyPair{}, UserKeyPair{}, errs.Newf(errs.KindNotFound, "no current key pair for %q", authorDID)
	}
	if err != nil {
		return UserKeyPair{}, UserKeyPair{}, fmt.Errorf("keystore: lock current key pair: %w", err)
	}

	if time.Since(prev.CreatedAt) < MinRotationAge {
		return UserKeyPair{}, UserKeyPair{}, errs.New(errs.KindConflict, "current key pair is too recent to rotate").WithCode("too-recent")
	}

	if _, err := tx.Exec(ctx, `UPDATE user_keys SET deleted_at = now() WHERE id = $1`, prev.ID); err != nil {
		return UserKeyPair{}, UserKeyPair{}, fmt.Errorf("keystore: tombstone key pair: %w", err)
	}

	newID := uuid.New()
	row = tx.QueryRow(ctx, `
		INSERT INTO user_keys (id, author_did, public_key, private_key, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, now(), NULL)
		RETURNING `+keyPairColumns, newID, authorDID, newPublicKey, newPrivateKey)
	next, err := scanKeyPair(row)
	if err != nil {
		return UserKeyPair{}, UserKeyPair{}, fmt.Errorf("keystore: insert new key pair: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return UserKeyPair{}, UserKeyPair{}, fmt.Errorf("keystore: commit rotation: %w", err)
	}

	prev.DeletedAt = pgconn.NullTime(time.Now())
	return prev, next, nil
}

// generateKeyPairFn is overridden in tests to avoid exercising the real
// ML-KEM implementation on every get-or-create call.
var generateKeyPairFn = defaultGenerateKeyPair
