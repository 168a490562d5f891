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

package trustgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/pgconn"
)

// PostgresStore implements Store against the trusted_users schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool. Callers own the pool's lifecycle.
func NewPostgresStore(pool *pgconn.Pool) *PostgresStore {
	return &PostgresStore{pool: pool.Pool}
}

func scanEdge(row pgx.Row) (TrustEdge, error) {
	var e TrustEdge
	var deletedAt *time.Time
	if err := row.Scan(&e.AuthorDID, &e.RecipientDID, &e.CreatedAt, &deletedAt); err != nil {
		return TrustEdge{}, err
	}
	e.DeletedAt = deletedAt
	return e, nil
}

const edgeColumns = "author_did, recipient_did, created_at, deleted_at"

func (s *PostgresStore) ListTrusted(ctx context.Context, authorDID, recipientDID string) ([]TrustEdge, error) {
	var rows pgx.Rows
	var err error
	if recipientDID == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+edgeColumns+` FROM trust_edges
			WHERE author_did = $1 AND deleted_at IS NULL`, authorDID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+edgeColumns+` FROM trust_edges
			WHERE author_did = $1 AND recipient_did = $2 AND deleted_at IS NULL`, authorDID, recipientDID)
	}
	if err != nil {
		return nil, fmt.Errorf("trustgraph: list trusted: %w", err)
	}
	defer rows.Close()

	var out []TrustEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("trustgraph: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) countRecentEdgesTx(ctx context.Context, tx pgx.Tx, authorDID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM trust_edges
		WHERE author_did = $1 AND created_at > now() - interval '24 hours'`, authorDID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("trustgraph: count recent edges: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AddTrusted(ctx context.Context, authorDID, recipientDID string, quota int) (TrustEdge, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TrustEdge{}, fmt.Errorf("trustgraph: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock any existing edges for this pair so a concurrent re-trust and
	// quota check serialize correctly.
	if _, err := tx.Exec(ctx, `
		SELECT 1 FROM trust_edges
		WHERE author_did = $1 AND recipient_did = $2
		FOR UPDATE`, authorDID, recipientDID); err != nil {
		return TrustEdge{}, fmt.Errorf("trustgraph: lock edge row: %w", err)
	}

	var alreadyActive bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM trust_edges
			WHERE author_did = $1 AND recipient_did = $2 AND deleted_at IS NULL)`,
		authorDID, recipientDID).Scan(&alreadyActive); err != nil {
		return TrustEdge{}, fmt.Errorf("trustgraph: check existing edge: %w", err)
	}
	if alreadyActive {
		return TrustEdge{}, errs.New(errs.KindConflict, "recipient is already trusted").WithCode("already-trusted")
	}

	count, err := s.countRecentEdgesTx(ctx, tx, authorDID)
	if err != nil {
		return TrustEdge{}, err
	}
	if count >= quota {
		return TrustEdge{}, errs.New(errs.KindRateLimit, "daily trust-add quota exceeded").WithCode("quota-exceeded")
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO trust_edges (author_did, recipient_did, created_at, deleted_at)
		VALUES ($1, $2, now(), NULL)
		RETURNING `+edgeColumns, authorDID, recipientDID)
	edge, err := scanEdge(row)
	if err != nil {
		return TrustEdge{}, fmt.Errorf("trustgraph: insert edge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TrustEdge{}, fmt.Errorf("trustgraph: commit add: %w", err)
	}
	return edge, nil
}

func (s *PostgresStore) BulkAddTrusted(ctx context.Context, authorDID string, recipientDIDs []string, quota int) ([]string, error) {
	if len(recipientDIDs) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("trustgraph: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT recipient_did FROM trust_edges
		WHERE author_did = $1 AND recipient_did = ANY($2) AND deleted_at IS NULL
		FOR UPDATE`, authorDID, recipientDIDs)
	if err != nil {
		return nil, fmt.Errorf("trustgraph: lock existing edges: %w", err)
	}
	existing := map[string]struct{}{}
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			rows.Close()
			return nil, fmt.Errorf("trustgraph: scan existing recipient: %w", err)
		}
		existing[did] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var novel []string
	for _, did := range recipientDIDs {
		if _, ok := existing[did]; !ok {
			novel = append(novel, did)
		}
	}
	if len(novel) == 0 {
		return nil, nil
	}

	count, err := s.countRecentEdgesTx(ctx, tx, authorDID)
	if err != nil {
		return nil, err
	}
	if count+len(novel) > quota {
		return nil, errs.New(errs.KindRateLimit, "daily trust-add quota exceeded").WithCode("quota-exceeded")
	}

	batch := &pgx.Batch{}
	for _, did := range novel {
		batch.Queue(`INSERT INTO trust_edges (author_did, recipient_did, created_at, deleted_at)
			VALUES ($1, $2, now(), NULL)`, authorDID, did)
	}
	br := tx.SendBatch(ctx, batch)
	for range novel {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("trustgraph: bulk insert edge: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("trustgraph: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("trustgraph: commit bulk add: %w", err)
	}
	return novel, nil
}

func (s *PostgresStore) RemoveTrusted(ctx context.Context, authorDID, recipientDID string) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE trust_edges SET deleted_at = now()
		WHERE author_did = $1 AND recipient_did = $2 AND deleted_at IS NULL`, authorDID, recipientDID)
	if err != nil {
		return fmt.Errorf("trustgraph: remove trusted: %w", err)
	}
	if res.RowsAffected() == 0 {
		return errs.New(errs.KindNotFound, "no active trust edge for recipient")
	}
	return nil
}

func (s *PostgresStore) BulkRemoveTrusted(ctx context.Context, authorDID string, recipientDIDs []string) ([]string, error) {
	if len(recipientDIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE trust_edges SET deleted_at = now()
		WHERE author_did = $1 AND recipient_did = ANY($2) AND deleted_at IS NULL
		RETURNING recipient_did`, authorDID, recipientDIDs)
	if err != nil {
		return nil, fmt.Errorf("trustgraph: bulk remove trusted: %w", err)
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("trustgraph: scan removed recipient: %w", err)
		}
		removed = append(removed, did)
	}
	return removed, rows.Err()
}
