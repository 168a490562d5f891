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

// Package trustgraph is the source of truth for which recipients an
// author trusts: append-only edges with tombstones, a daily add quota,
// and bulk operations whose propagation jobs are delayed so the user can
// undo before they run.
package trustgraph

import (
	"context"
	"time"
)

// DefaultDailyQuota is the default per-author limit on trust edges
// created within a 24-hour window.
const DefaultDailyQuota = 10

// DefaultBulkDelay delays propagation jobs from bulk operations so a
// user can undo before the fan-out runs.
const DefaultBulkDelay = 2 * time.Minute

// TrustEdge is a single author-trusts-recipient relationship.
type TrustEdge struct {
	AuthorDID    string
	RecipientDID string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// Active reports whether the edge has not been removed.
func (e TrustEdge) Active() bool { return e.DeletedAt == nil }

// Store is the persistence contract for C2. It is pure data access: quota
// enforcement and edge creation happen inside one database transaction,
// but enqueuing propagation jobs is the caller's (Service's) job, since a
// Redis-backed queue cannot join a Postgres transaction. A publish that
// fails after the commit is logged by Service and not retried; the
// committed edge then has no propagation job, and nothing re-publishes it.
type Store interface {
	// ListTrusted returns active edges for author, optionally filtered to
	// a single recipient (empty string means "all recipients").
	ListTrusted(ctx context.Context, authorDID string, recipientDID string) ([]TrustEdge, error)

	// AddTrusted creates a new edge, enforcing both the active-edge
	// uniqueness invariant and the daily quota within one transaction.
	AddTrusted(ctx context.Context, authorDID, recipientDID string, quota int) (TrustEdge, error)

	// BulkAddTrusted adds edges for every recipient not already actively
	// trusted, enforcing the same quota across the whole batch
	// atomically, and returns only the newly created recipient DIDs.
	BulkAddTrusted(ctx context.Context, authorDID string, recipientDIDs []string, quota int) (added []string, err error)

	// RemoveTrusted tombstones the active edge for (authorDID,
	// recipientDID). Returns a NotFoundError if no active edge exists.
	RemoveTrusted(ctx context.Context, authorDID, recipientDID string) error

	// BulkRemoveTrusted tombstones active edges for every recipient in
	// recipientDIDs that currently has one, and returns the ones actually
	// removed.
	BulkRemoveTrusted(ctx context.Context, authorDID string, recipientDIDs []string) (removed []string, err error)
}
