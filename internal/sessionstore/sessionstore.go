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

// Package sessionstore is the one engine behind both session-owning
// services. private-sessions and private-profiles differ only in their
// candidate-session lookback window (both use the same table names, each in
// its own database), so rather than two
// classes sharing a base class (as the source does it) this is a single
// package instantiated twice with a different Config, the way the
// teacher's providers package is instantiated per backend.
package sessionstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names which of the two session-owning services a Config belongs
// to. It changes nothing about the algorithms in this package, only the
// default lookback window DefaultConfig picks; nothing reads Config.Kind
// after that.
type Kind string

const (
	KindPrivateSessions Kind = "private-sessions"
	KindPrivateProfiles Kind = "private-profiles"
)

// Config parameterizes one instance of the engine.
type Config struct {
	Kind Kind
	// LookbackWindow bounds how far back ListCandidateSessions searches
	// for sessions to re-key on trust changes. private-sessions uses 30
	// days; private-profiles uses 365 days. Nothing limits an author to
	// one active session.
	LookbackWindow time.Duration
}

// DefaultConfig returns the lookback window spec.md prescribes for kind.
func DefaultConfig(kind Kind) Config {
	switch kind {
	case KindPrivateProfiles:
		return Config{Kind: kind, LookbackWindow: 365 * 24 * time.Hour}
	default:
		return Config{Kind: KindPrivateSessions, LookbackWindow: 30 * 24 * time.Hour}
	}
}

// Session is a per-author content session. Two independent Session
// tables exist at runtime, one per Kind, never joined.
type Session struct {
	ID        uuid.UUID
	AuthorDID string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether s can still be read or re-keyed.
func (s Session) Active() bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(time.Now())
}

// RecipientKey is one recipient's encrypted copy of a Session's DEK,
// scoped to the keypair whose public key produced the current ciphertext.
type RecipientKey struct {
	RecipientDID  string
	EncryptedDEK  []byte
	UserKeyPairID uuid.UUID
}

// SessionKey is a RecipientKey materialized as its own row, carrying its
// parent session id.
type SessionKey struct {
	SessionID uuid.UUID
	RecipientKey
}

// Store is the persistence contract for one Kind's Session/SessionKey
// tables.
type Store interface {
	// CreateSession atomically inserts a new Session and one SessionKey
	// per recipient. recipients must include a row for authorDID itself;
	// callers that omit it get an errs.KindValidation error.
	CreateSession(ctx context.Context, authorDID string, expiresAt time.Time, recipients []RecipientKey) (Session, error)

	// RevokeAllActive marks every active session of authorDID revoked and
	// reports how many rows were affected. Idempotent: already-revoked
	// sessions are left untouched and not counted.
	RevokeAllActive(ctx context.Context, authorDID string) (revoked int64, err error)

	// AddRecipientToSession inserts one SessionKey if absent; a repeat
	// call for the same (sessionID, recipientDID) is a no-op, not an
	// error.
	AddRecipientToSession(ctx context.Context, sessionID uuid.UUID, key RecipientKey) error

	// DeleteKeys removes every SessionKey where the parent session's
	// author is authorDID and the recipient is recipientDID.
	DeleteKeys(ctx context.Context, authorDID, recipientDID string) error

	// ListCandidateSessions returns authorDID's sessions created within
	// the configured lookback window that have an author-addressed
	// SessionKey, together with that author row, for propagation to use
	// as the re-keying source.
	ListCandidateSessions(ctx context.Context, authorDID string) ([]CandidateSession, error)

	// HasRecipientKey reports whether sessionID already has a
	// SessionKey for recipientDID.
	HasRecipientKey(ctx context.Context, sessionID uuid.UUID, recipientDID string) (bool, error)

	// ScanByKeyPair returns up to batch SessionKey rows referencing
	// userKeyPairID, for rotation to migrate in batches. Callers loop
	// until the returned slice is empty.
	ScanByKeyPair(ctx context.Context, userKeyPairID uuid.UUID, batch int) ([]SessionKey, error)

	// UpdateKeyPairReference atomically replaces encryptedDEK and
	// userKeyPairID on one SessionKey row, used by rotation migration.
	UpdateKeyPairReference(ctx context.Context, sessionID uuid.UUID, recipientDID string, newEncryptedDEK []byte, newUserKeyPairID uuid.UUID) error
}

// CandidateSession pairs a Session with the author's own SessionKey,
// which is the source ciphertext propagation recrypts from.
type CandidateSession struct {
	Session   Session
	AuthorKey RecipientKey
}
