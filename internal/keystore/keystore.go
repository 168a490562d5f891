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

// Package keystore holds each author's long-lived ML-KEM-768 key pair:
// get-or-create, batch public-key lookup, ownership-checked private-key
// lookup, and grace-windowed rotation.
package keystore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserKeyPair is a single author's ML-KEM-768 key pair.
type UserKeyPair struct {
	ID         uuid.UUID
	AuthorDID  string
	PublicKey  []byte
	PrivateKey []byte
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// Current reports whether this key pair is the author's active one.
func (k UserKeyPair) Current() bool { return k.DeletedAt == nil }

// Store is the persistence contract for C1. Implementations must enforce
// "at most one current key pair per author" with a unique partial index
// or equivalent, not merely in application code, since get-or-create must
// be safe under concurrent first-callers.
type Store interface {
	// GetOrCreatePublicKey returns the author's current key pair, creating
	// one if none exists. Concurrent callers racing on the same author
	// must observe the same resulting key pair id.
	GetOrCreatePublicKey(ctx context.Context, authorDID string) (UserKeyPair, error)

	// GetPublicKeys returns the current key pair for each of dids that has
	// one. Authors with no current key pair are simply absent from the
	// result, not an error.
	GetPublicKeys(ctx context.Context, dids []string) ([]UserKeyPair, error)

	// GetPrivateKeys returns the key pairs identified by ids; ids with no
	// key pair are simply absent. Implementations assert the result's
	// distinct owning DIDs has cardinality <= 1 and equals did, and fail
	// with a KindInternal error otherwise rather than filtering out the
	// foreign keys.
	GetPrivateKeys(ctx context.Context, did string, ids []uuid.UUID) ([]UserKeyPair, error)

	// Rotate tombstones the author's current key pair and inserts a new
	// one, serialized per author. Returns the tombstoned (previous) and
	// newly created key pairs.
	Rotate(ctx context.Context, authorDID string, newPublicKey, newPrivateKey []byte) (previous, current UserKeyPair, err error)
}
