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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spkeasy-social/control-plane/internal/errs"
)

// Fake is an in-memory Store enforcing the same invariants as
// PostgresStore, used by the keystore and keyapi package tests without a
// live database.
type Fake struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]UserKeyPair
	byAuthor map[string]uuid.UUID // current key pair id per author
	Now      func() time.Time
}

var _ Store = (*Fake)(nil)

// NewFake returns an empty Fake store.
func NewFake() *Fake {
	return &Fake{
		byID:     make(map[uuid.UUID]UserKeyPair),
		byAuthor: make(map[string]uuid.UUID),
		Now:      time.Now,
	}
}

func (f *Fake) GetOrCreatePublicKey(ctx context.Context, authorDID string) (UserKeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.byAuthor[authorDID]; ok {
		return f.byID[id], nil
	}

	pub, priv, err := generateKeyPairFn()
	if err != nil {
		return UserKeyPair{}, err
	}
	k := UserKeyPair{
		ID:        uuid.New(),
		AuthorDID: authorDID,
		PublicKey: pub,
		PrivateKey: priv,
		CreatedAt: f.Now(),
	}
	f.byID[k.ID] = k
	f.byAuthor[authorDID] = k.ID
	return k, nil
}

func (f *Fake) GetPublicKeys(ctx context.Context, dids []string) ([]UserKeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []UserKeyPair
	for _, did := range dids {
		if id, ok := f.byAuthor[did]; ok {
			out = append(out, f.byID[id])
		}
	}
	return out, nil
}

func (f *Fake) GetPrivateKeys(ctx context.Context, did string, ids []uuid.UUID) ([]UserKeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []UserKeyPair
	owners := map[string]struct{}{}
	for _, id := range ids {
		k, ok := f.byID[id]
		if !ok {
			continue
		}
		owners[k.AuthorDID] = struct{}{}
		out = append(out, k)
	}
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

func (f *Fake) Rotate(ctx context.Context, authorDID string, newPublicKey, newPrivateKey []byte) (previous, current UserKeyPair, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byAuthor[authorDID]
	if !ok {
		return UserKeyPair{}, UserKeyPair{}, errs.Newf(errs.KindNotFound, "no current key pair for %q", authorDID)
	}
	prev := f.byID[id]
	if f.Now().Sub(prev.CreatedAt) < MinRotationAge {
		return UserKeyPair{}, UserKeyPair{}, errs.New(errs.KindConflict, "current key pair is too recent to rotate").WithCode("too-recent")
	}

	deletedAt := f.Now()
	prev.DeletedAt = &deletedAt
	f.byID[prev.ID] = prev

	next := UserKeyPair{
		ID:        uuid.New(),
		AuthorDID: authorDID,
		PublicKey: newPublicKey,
		PrivateKey: newPrivateKey,
		CreatedAt: f.Now(),
	}
	f.byID[next.ID] = next
	f.byAuthor[authorDID] = next.ID

	return prev, next, nil
}
