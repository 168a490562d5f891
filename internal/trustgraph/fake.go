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
	"sync"
	"time"

	"github.com/spkeasy-social/control-plane/internal/errs"
)

// Fake is an in-memory Store used by package-level tests across
// trustgraph and propagation without a live database.
type Fake struct {
	mu    sync.Mutex
	edges map[string][]TrustEdge // keyed by authorDID
	Now   func() time.Time
}

var _ Store = (*Fake)(nil)

// NewFake returns an empty Fake store.
func NewFake() *Fake {
	return &Fake{edges: make(map[string][]TrustEdge), Now: time.Now}
}

func (f *Fake) ListTrusted(ctx context.Context, authorDID, recipientDID string) ([]TrustEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []TrustEdge
	for _, e := range f.edges[authorDID] {
		if !e.Active() {
			continue
		}
		if recipientDID != "" && e.RecipientDID != recipientDID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *Fake) countRecentLocked(authorDID string) int {
	cutoff := f.Now().Add(-24 * time.Hour)
	count := 0
	for _, e := range f.edges[authorDID] {
		if e.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count
}

func (f *Fake) AddTrusted(ctx context.Context, authorDID, recipientDID string, quota int) (TrustEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.edges[authorDID] {
		if e.RecipientDID == recipientDID && e.Active() {
			return TrustEdge{}, errs.New(errs.KindConflict, "recipient is already trusted").WithCode("already-trusted")
		}
	}
	if f.countRecentLocked(authorDID) >= quota {
		return TrustEdge{}, errs.New(errs.KindRateLimit, "daily trust-add quota exceeded").WithCode("quota-exceeded")
	}

	edge := TrustEdge{AuthorDID: authorDID, RecipientDID: recipientDID, CreatedAt: f.Now()}
	f.edges[authorDID] = append(f.edges[authorDID], edge)
	return edge, nil
}

func (f *Fake) BulkAddTrusted(ctx context.Context, authorDID string, recipientDIDs []string, quota int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := map[string]struct{}{}
	for _, e := range f.edges[authorDID] {
		if e.Active() {
			active[e.RecipientDID] = struct{}{}
		}
	}

	var novel []string
	for _, did := range recipientDIDs {
		if _, ok := active[did]; !ok {
			novel = append(novel, did)
		}
	}
	if len(novel) == 0 {
		return nil, nil
	}
	if f.countRecentLocked(authorDID)+len(novel) > quota {
		return nil, errs.New(errs.KindRateLimit, "daily trust-add quota exceeded").WithCode("quota-exceeded")
	}

	now := f.Now()
	for _, did := range novel {
		f.edges[authorDID] = append(f.edges[authorDID], TrustEdge{AuthorDID: authorDID, RecipientDID: did, CreatedAt: now})
	}
	return novel, nil
}

func (f *Fake) RemoveTrusted(ctx context.Context, authorDID, recipientDID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, e := range f.edges[authorDID] {
		if e.RecipientDID == recipientDID && e.Active() {
			deletedAt := f.Now()
			f.edges[authorDID][i].DeletedAt = &deletedAt
			return nil
		}
	}
	return errs.New(errs.KindNotFound, "no active trust edge for recipient")
}

func (f *Fake) BulkRemoveTrusted(ctx context.Context, authorDID string, recipientDIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := map[string]struct{}{}
	for _, did := range recipientDIDs {
		want[did] = struct{}{}
	}

	var removed []string
	now := f.Now()
	for i, e := range f.edges[authorDID] {
		if _, ok := want[e.RecipientDID]; ok && e.Active() {
			f.edges[authorDID][i].DeletedAt = &now
			removed = append(removed, e.RecipientDID)
		}
	}
	return removed, nil
}
