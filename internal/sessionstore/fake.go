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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spkeasy-social/control-plane/internal/errs"
)

// Fake is an in-memory Store used by sessionstore and propagation tests.
type Fake struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[uuid.UUID]Session
	keys     map[uuid.UUID][]SessionKey // by session id
	Now      func() time.Time
}

var _ Store = (*Fake)(nil)

func NewFake(cfg Config) *Fake {
	return &Fake{
		cfg:      cfg,
		sessions: make(map[uuid.UUID]Session),
		keys:     make(map[uuid.UUID][]SessionKey),
		Now:      time.Now,
	}
}

func (f *Fake) CreateSession(ctx context.Context, authorDID string, expiresAt time.Time, recipients []RecipientKey) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hasAuthor := false
	for _, r := range recipients {
		if r.RecipientDID == authorDID {
			hasAuthor = true
			break
		}
	}
	if !hasAuthor {
		return Session{}, errs.New(errs.KindValidation, "recipients must include the author's own key")
	}

	sess := Session{ID: uuid.New(), AuthorDID: authorDID, CreatedAt: f.Now(), ExpiresAt: expiresAt}
	f.sessions[sess.ID] = sess
	for _, r := range recipients {
		f.keys[sess.ID] = append(f.keys[sess.ID], SessionKey{SessionID: sess.ID, RecipientKey: r})
	}
	return sess, nil
}

func (f *Fake) RevokeAllActive(ctx context.Context, authorDID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.Now()
	var revoked int64
	for id, sess := range f.sessions {
		if sess.AuthorDID != authorDID || !sess.Active() {
			continue
		}
		sess.RevokedAt = &now
		f.sessions[id] = sess
		revoked++
	}
	return revoked, nil
}

func (f *Fake) AddRecipientToSession(ctx context.Context, sessionID uuid.UUID, key RecipientKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sk := range f.keys[sessionID] {
		if sk.RecipientDID == key.RecipientDID {
			return nil
		}
	}
	f.keys[sessionID] = append(f.keys[sessionID], SessionKey{SessionID: sessionID, RecipientKey: key})
	return nil
}

func (f *Fake) DeleteKeys(ctx context.Context, authorDID, recipientDID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sess := range f.sessions {
		if sess.AuthorDID != authorDID {
			continue
		}
		var kept []SessionKey
		for _, sk := range f.keys[id] {
			if sk.RecipientDID != recipientDID {
				kept = append(kept, sk)
			}
		}
		f.keys[id] = kept
	}
	return nil
}

func (f *Fake) ListCandidateSessions(ctx context.Context, authorDID string) ([]CandidateSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	since := f.Now().Add(-f.cfg.LookbackWindow)
	var out []CandidateSession
	for id, sess := range f.sessions {
		if sess.AuthorDID != authorDID || sess.CreatedAt.Before(since) {
			continue
		}
		if sess.RevokedAt != nil || !sess.ExpiresAt.After(f.Now()) {
			continue
		}
		for _, sk := range f.keys[id] {
			if sk.RecipientDID == authorDID {
				out = append(out, CandidateSession{Session: sess, AuthorKey: sk.RecipientKey})
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) HasRecipientKey(ctx context.Context, sessionID uuid.UUID, recipientDID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sk := range f.keys[sessionID] {
		if sk.RecipientDID == recipientDID {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) ScanByKeyPair(ctx context.Context, userKeyPairID uuid.UUID, batch int) ([]SessionKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []SessionKey
	for _, sks := range f.keys {
		for _, sk := range sks {
			if sk.UserKeyPairID == userKeyPairID {
				out = append(out, sk)
				if len(out) >= batch {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (f *Fake) UpdateKeyPairReference(ctx context.Context, sessionID uuid.UUID, recipientDID string, newEncryptedDEK []byte, newUserKeyPairID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, sk := range f.keys[sessionID] {
		if sk.RecipientDID == recipientDID {
			f.keys[sessionID][i].EncryptedDEK = newEncryptedDEK
			f.keys[sessionID][i].UserKeyPairID = newUserKeyPairID
			return nil
		}
	}
	return errs.New(errs.KindNotFound, "session key not found")
}
