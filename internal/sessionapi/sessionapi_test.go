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

package sessionapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/keystore"
	"github.com/spkeasy-social/control-plane/internal/propagation"
	"github.com/spkeasy-social/control-plane/internal/recryption"
	"github.com/spkeasy-social/control-plane/internal/sessionstore"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
)

// fakeTrust holds one boolean per (author, recipient) pair; absent means
// not trusted.
type fakeTrust struct {
	mu      sync.Mutex
	trusted map[[2]string]bool
}

func newFakeTrust() *fakeTrust { return &fakeTrust{trusted: map[[2]string]bool{}} }

func (f *fakeTrust) set(author, recipient string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trusted[[2]string{author, recipient}] = v
}

func (f *fakeTrust) IsTrusted(ctx context.Context, authorDID, recipientDID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trusted[[2]string{authorDID, recipientDID}], nil
}

// fakeKeys holds real ML-KEM keypairs per DID so recryption round-trips
// for real in these tests, the same way internal/propagation's own tests do.
type fakeKeys struct {
	mu   sync.Mutex
	pub  map[string]propagation.PublicKeyRecord
	priv map[uuid.UUID]propagation.PrivateKeyRecord
	own  map[uuid.UUID]string
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{pub: map[string]propagation.PublicKeyRecord{}, priv: map[uuid.UUID]propagation.PrivateKeyRecord{}, own: map[uuid.UUID]string{}}
}

func (f *fakeKeys) addIdentity(t *testing.T, did string) uuid.UUID {
	t.Helper()
	pubBytes, privBytes, err := recryption.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	id := uuid.New()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pub[did] = propagation.PublicKeyRecord{ID: id, PublicKey: pubBytes}
	f.priv[id] = propagation.PrivateKeyRecord{ID: id, PrivateKey: privBytes}
	f.own[id] = did
	return id
}

func (f *fakeKeys) GetPrivateKeys(ctx context.Context, authorDID string, keyPairIDs []uuid.UUID) ([]propagation.PrivateKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []propagation.PrivateKeyRecord
	for _, id := range keyPairIDs {
		if f.own[id] != authorDID {
			continue
		}
		out = append(out, f.priv[id])
	}
	return out, nil
}

func (f *fakeKeys) GetPublicKey(ctx context.Context, did string) (propagation.PublicKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pub[did], nil
}

// fakeQueue records every Publish call for assertions.
type fakeQueue struct {
	mu        sync.Mutex
	published []published
}

type published struct {
	name    string
	payload jobqueue.Payload
}

func (q *fakeQueue) Publish(ctx context.Context, name string, payload jobqueue.Payload, opts jobqueue.Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{name: name, payload: payload})
	return nil
}

func (q *fakeQueue) BulkPublish(ctx context.Context, name string, payloads []jobqueue.Payload, opts jobqueue.Options) error {
	for _, p := range payloads {
		if err := q.Publish(ctx, name, p, opts); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Work(ctx context.Context, name string, concurrency int, handler jobqueue.Handler) error {
	return nil
}

func (q *fakeQueue) Sweep(ctx context.Context) error { return nil }

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, p := range q.published {
		out = append(out, p.name)
	}
	return out
}

func setup(t *testing.T) (*Handlers, *sessionstore.Fake, *fakeTrust, *fakeKeys, *fakeQueue) {
	t.Helper()
	store := sessionstore.NewFake(sessionstore.DefaultConfig(sessionstore.KindPrivateSessions))
	trust := newFakeTrust()
	keys := newFakeKeys()
	queue := &fakeQueue{}
	prop := propagation.NewHandlers(store, trust, keys, queue, "private-sessions.update-session-keys", logr.Discard())
	cfg := Config{ServiceName: "private-sessions", SessionTTL: 30 * 24 * time.Hour}
	h := NewHandlers(cfg, store, trust, keys, queue, prop, logr.Discard())
	return h, store, trust, keys, queue
}

func userPrincipal(did string) identity.Principal {
	return identity.Principal{Kind: identity.KindUser, DID: did}
}

func createRequestBody(t *testing.T, authorDID string, keys *fakeKeys, recipientDIDs []string) []byte {
	t.Helper()
	dek := []byte("session-dek-0123456789abcdef01")
	env, err := recryption.EncryptDEK(dek, keys.pub[authorDID].PublicKey)
	if err != nil {
		t.Fatalf("EncryptDEK() error = %v", err)
	}
	body, _ := json.Marshal(createRequest{
		AuthorDID:     authorDID,
		RecipientDIDs: recipientDIDs,
		EncryptedDEK:  base64.StdEncoding.EncodeToString(env),
	})
	return body
}

func TestCreate_RequiresSelf(t *testing.T) {
	h, _, _, keys, _ := setup(t)
	keys.addIdentity(t, "did:plc:alice")
	req := createRequestBody(t, "did:plc:alice", keys, nil)

	if _, err := h.Create(context.Background(), userPrincipal("did:plc:mallory"), req); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCreate_EncryptsForTrustedRecipientsOnly(t *testing.T) {
	h, store, trust, keys, _ := setup(t)
	keys.addIdentity(t, "did:plc:alice")
	keys.addIdentity(t, "did:plc:bob")
	keys.addIdentity(t, "did:plc:mallory")
	trust.set("did:plc:alice", "did:plc:bob", true)

	req := createRequestBody(t, "did:plc:alice", keys, []string{"did:plc:bob", "did:plc:mallory"})

	resp, err := h.Create(context.Background(), userPrincipal("did:plc:alice"), req)
	if err == nil {
		t.Fatalf("expected an error since mallory is untrusted, got response %+v", resp)
	}
	if !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error for untrusted recipient, got %v", err)
	}

	trust.set("did:plc:alice", "did:plc:mallory", true)
	resp, err = h.Create(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	out := resp.(createResponse)
	sessID, err := uuid.Parse(out.SessionID)
	if err != nil {
		t.Fatalf("sessionId not a uuid: %v", err)
	}

	for _, did := range []string{"did:plc:alice", "did:plc:bob", "did:plc:mallory"} {
		has, err := store.HasRecipientKey(context.Background(), sessID, did)
		if err != nil {
			t.Fatalf("HasRecipientKey(%q): %v", did, err)
		}
		if !has {
			t.Errorf("expected %q to have a recipient key in the new session", did)
		}
	}
}

func TestAddUser_RequiresSelfAndDelegatesToPropagation(t *testing.T) {
	h, store, trust, keys, _ := setup(t)
	aliceKP := keys.addIdentity(t, "did:plc:alice")
	keys.addIdentity(t, "did:plc:bob")

	dek := []byte("session-dek-0123456789abcdef01")
	env, err := recryption.EncryptDEK(dek, keys.pub["did:plc:alice"].PublicKey)
	if err != nil {
		t.Fatalf("EncryptDEK: %v", err)
	}
	sess, err := store.CreateSession(context.Background(), "did:plc:alice", time.Now().Add(24*time.Hour), []sessionstore.RecipientKey{
		{RecipientDID: "did:plc:alice", EncryptedDEK: env, UserKeyPairID: aliceKP},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req, _ := json.Marshal(addUserRequest{AuthorDID: "did:plc:alice", RecipientDID: "did:plc:bob"})

	if _, err := h.AddUser(context.Background(), userPrincipal("did:plc:mallory"), req); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	trust.set("did:plc:alice", "did:plc:bob", true)
	if _, err := h.AddUser(context.Background(), userPrincipal("did:plc:alice"), req); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	has, err := store.HasRecipientKey(context.Background(), sess.ID, "did:plc:bob")
	if err != nil {
		t.Fatalf("HasRecipientKey: %v", err)
	}
	if !has {
		t.Fatal("expected bob to have been synchronously added to alice's session")
	}
}

func TestRevoke_RequiresSelfAndReturnsCount(t *testing.T) {
	h, store, _, keys, _ := setup(t)
	aliceKP := keys.addIdentity(t, "did:plc:alice")
	dek := []byte("session-dek-0123456789abcdef01")
	env, err := recryption.EncryptDEK(dek, keys.pub["did:plc:alice"].PublicKey)
	if err != nil {
		t.Fatalf("EncryptDEK: %v", err)
	}
	if _, err := store.CreateSession(context.Background(), "did:plc:alice", time.Now().Add(24*time.Hour), []sessionstore.RecipientKey{
		{RecipientDID: "did:plc:alice", EncryptedDEK: env, UserKeyPairID: aliceKP},
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req, _ := json.Marshal(revokeRequest{AuthorDID: "did:plc:alice"})

	if _, err := h.Revoke(context.Background(), userPrincipal("did:plc:mallory"), req); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	resp, err := h.Revoke(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if out := resp.(revokeResponse); out.RevokedCount != 1 {
		t.Fatalf("revokedCount = %d, want 1", out.RevokedCount)
	}
}

func TestUpdateKeys_EnqueuesRoutedJob(t *testing.T) {
	h, _, _, _, queue := setup(t)
	req, _ := json.Marshal(updateKeysRequest{
		AuthorDID:      "did:plc:alice",
		PrevKeyID:      uuid.New().String(),
		NewKeyID:       uuid.New().String(),
		PrevPrivateKey: base64.StdEncoding.EncodeToString([]byte("prev")),
		NewPublicKey:   base64.StdEncoding.EncodeToString([]byte("next")),
	})

	if _, err := h.UpdateKeys(context.Background(), identity.Principal{Kind: identity.KindService, ServiceName: "user-keys"}, req); err != nil {
		t.Fatalf("UpdateKeys: %v", err)
	}

	want := trustgraph.RoutedJobName("private-sessions", keystore.JobUpdateSessionKeys)
	names := queue.names()
	if len(names) != 1 || names[0] != want {
		t.Fatalf("published jobs = %v, want [%s]", names, want)
	}
}
