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

package keyapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/keystore"
)

// noopQueue discards every Publish; keyapi's handlers only exercise
// keystore.Service's read/write paths, not the job fan-out itself (that's
// covered by internal/keystore's own service tests).
type noopQueue struct{}

func (noopQueue) Publish(context.Context, string, jobqueue.Payload, jobqueue.Options) error {
	return nil
}

func (noopQueue) BulkPublish(context.Context, string, []jobqueue.Payload, jobqueue.Options) error {
	return nil
}

func (noopQueue) Work(context.Context, string, int, jobqueue.Handler) error { return nil }

func (noopQueue) Sweep(context.Context) error { return nil }

func (noopQueue) Close() error { return nil }

var fixedClock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newHandlers(t *testing.T) (*Handlers, *keystore.Service, *keystore.Fake) {
	t.Helper()
	store := keystore.NewFake()
	store.Now = func() time.Time { return fixedClock }
	svc := keystore.NewService(store, noopQueue{}, logr.Discard(), []string{"private-sessions"})
	return NewHandlers(svc, logr.Discard()), svc, store
}

func userPrincipal(did string) identity.Principal {
	return identity.Principal{Kind: identity.KindUser, DID: did}
}

func servicePrincipal(name string) identity.Principal {
	return identity.Principal{Kind: identity.KindService, ServiceName: name}
}

func TestGetPublicKey_CreatesOnFirstCall(t *testing.T) {
	h, _, _ := newHandlers(t)
	req, _ := json.Marshal(map[string]string{"did": "did:plc:alice"})

	resp, err := h.GetPublicKey(context.Background(), userPrincipal("anyone"), req)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	out := resp.(publicKeyResponse)
	if out.ID == "" || out.PublicKey == "" {
		t.Fatalf("expected populated response, got %+v", out)
	}
}

func TestGetPublicKeys_OmitsMissingAuthors(t *testing.T) {
	h, svc, _ := newHandlers(t)
	if _, err := svc.GetOrCreatePublicKey(context.Background(), "did:plc:alice"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	req, _ := json.Marshal(map[string][]string{"dids": {"did:plc:alice", "did:plc:nobody"}})

	resp, err := h.GetPublicKeys(context.Background(), servicePrincipal("trusted-users"), req)
	if err != nil {
		t.Fatalf("GetPublicKeys: %v", err)
	}
	out := resp.(getPublicKeysResponse)
	if len(out.Keys) != 1 || out.Keys[0].DID != "did:plc:alice" {
		t.Fatalf("expected only alice's key, got %+v", out.Keys)
	}
}

func TestGetPrivateKey_RequiresSelf(t *testing.T) {
	h, svc, _ := newHandlers(t)
	kp, err := svc.GetOrCreatePublicKey(context.Background(), "did:plc:alice")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	req, _ := json.Marshal(map[string]string{"did": "did:plc:alice", "keyId": kp.ID.String()})

	if _, err := h.GetPrivateKey(context.Background(), userPrincipal("did:plc:mallory"), req); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error for mismatched caller, got %v", err)
	}

	resp, err := h.GetPrivateKey(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("GetPrivateKey as owner: %v", err)
	}
	out := resp.(privateKeyResponse)
	wantPriv := base64.StdEncoding.EncodeToString(kp.PrivateKey)
	if out.PrivateKey != wantPriv {
		t.Fatalf("private key = %q, want %q", out.PrivateKey, wantPriv)
	}
}

func TestGetPrivateKeys_PluralIgnoresPrincipalButNeedsServiceOnlyAtTheServerLayer(t *testing.T) {
	h, svc, _ := newHandlers(t)
	kp, err := svc.GetOrCreatePublicKey(context.Background(), "did:plc:alice")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	req, _ := json.Marshal(map[string]any{"did": "did:plc:alice", "keyIds": []string{kp.ID.String()}})

	// GetPrivateKeys itself performs no principal check; api.Server's
	// serviceOnly=true registration is what restricts this method.
	resp, err := h.GetPrivateKeys(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("GetPrivateKeys: %v", err)
	}
	out := resp.(getPrivateKeysResponse)
	if len(out.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(out.Keys))
	}
}

func TestRotate_RequiresSelfAndReturnsBothKeyIDs(t *testing.T) {
	h, svc, store := newHandlers(t)
	prev, err := svc.GetOrCreatePublicKey(context.Background(), "did:plc:alice")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.Now = func() time.Time { return fixedClock.Add(keystore.MinRotationAge + time.Second) }

	body := map[string]string{
		"authorDid":     "did:plc:alice",
		"newPublicKey":  base64.StdEncoding.EncodeToString([]byte("new-pub")),
		"newPrivateKey": base64.StdEncoding.EncodeToString([]byte("new-priv")),
	}
	req, _ := json.Marshal(body)

	if _, err := h.Rotate(context.Background(), userPrincipal("did:plc:mallory"), req); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	resp, err := h.Rotate(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	out := resp.(rotateResponse)
	if out.PreviousKeyID != prev.ID.String() {
		t.Fatalf("previousKeyId = %q, want %q", out.PreviousKeyID, prev.ID.String())
	}
	if out.CurrentKeyID == "" || out.CurrentKeyID == out.PreviousKeyID {
		t.Fatalf("expected a new currentKeyId, got %q", out.CurrentKeyID)
	}
}
