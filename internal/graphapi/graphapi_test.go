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

package graphapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
)

// noopQueue discards every Publish; graphapi's handlers only exercise
// trustgraph.Service's read/write paths, not the job fan-out itself
// (that's covered by internal/trustgraph's own service tests).
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

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	store := trustgraph.NewFake()
	svc := trustgraph.NewService(store, noopQueue{}, logr.Discard(), trustgraph.DefaultDailyQuota, trustgraph.DefaultBulkDelay, []string{"private-sessions"})
	return NewHandlers(svc, logr.Discard())
}

func userPrincipal(did string) identity.Principal {
	return identity.Principal{Kind: identity.KindUser, DID: did}
}

func servicePrincipal(name string) identity.Principal {
	return identity.Principal{Kind: identity.KindService, ServiceName: name}
}

func TestAddTrusted_RequiresSelf(t *testing.T) {
	h := newHandlers(t)
	req, _ := json.Marshal(map[string]string{"authorDid": "did:plc:alice", "recipientDid": "did:plc:bob"})

	if _, err := h.AddTrusted(context.Background(), userPrincipal("did:plc:mallory"), req); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	resp, err := h.AddTrusted(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("AddTrusted: %v", err)
	}
	out := resp.(addTrustedResponse)
	if out.RecipientDID != "did:plc:bob" {
		t.Fatalf("recipientDid = %q, want did:plc:bob", out.RecipientDID)
	}
	if _, err := time.Parse(timeLayout, out.CreatedAt); err != nil {
		t.Fatalf("createdAt not parseable: %v", err)
	}
}

func TestGetTrusted_ServicePrincipalMayQueryAnyAuthor(t *testing.T) {
	h := newHandlers(t)
	addReq, _ := json.Marshal(map[string]string{"authorDid": "did:plc:alice", "recipientDid": "did:plc:bob"})
	if _, err := h.AddTrusted(context.Background(), userPrincipal("did:plc:alice"), addReq); err != nil {
		t.Fatalf("seed: %v", err)
	}

	getReq, _ := json.Marshal(map[string]string{"authorDid": "did:plc:alice", "recipientDid": "did:plc:bob"})

	// A user principal for a different DID is rejected.
	if _, err := h.GetTrusted(context.Background(), userPrincipal("did:plc:mallory"), getReq); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error for mismatched user, got %v", err)
	}

	// A service principal may look up trust on alice's behalf (propagation's
	// re-verification step before a destructive fan-out).
	resp, err := h.GetTrusted(context.Background(), servicePrincipal("private-sessions"), getReq)
	if err != nil {
		t.Fatalf("GetTrusted as service: %v", err)
	}
	out := resp.(getTrustedResponse)
	if len(out.Edges) != 1 || out.Edges[0].RecipientDID != "did:plc:bob" {
		t.Fatalf("expected one edge to bob, got %+v", out.Edges)
	}
}

func TestBulkAddTrusted_DefaultsEmptyResultToEmptySlice(t *testing.T) {
	h := newHandlers(t)
	req, _ := json.Marshal(map[string]any{"authorDid": "did:plc:alice", "recipientDids": []string{}})

	resp, err := h.BulkAddTrusted(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("BulkAddTrusted: %v", err)
	}
	out := resp.(bulkAddTrustedResponse)
	if out.Added == nil {
		t.Fatal("expected a non-nil empty slice, got nil")
	}
	if len(out.Added) != 0 {
		t.Fatalf("expected no additions, got %v", out.Added)
	}
}

func TestRemoveTrusted_RequiresSelf(t *testing.T) {
	h := newHandlers(t)
	addReq, _ := json.Marshal(map[string]string{"authorDid": "did:plc:alice", "recipientDid": "did:plc:bob"})
	if _, err := h.AddTrusted(context.Background(), userPrincipal("did:plc:alice"), addReq); err != nil {
		t.Fatalf("seed: %v", err)
	}

	removeReq, _ := json.Marshal(map[string]string{"authorDid": "did:plc:alice", "recipientDid": "did:plc:bob"})

	if _, err := h.RemoveTrusted(context.Background(), userPrincipal("did:plc:mallory"), removeReq); !errs.AsKind(err, errs.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	if _, err := h.RemoveTrusted(context.Background(), userPrincipal("did:plc:alice"), removeReq); err != nil {
		t.Fatalf("RemoveTrusted: %v", err)
	}

	listReq, _ := json.Marshal(map[string]string{"authorDid": "did:plc:alice"})
	resp, err := h.GetTrusted(context.Background(), userPrincipal("did:plc:alice"), listReq)
	if err != nil {
		t.Fatalf("GetTrusted after remove: %v", err)
	}
	if out := resp.(getTrustedResponse); len(out.Edges) != 0 {
		t.Fatalf("expected no active edges after removal, got %+v", out.Edges)
	}
}

func TestBulkRemoveTrusted_ReturnsOnlyRemovedDIDs(t *testing.T) {
	h := newHandlers(t)
	bulkAddReq, _ := json.Marshal(map[string]any{"authorDid": "did:plc:alice", "recipientDids": []string{"did:plc:bob", "did:plc:carol"}})
	if _, err := h.BulkAddTrusted(context.Background(), userPrincipal("did:plc:alice"), bulkAddReq); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req, _ := json.Marshal(map[string]any{"authorDid": "did:plc:alice", "recipientDids": []string{"did:plc:bob", "did:plc:nobody"}})
	resp, err := h.BulkRemoveTrusted(context.Background(), userPrincipal("did:plc:alice"), req)
	if err != nil {
		t.Fatalf("BulkRemoveTrusted: %v", err)
	}
	out := resp.(bulkRemoveTrustedResponse)
	if len(out.Removed) != 1 || out.Removed[0] != "did:plc:bob" {
		t.Fatalf("removed = %v, want [did:plc:bob]", out.Removed)
	}
}
