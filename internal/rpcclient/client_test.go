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

package rpcclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/schema"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	registry := schema.NewRegistry()
	endpoints := map[string]ServiceEndpoint{
		"trusted-users": {BaseURL: srv.URL, Secret: "s3cr3t"},
	}
	c := NewClient("private-sessions", endpoints, registry, logr.Discard())
	return c, srv
}

func TestClient_Call_Success(t *testing.T) {
	var gotAuth, gotPath string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"edges": []map[string]string{
				{"recipientDid": "did:plc:bob", "createdAt": "2026-01-01T00:00:00Z"},
			},
		})
	})
	defer srv.Close()

	var resp getTrustedResponse
	err := c.Call(t.Context(), "trusted-users", "social.spkeasy.graph.getTrusted", getTrustedRequest{
		AuthorDID: "did:plc:alice",
	}, &resp)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(resp.Edges) != 1 || resp.Edges[0].RecipientDID != "did:plc:bob" {
		t.Errorf("resp = %+v", resp)
	}
	if gotAuth != "api-key:private-sessions:s3cr3t" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/xrpc/social.spkeasy.graph.getTrusted" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestClient_Call_InvalidRequestNeverReachesServer(t *testing.T) {
	called := false
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer srv.Close()

	// authorDid is required by the schema; omitting it must fail locally.
	err := c.Call(t.Context(), "trusted-users", "social.spkeasy.graph.getTrusted", map[string]string{}, nil)
	if err == nil {
		t.Fatal("Call() error = nil, want validation error")
	}
	if called {
		t.Error("server was called despite invalid request payload")
	}
}

func TestClient_Call_MapsHTTPErrorToKind(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no such edge"})
	})
	defer srv.Close()

	err := c.Call(t.Context(), "trusted-users", "social.spkeasy.graph.getTrusted", getTrustedRequest{
		AuthorDID: "did:plc:alice",
	}, &getTrustedResponse{})
	e, ok := err.(*errs.Error)
	if !ok || e.Kind() != errs.KindNotFound {
		t.Fatalf("Call() error = %v, want KindNotFound", err)
	}
}

func TestClient_Call_UnknownDestination(t *testing.T) {
	registry := schema.NewRegistry()
	c := NewClient("private-sessions", map[string]ServiceEndpoint{}, registry, logr.Discard())

	err := c.Call(t.Context(), "trusted-users", "social.spkeasy.graph.getTrusted", getTrustedRequest{
		AuthorDID: "did:plc:alice",
	}, nil)
	if err == nil {
		t.Fatal("Call() error = nil, want error for unconfigured destination")
	}
}
