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

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// fakeFetcher is a ProfileFetcher test double keyed by host.
type fakeFetcher struct {
	handles  map[string]string // did -> handle, per host call
	sessions map[string]string // host -> did returned by GetSession
	err      error
}

func (f *fakeFetcher) FetchProfileHandle(ctx context.Context, host, did string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.handles[did], nil
}

func (f *fakeFetcher) GetSession(ctx context.Context, host, token string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	did, ok := f.sessions[host]
	if !ok {
		return "", errUnknownHost
	}
	return did, nil
}

var errUnknownHost = &testError{"unknown host"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func federatedToken(t *testing.T, aud string) string {
	t.Helper()
	claims := federatedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return s
}

func TestVerify_ServicePrincipal(t *testing.T) {
	v := NewVerifier(map[string]string{"private-sessions": "s3cr3t"}, &fakeFetcher{}, logr.Discard())

	p, err := v.Verify(context.Background(), "api-key:private-sessions:s3cr3t")
	require.NoError(t, err)
	require.Equal(t, KindService, p.Kind)
	require.Equal(t, "private-sessions", p.ServiceName)
}

func TestVerify_ServicePrincipal_WrongSecret(t *testing.T) {
	v := NewVerifier(map[string]string{"private-sessions": "s3cr3t"}, &fakeFetcher{}, logr.Discard())

	_, err := v.Verify(context.Background(), "api-key:private-sessions:wrong")
	require.Error(t, err)
}

func TestVerify_FederatedAllowlistedHost(t *testing.T) {
	fetcher := &fakeFetcher{sessions: map[string]string{"bsky.social": "did:plc:alice"}}
	v := NewVerifier(nil, fetcher, logr.Discard())

	token := federatedToken(t, "did:web:bsky.social")
	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, KindUser, p.Kind)
	require.Equal(t, "did:plc:alice", p.DID)
}

func TestVerify_FederatedNonAllowlistedHost_RequiresSubdomainMatch(t *testing.T) {
	fetcher := &fakeFetcher{
		sessions: map[string]string{"example.com": "did:plc:alice"},
		handles:  map[string]string{"did:plc:alice": "alice.example.com"},
	}
	v := NewVerifier(nil, fetcher, logr.Discard())

	token := federatedToken(t, "did:web:example.com")
	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "alice.example.com", p.Handle)
}

func TestVerify_FederatedNonAllowlistedHost_RejectsForeignHandle(t *testing.T) {
	fetcher := &fakeFetcher{
		sessions: map[string]string{"hostile.example": "did:plc:alice"},
		handles:  map[string]string{"did:plc:alice": "alice.bsky.social"},
	}
	v := NewVerifier(nil, fetcher, logr.Discard())

	token := federatedToken(t, "did:web:hostile.example")
	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
}

func TestVerify_FederatedResult_IsCached(t *testing.T) {
	fetcher := &fakeFetcher{sessions: map[string]string{"bsky.social": "did:plc:alice"}}
	v := NewVerifier(nil, fetcher, logr.Discard(), WithCacheTTL(time.Minute))

	token := federatedToken(t, "did:web:bsky.social")
	_, err := v.Verify(context.Background(), token)
	require.NoError(t, err)

	// Break the fetcher; a cached verify must not need it again.
	fetcher.sessions = nil
	fetcher.err = errUnknownHost

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "did:plc:alice", p.DID)
}

func TestVerify_MissingHeader(t *testing.T) {
	v := NewVerifier(nil, &fakeFetcher{}, logr.Discard())
	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
}
