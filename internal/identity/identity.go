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

// Package identity is C8, the identity verifier: it turns a bearer token
// into a Principal, either a service principal (shared-secret
// Authorization: api-key:<service>:<secret> header, checked against C7's
// secret table) or a federated user principal (a PDS-issued session token,
// always confirmed live via its issuing host's getSession endpoint; a host
// not on the allow-list must also own the caller's handle).
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"

	"github.com/spkeasy-social/control-plane/internal/errs"
)

// PrincipalKind distinguishes a service-to-service caller from an
// end-user caller authenticated via a federated PDS session.
type PrincipalKind string

const (
	KindService PrincipalKind = "service"
	KindUser    PrincipalKind = "user"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	Kind PrincipalKind

	// Set when Kind == KindService.
	ServiceName string

	// Set when Kind == KindUser.
	DID    string
	Handle string
}

// DefaultAllowlist are PDS hosts trusted unconditionally, matching
// spec's default trusted-federation allow-list.
var DefaultAllowlist = []string{"bsky.social", "blacksky.app", "bsky.network"}

// DefaultCacheTTL is how long a verified (did, handle) binding is cached.
const DefaultCacheTTL = 5 * time.Minute

// ProfileFetcher resolves a handle's owning host for the subdomain check,
// and confirms token liveness against the claimed PDS. Implemented over
// plain net/http in production; faked in tests.
type ProfileFetcher interface {
	// FetchProfileHandle returns the handle associated with did on host.
	FetchProfileHandle(ctx context.Context, host, did string) (string, error)
	// GetSession confirms token is a live session on host and returns the
	// session's did.
	GetSession(ctx context.Context, host, token string) (did string, err error)
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithAllowlist overrides DefaultAllowlist.
func WithAllowlist(hosts []string) VerifierOption {
	return func(v *Verifier) { v.allowlist = hosts }
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) { v.cacheTTL = ttl }
}

// Verifier implements C8 over a table of service secrets and a
// ProfileFetcher for the federated path.
type Verifier struct {
	serviceSecrets map[string]string // serviceName -> shared secret
	fetcher        ProfileFetcher
	allowlist      []string
	cacheTTL       time.Duration
	log            logr.Logger

	cache *ttlCache
}

// NewVerifier builds a Verifier. serviceSecrets maps each recognised
// service principal's name to its shared secret (spec §4.7).
func NewVerifier(serviceSecrets map[string]string, fetcher ProfileFetcher, log logr.Logger, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		serviceSecrets: serviceSecrets,
		fetcher:        fetcher,
		allowlist:      DefaultAllowlist,
		cacheTTL:       DefaultCacheTTL,
		log:            log.WithName("identity-verifier"),
		cache:          newTTLCache(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// federatedClaims is the subset of a PDS session token's claims the
// verifier reads; signature verification is out of scope (spec §1) because
// the issuing PDS is instead confirmed live via getSession.
type federatedClaims struct {
	jwt.RegisteredClaims
}

// Verify authenticates authHeader (the raw Authorization header value,
// without a scheme prefix expectation beyond api-key:) and returns the
// resulting Principal.
func (v *Verifier) Verify(ctx context.Context, authHeader string) (Principal, error) {
	if authHeader == "" {
		return Principal{}, errs.New(errs.KindAuthentication, "missing Authorization header")
	}

	if strings.HasPrefix(authHeader, "api-key:") {
		return v.verifyService(authHeader)
	}
	return v.verifyFederated(ctx, authHeader)
}

// verifyService checks an "api-key:<service>:<secret>" token against the
// shared-secret table.
func (v *Verifier) verifyService(token string) (Principal, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return Principal{}, errs.New(errs.KindAuthentication, "malformed service token")
	}
	service, secret := parts[1], parts[2]

	want, ok := v.serviceSecrets[service]
	if !ok || secret == "" || want != secret {
		return Principal{}, errs.Newf(errs.KindAuthentication, "unrecognized service principal %q", service)
	}
	return Principal{Kind: KindService, ServiceName: service}, nil
}

// verifyFederated decodes token as a PDS session token, resolves the
// issuing host from its aud claim, and confirms liveness via getSession.
// Unless the host is allow-listed, it also requires the caller's handle to
// be the host or a subdomain of it.
func (v *Verifier) verifyFederated(ctx context.Context, token string) (Principal, error) {
	key := tokenHash(token)
	if cached, ok := v.cache.get(key); ok {
		return cached, nil
	}

	var claims federatedClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Principal{}, errs.Wrap(errs.KindAuthentication, "parse session token", err)
	}

	aud := ""
	if len(claims.Audience) > 0 {
		aud = claims.Audience[0]
	}
	if !strings.HasPrefix(aud, "did:web:") {
		return Principal{}, errs.New(errs.KindAuthentication, "session token missing aud host claim")
	}
	host := strings.TrimPrefix(aud, "did:web:")

	did, err := v.fetcher.GetSession(ctx, host, token)
	if err != nil {
		return Principal{}, errs.Wrap(errs.KindAuthentication, "session not live on issuing host", err)
	}

	if !v.isAllowlisted(host) {
		handle, err := v.fetcher.FetchProfileHandle(ctx, host, did)
		if err != nil {
			return Principal{}, errs.Wrap(errs.KindAuthentication, "resolve caller profile", err)
		}
		if !isSubdomainOrEqual(handle, host) {
			return Principal{}, errs.Newf(errs.KindAuthentication, "handle %q is not owned by host %q", handle, host)
		}
		principal := Principal{Kind: KindUser, DID: did, Handle: handle}
		v.cache.put(key, principal, v.cacheTTL)
		return principal, nil
	}

	principal := Principal{Kind: KindUser, DID: did}
	v.cache.put(key, principal, v.cacheTTL)
	return principal, nil
}

func (v *Verifier) isAllowlisted(host string) bool {
	for _, h := range v.allowlist {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// isSubdomainOrEqual reports whether handle is host or a subdomain of host,
// preventing a hostile PDS from minting tokens claiming foreign handles.
func isSubdomainOrEqual(handle, host string) bool {
	handle = strings.ToLower(handle)
	host = strings.ToLower(host)
	return handle == host || strings.HasSuffix(handle, "."+host)
}

// tokenHash is used as the cache key so raw session tokens are never held
// in memory longer than necessary for the request producing the entry.
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
