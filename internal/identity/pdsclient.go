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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPTimeout bounds calls to a claimed PDS host.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPProfileFetcher implements ProfileFetcher against a live PDS using its
// xrpc surface, matching the call-a-remote-service shape of C7's client.
type HTTPProfileFetcher struct {
	httpClient *http.Client
}

// NewHTTPProfileFetcher builds a ProfileFetcher that talks to PDS hosts
// over HTTPS.
func NewHTTPProfileFetcher() *HTTPProfileFetcher {
	return &HTTPProfileFetcher{httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
}

type getProfileResponse struct {
	Handle string `json:"handle"`
}

// FetchProfileHandle calls host's actor profile lookup for did.
func (f *HTTPProfileFetcher) FetchProfileHandle(ctx context.Context, host, did string) (string, error) {
	reqURL := fmt.Sprintf("https://%s/xrpc/com.atproto.repo.describeRepo?repo=%s", host, url.QueryEscape(did))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("describeRepo on %s: HTTP %d", host, resp.StatusCode)
	}

	var out getProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode describeRepo response: %w", err)
	}
	return out.Handle, nil
}

type getSessionResponse struct {
	DID string `json:"did"`
}

// GetSession calls host's com.atproto.server.getSession with token to
// confirm the session is still live, returning the session's did.
func (f *HTTPProfileFetcher) GetSession(ctx context.Context, host, token string) (string, error) {
	reqURL := fmt.Sprintf("https://%s/xrpc/com.atproto.server.getSession", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("getSession on %s: HTTP %d", host, resp.StatusCode)
	}

	var out getSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode getSession response: %w", err)
	}
	if out.DID == "" {
		return "", fmt.Errorf("getSession on %s: empty did", host)
	}
	return out.DID, nil
}

var _ ProfileFetcher = (*HTTPProfileFetcher)(nil)
