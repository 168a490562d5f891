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

// Package rpcclient is the C7 inter-service client: a typed HTTP caller
// that authenticates with a shared-secret service-principal header,
// validates payloads against the schema registry before send and after
// receive, and wraps each downstream service in its own circuit breaker so
// one unhealthy service cannot exhaust the caller's goroutines waiting on it.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker/v2"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/schema"
	"github.com/spkeasy-social/control-plane/pkg/metrics"
)

// DefaultHTTPTimeout bounds a single RPC call.
const DefaultHTTPTimeout = 10 * time.Second

// ServiceEndpoint is one downstream's address and auth secret.
type ServiceEndpoint struct {
	BaseURL string
	Secret  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default *http.Client (used by tests to point
// at an httptest.Server without touching the network).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBreakerSettings overrides the gobreaker.Settings template applied to
// every per-service breaker.
func WithBreakerSettings(s gobreaker.Settings) ClientOption {
	return func(cl *Client) { cl.breakerTemplate = s }
}

// WithMetrics wires an RPCRecorder so call latency and outcomes are
// published. Without it, Client records against metrics.NoOp.
func WithMetrics(m metrics.RPCRecorder) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// Client is the self-service's outbound RPC caller. fromService names the
// calling service for the Authorization header; endpoints maps the
// destination service name to where it lives and what secret to present.
type Client struct {
	fromService string
	endpoints   map[string]ServiceEndpoint
	registry    *schema.Registry
	httpClient  *http.Client
	log         logr.Logger
	metrics     metrics.RPCRecorder

	breakerTemplate gobreaker.Settings
	breakers        map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a Client for fromService that can reach every service
// named in endpoints. Each destination gets its own circuit breaker so a
// failing keystore, for instance, cannot also trip calls to trusted-users.
func NewClient(fromService string, endpoints map[string]ServiceEndpoint, registry *schema.Registry, log logr.Logger, opts ...ClientOption) *Client {
	c := &Client{
		fromService: fromService,
		endpoints:   endpoints,
		registry:    registry,
		httpClient:  &http.Client{Timeout: DefaultHTTPTimeout},
		log:         log.WithName("rpcclient"),
		metrics:     metrics.NoOp{},
		breakerTemplate: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) breakerFor(toService string) *gobreaker.CircuitBreaker[*http.Response] {
	if b, ok := c.breakers[toService]; ok {
		return b
	}
	settings := c.breakerTemplate
	settings.Name = toService
	b := gobreaker.NewCircuitBreaker[*http.Response](settings)
	c.breakers[toService] = b
	return b
}

// errorResponse mirrors the JSON body every xrpc handler emits on failure.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Call invokes toService's method with req, validating req against the
// schema registry's request half before sending and the decoded response
// against its response half before returning it in resp (a pointer, or nil
// to discard the body). It is idempotent-retry-free by design: retries for
// non-GET-shaped inter-service calls belong to the durable queue (spec §6),
// not to this client.
func (c *Client) Call(ctx context.Context, toService, method string, req, resp any) (err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
		}
		c.metrics.RecordRPC(toService, method, outcome, time.Since(start))
	}()

	endpoint, ok := c.endpoints[toService]
	if !ok {
		return errs.Newf(errs.KindValidation, "rpcclient: no endpoint configured for service %q", toService)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "rpcclient: encode request", err)
	}
	if err := c.registry.Validate(method, schema.Request, body); err != nil {
		return errs.Wrap(errs.KindValidation, "rpcclient: request payload", err)
	}

	breaker := c.breakerFor(toService)
	httpResp, err := breaker.Execute(func() (*http.Response, error) {
		return c.doRequest(ctx, endpoint, method, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return errs.Wrap(errs.KindUpstream, fmt.Sprintf("rpcclient: %s circuit open", toService), err)
		}
		return errs.Wrap(errs.KindUpstream, fmt.Sprintf("rpcclient: calling %s.%s", toService, method), err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode >= 400 {
		return readError(httpResp)
	}

	respBody, err := readAll(httpResp)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "rpcclient: read response", err)
	}
	if err := c.registry.Validate(method, schema.Response, respBody); err != nil {
		return errs.Wrap(errs.KindInternal, "rpcclient: response payload", err)
	}
	if resp != nil {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return errs.Wrap(errs.KindInternal, "rpcclient: decode response", err)
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, endpoint ServiceEndpoint, method string, body []byte) (*http.Response, error) {
	url := endpoint.BaseURL + "/xrpc/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("api-key:%s:%s", c.fromService, endpoint.Secret))
	return c.httpClient.Do(httpReq)
}

func readAll(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readError(resp *http.Response) error {
	body, _ := readAll(resp)
	var er errorResponse
	kind := errs.KindUpstream
	if resp.StatusCode == http.StatusUnauthorized {
		kind = errs.KindAuthentication
	} else if resp.StatusCode == http.StatusForbidden {
		kind = errs.KindAuthorization
	} else if resp.StatusCode == http.StatusNotFound {
		kind = errs.KindNotFound
	} else if resp.StatusCode == http.StatusTooManyRequests {
		kind = errs.KindRateLimit
	} else if resp.StatusCode == http.StatusConflict {
		kind = errs.KindConflict
	} else if resp.StatusCode == http.StatusBadRequest {
		kind = errs.KindValidation
	}
	if json.Unmarshal(body, &er) == nil && (er.Error != "" || er.Message != "") {
		msg := er.Message
		if msg == "" {
			msg = er.Error
		}
		return errs.Newf(kind, "rpcclient: HTTP %d: %s", resp.StatusCode, msg)
	}
	return errs.Newf(kind, "rpcclient: HTTP %d", resp.StatusCode)
}
