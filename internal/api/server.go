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

// Package api exposes each service's social.spkeasy.* methods over
// /xrpc/<methodName>, the wire protocol of spec §6. One Server handles
// auth (C8), schema validation (the registry shared with C7), and error
// mapping (internal/errs) so a binary's method handlers only implement
// business logic.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/schema"
	"github.com/spkeasy-social/control-plane/pkg/logctx"
	"github.com/spkeasy-social/control-plane/pkg/metrics"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

// MethodHandler implements one social.spkeasy.* method's business logic.
// req has already been schema-validated; the returned value is
// schema-validated again before being written to the client.
type MethodHandler func(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error)

// ErrorResponse is the JSON body written on any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Server routes /xrpc/<methodName> requests to registered MethodHandlers.
type Server struct {
	mux      *http.ServeMux
	verifier *identity.Verifier
	registry *schema.Registry
	log      logr.Logger
	metrics  metrics.HTTPRecorder
}

// NewServer builds a Server. Call RegisterMethod for each method the
// binary implements, then use Server as an http.Handler.
func NewServer(verifier *identity.Verifier, registry *schema.Registry, log logr.Logger) *Server {
	return &Server{
		mux:      http.NewServeMux(),
		verifier: verifier,
		registry: registry,
		log:      log.WithName("xrpc"),
		metrics:  metrics.NoOp{},
	}
}

// SetMetrics wires an HTTPRecorder so per-method request outcomes and
// latency are published. Safe to skip; the server runs against
// metrics.NoOp otherwise.
func (s *Server) SetMetrics(m metrics.HTTPRecorder) {
	s.metrics = m
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// RegisterMethod wires method to handler at POST /xrpc/<method>. When
// serviceOnly is true (spec §6's *.updateKeys and key.getPrivateKeys),
// only a service principal may call it; any other caller gets 403.
func (s *Server) RegisterMethod(method string, serviceOnly bool, handler MethodHandler) {
	s.mux.HandleFunc("POST /xrpc/"+method, s.wrap(method, serviceOnly, handler))
}

func (s *Server) wrap(method string, serviceOnly bool, handler MethodHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		outcome := metrics.OutcomeSuccess
		defer func() {
			s.metrics.RecordRequest(method, outcome, time.Since(start))
		}()
		fail := func(err error) {
			outcome = metrics.OutcomeError
			writeError(w, err)
		}

		principal, err := s.verifier.Verify(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			fail(err)
			return
		}
		if serviceOnly && principal.Kind != identity.KindService {
			fail(errs.Newf(errs.KindAuthorization, "%s requires a service principal", method))
			return
		}

		ctx := logctx.WithMethod(r.Context(), method)
		ctx = logctx.WithPrincipal(ctx, principalLogValue(principal))

		body, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			fail(errs.Wrap(errs.KindValidation, "read request body", err))
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}
		if err := s.registry.Validate(method, schema.Request, body); err != nil {
			fail(errs.Wrap(errs.KindValidation, "request payload", err))
			return
		}

		result, err := handler(ctx, principal, body)
		if err != nil {
			logctx.LoggerWithContext(s.log, ctx).Error(err, "method handler failed")
			fail(err)
			return
		}

		respBody, err := json.Marshal(result)
		if err != nil {
			fail(errs.Wrap(errs.KindInternal, "encode response", err))
			return
		}
		if err := s.registry.Validate(method, schema.Response, respBody); err != nil {
			s.log.Error(err, "response failed schema validation", "method", method)
			fail(errs.Wrap(errs.KindInternal, "response payload", err))
			return
		}

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write(respBody)
	}
}

// principalLogValue renders principal for log correlation without
// including any bearer token material.
func principalLogValue(principal identity.Principal) string {
	if principal.Kind == identity.KindService {
		return "service:" + principal.ServiceName
	}
	return principal.DID
}

// writeError maps err to an HTTP status via internal/errs and writes a
// JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	kind := "InternalError"
	code := ""
	var e *errs.Error
	if errors.As(err, &e) {
		kind = string(e.Kind())
		code = e.Code()
	}
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: kind, Message: err.Error(), Code: code})
}
