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

// Package graphapi is the social.spkeasy.graph.* xrpc surface over C2's
// trustgraph.Service, run by the trusted-users binary.
package graphapi

import (
	"context"
	"encoding/json"

	"github.com/go-logr/logr"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
)

// Handlers implements the five trust graph methods against one
// trustgraph.Service.
type Handlers struct {
	service *trustgraph.Service
	log     logr.Logger
}

func NewHandlers(service *trustgraph.Service, log logr.Logger) *Handlers {
	return &Handlers{service: service, log: log.WithName("graphapi")}
}

// requireSelfOrService allows a service principal to query/mutate any
// authorDID (propagation's recrypt fan-out checks trust on the author's
// behalf), but restricts a user principal to their own graph.
func requireSelfOrService(principal identity.Principal, authorDID string) error {
	if principal.Kind == identity.KindService {
		return nil
	}
	if principal.Kind == identity.KindUser && principal.DID == authorDID {
		return nil
	}
	return errs.New(errs.KindAuthorization, "caller may only act on their own authorDid")
}

type edgeView struct {
	RecipientDID string `json:"recipientDid"`
	CreatedAt    string `json:"createdAt"`
}

type getTrustedRequest struct {
	AuthorDID    string `json:"authorDid"`
	RecipientDID string `json:"recipientDid"`
}

type getTrustedResponse struct {
	Edges []edgeView `json:"edges"`
}

// GetTrusted implements social.spkeasy.graph.getTrusted. A service
// principal uses it as a point check (recipientDid set) to re-verify
// trust before a destructive propagation step; a user principal uses it
// to list their own trust graph.
func (h *Handlers) GetTrusted(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in getTrustedRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelfOrService(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	edges, err := h.service.ListTrusted(ctx, in.AuthorDID, in.RecipientDID)
	if err != nil {
		return nil, err
	}
	out := make([]edgeView, len(edges))
	for i, e := range edges {
		out[i] = edgeView{RecipientDID: e.RecipientDID, CreatedAt: e.CreatedAt.Format(timeLayout)}
	}
	return getTrustedResponse{Edges: out}, nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

type addTrustedRequest struct {
	AuthorDID    string `json:"authorDid"`
	RecipientDID string `json:"recipientDid"`
}

type addTrustedResponse struct {
	RecipientDID string `json:"recipientDid"`
	CreatedAt    string `json:"createdAt"`
}

// AddTrusted implements social.spkeasy.graph.addTrusted.
func (h *Handlers) AddTrusted(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in addTrustedRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelfOrService(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	edge, err := h.service.AddTrusted(ctx, in.AuthorDID, in.RecipientDID)
	if err != nil {
		return nil, err
	}
	return addTrustedResponse{RecipientDID: edge.RecipientDID, CreatedAt: edge.CreatedAt.Format(timeLayout)}, nil
}

type bulkAddTrustedRequest struct {
	AuthorDID     string   `json:"authorDid"`
	RecipientDIDs []string `json:"recipientDids"`
}

type bulkAddTrustedResponse struct {
	Added []string `json:"added"`
}

// BulkAddTrusted implements social.spkeasy.graph.bulkAddTrusted.
func (h *Handlers) BulkAddTrusted(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in bulkAddTrustedRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelfOrService(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	added, err := h.service.BulkAddTrusted(ctx, in.AuthorDID, in.RecipientDIDs)
	if err != nil {
		return nil, err
	}
	if added == nil {
		added = []string{}
	}
	return bulkAddTrustedResponse{Added: added}, nil
}

type removeTrustedRequest struct {
	AuthorDID    string `json:"authorDid"`
	RecipientDID string `json:"recipientDid"`
}

// RemoveTrusted implements social.spkeasy.graph.removeTrusted.
func (h *Handlers) RemoveTrusted(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in removeTrustedRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelfOrService(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	if err := h.service.RemoveTrusted(ctx, in.AuthorDID, in.RecipientDID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type bulkRemoveTrustedRequest struct {
	AuthorDID     string   `json:"authorDid"`
	RecipientDIDs []string `json:"recipientDids"`
}

type bulkRemoveTrustedResponse struct {
	Removed []string `json:"removed"`
}

// BulkRemoveTrusted implements social.spkeasy.graph.bulkRemoveTrusted.
func (h *Handlers) BulkRemoveTrusted(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in bulkRemoveTrustedRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelfOrService(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	removed, err := h.service.BulkRemoveTrusted(ctx, in.AuthorDID, in.RecipientDIDs)
	if err != nil {
		return nil, err
	}
	if removed == nil {
		removed = []string{}
	}
	return bulkRemoveTrustedResponse{Removed: removed}, nil
}
