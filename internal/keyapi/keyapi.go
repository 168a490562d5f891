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

// Package keyapi is the social.spkeasy.key.* xrpc surface over C1's
// keystore.Service, run by the user-keys binary. getPublicKey(s) are open
// to any caller; getPrivateKey and rotate are restricted to the owning
// user; getPrivateKeys (plural) is restricted to service principals
// fetching on another user's behalf for recryption.
package keyapi

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/keystore"
)

// Handlers implements the five key methods against one keystore.Service.
type Handlers struct {
	service *keystore.Service
	log     logr.Logger
}

func NewHandlers(service *keystore.Service, log logr.Logger) *Handlers {
	return &Handlers{service: service, log: log.WithName("keyapi")}
}

func requireSelf(principal identity.Principal, did string) error {
	if principal.Kind != identity.KindUser || principal.DID != did {
		return errs.New(errs.KindAuthorization, "caller may only act on their own did")
	}
	return nil
}

type getPublicKeyRequest struct {
	DID string `json:"did"`
}

type publicKeyResponse struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
}

// GetPublicKey implements social.spkeasy.key.getPublicKey, get-or-create
// semantics: a caller asking about a DID with no key pair yet causes one
// to be minted, matching C1's invariant that every author has exactly one
// current key pair once any service has needed it.
func (h *Handlers) GetPublicKey(ctx context.Context, _ identity.Principal, req json.RawMessage) (any, error) {
	var in getPublicKeyRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	kp, err := h.service.GetOrCreatePublicKey(ctx, in.DID)
	if err != nil {
		return nil, err
	}
	return publicKeyResponse{ID: kp.ID.String(), PublicKey: base64.StdEncoding.EncodeToString(kp.PublicKey)}, nil
}

type getPublicKeysRequest struct {
	DIDs []string `json:"dids"`
}

type namedPublicKey struct {
	DID       string `json:"did"`
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
}

type getPublicKeysResponse struct {
	Keys []namedPublicKey `json:"keys"`
}

// GetPublicKeys implements social.spkeasy.key.getPublicKeys, a batch
// lookup that silently omits authors with no current key pair rather than
// minting one for each, since the batch path is used for bulk fan-out
// (e.g. bulkAddTrusted) where get-or-create per recipient would be a
// surprising side effect of a read.
func (h *Handlers) GetPublicKeys(ctx context.Context, _ identity.Principal, req json.RawMessage) (any, error) {
	var in getPublicKeysRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	kps, err := h.service.GetPublicKeys(ctx, in.DIDs)
	if err != nil {
		return nil, err
	}
	out := make([]namedPublicKey, len(kps))
	for i, kp := range kps {
		out[i] = namedPublicKey{DID: kp.AuthorDID, ID: kp.ID.String(), PublicKey: base64.StdEncoding.EncodeToString(kp.PublicKey)}
	}
	return getPublicKeysResponse{Keys: out}, nil
}

type getPrivateKeyRequest struct {
	DID   string `json:"did"`
	KeyID string `json:"keyId"`
}

type privateKeyResponse struct {
	ID         string `json:"id"`
	PrivateKey string `json:"privateKey"`
}

// GetPrivateKey implements social.spkeasy.key.getPrivateKey: a user
// fetching their own private key, e.g. to decrypt locally without
// trusting a single recryption pass.
func (h *Handlers) GetPrivateKey(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in getPrivateKeyRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelf(principal, in.DID); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(in.KeyID)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "parse keyId", err)
	}
	kps, err := h.service.GetPrivateKeys(ctx, in.DID, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(kps) != 1 {
		return nil, errs.New(errs.KindNotFound, "key pair not found")
	}
	return privateKeyResponse{ID: kps[0].ID.String(), PrivateKey: base64.StdEncoding.EncodeToString(kps[0].PrivateKey)}, nil
}

type getPrivateKeysRequest struct {
	DID    string   `json:"did"`
	KeyIDs []string `json:"keyIds"`
}

type namedPrivateKey struct {
	ID         string `json:"id"`
	PrivateKey string `json:"privateKey"`
}

type getPrivateKeysResponse struct {
	Keys []namedPrivateKey `json:"keys"`
}

// GetPrivateKeys implements social.spkeasy.key.getPrivateKeys, serviceOnly:
// its callers are propagation's recrypt fan-out, which batches lookups
// across a recipient's candidate sessions by the distinct key pair ids
// those sessions reference, and sessionapi's Create, which fetches the
// author's current private key. Both go through rpcclient.KeyClient.
func (h *Handlers) GetPrivateKeys(ctx context.Context, _ identity.Principal, req json.RawMessage) (any, error) {
	var in getPrivateKeysRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	ids := make([]uuid.UUID, len(in.KeyIDs))
	for i, s := range in.KeyIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, "parse keyIds", err)
		}
		ids[i] = id
	}
	kps, err := h.service.GetPrivateKeys(ctx, in.DID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]namedPrivateKey, len(kps))
	for i, kp := range kps {
		out[i] = namedPrivateKey{ID: kp.ID.String(), PrivateKey: base64.StdEncoding.EncodeToString(kp.PrivateKey)}
	}
	return getPrivateKeysResponse{Keys: out}, nil
}

type rotateRequest struct {
	AuthorDID     string `json:"authorDid"`
	NewPublicKey  string `json:"newPublicKey"`
	NewPrivateKey string `json:"newPrivateKey"`
}

type rotateResponse struct {
	PreviousKeyID string `json:"previousKeyId"`
	CurrentKeyID  string `json:"currentKeyId"`
}

// Rotate implements social.spkeasy.key.rotate: the author supplies their
// own freshly generated pair (key generation is a client-side operation;
// the server never sees unencapsulated entropy beyond what it's handed),
// and the service enqueues the migration of every session key that still
// references the previous pair.
func (h *Handlers) Rotate(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in rotateRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelf(principal, in.AuthorDID); err != nil {
		return nil, err
	}
	newPub, err := base64.StdEncoding.DecodeString(in.NewPublicKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode newPublicKey", err)
	}
	newPriv, err := base64.StdEncoding.DecodeString(in.NewPrivateKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode newPrivateKey", err)
	}
	previous, current, err := h.service.Rotate(ctx, in.AuthorDID, newPub, newPriv)
	if err != nil {
		return nil, err
	}
	return rotateResponse{PreviousKeyID: previous.ID.String(), CurrentKeyID: current.ID.String()}, nil
}
