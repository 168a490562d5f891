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

// Package sessionapi is the social.spkeasy.{privateSession,profileSession}.*
// xrpc surface shared by the two session-owning binaries. Like
// internal/propagation, it is one implementation instantiated twice
// against each binary's own sessionstore.Store and queue, rather than two
// near-identical copies.
package sessionapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/identity"
	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/keystore"
	"github.com/spkeasy-social/control-plane/internal/propagation"
	"github.com/spkeasy-social/control-plane/internal/recryption"
	"github.com/spkeasy-social/control-plane/internal/sessionstore"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
)

// Config parameterizes one instance of the xrpc surface.
type Config struct {
	// ServiceName is this binary's own name, used to address the
	// update-session-keys job back at itself.
	ServiceName string
	// SessionTTL bounds how long a newly created session stays active.
	SessionTTL time.Duration
}

// Handlers implements the four create/addUser/revoke/updateKeys methods
// against one sessionstore.Store instance.
type Handlers struct {
	cfg   Config
	store sessionstore.Store
	trust propagation.TrustChecker
	keys  propagation.KeyFetcher
	queue jobqueue.Queue
	prop  *propagation.Handlers
	log   logr.Logger
}

// NewHandlers builds a Handlers. prop is the same propagation.Handlers
// instance the binary's job workers run, reused here so addUser's
// synchronous recrypt fan-out is the exact code path a deferred
// add-recipient-to-sessions job would otherwise run.
func NewHandlers(cfg Config, store sessionstore.Store, trust propagation.TrustChecker, keys propagation.KeyFetcher, queue jobqueue.Queue, prop *propagation.Handlers, log logr.Logger) *Handlers {
	return &Handlers{cfg: cfg, store: store, trust: trust, keys: keys, queue: queue, prop: prop, log: log.WithName("sessionapi")}
}

func requireSelf(principal identity.Principal, authorDID string) error {
	if principal.Kind != identity.KindUser || principal.DID != authorDID {
		return errs.New(errs.KindAuthorization, "caller may only act on their own authorDid")
	}
	return nil
}

type createRequest struct {
	AuthorDID     string   `json:"authorDid"`
	RecipientDIDs []string `json:"recipientDids"`
	EncryptedDEK  string   `json:"encryptedDek"`
}

type createResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Create implements social.spkeasy.{privateSession,profileSession}.create.
// The caller supplies one DEK envelope already wrapped for their own
// current public key; a fresh envelope for every other recipient is
// derived from it via recryption.Recrypt, the same re-wrap addUser and
// the add-recipient-to-sessions job use, so the session is fully keyed
// for every requested recipient in one round trip.
func (h *Handlers) Create(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in createRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelf(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	authorDEK, err := base64.StdEncoding.DecodeString(in.EncryptedDEK)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode encryptedDek", err)
	}

	authorKey, err := h.keys.GetPublicKey(ctx, in.AuthorDID)
	if err != nil {
		return nil, err
	}
	authorPriv, err := h.keys.GetPrivateKeys(ctx, in.AuthorDID, []uuid.UUID{authorKey.ID})
	if err != nil {
		return nil, err
	}
	if len(authorPriv) != 1 {
		return nil, errs.New(errs.KindInternal, "author private key not found for current public key")
	}

	recipients := []sessionstore.RecipientKey{
		{RecipientDID: in.AuthorDID, EncryptedDEK: authorDEK, UserKeyPairID: authorKey.ID},
	}
	for _, recipientDID := range in.RecipientDIDs {
		if recipientDID == in.AuthorDID {
			continue
		}
		trusted, err := h.trust.IsTrusted(ctx, in.AuthorDID, recipientDID)
		if err != nil {
			return nil, err
		}
		if !trusted {
			return nil, errs.Newf(errs.KindAuthorization, "recipient %q is not trusted by %q", recipientDID, in.AuthorDID)
		}

		recipientKey, err := h.keys.GetPublicKey(ctx, recipientDID)
		if err != nil {
			return nil, err
		}
		recipientDEK, err := recryption.Recrypt(authorDEK, authorPriv[0].PrivateKey, recipientKey.PublicKey)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "recrypt dek for recipient", err)
		}
		recipients = append(recipients, sessionstore.RecipientKey{
			RecipientDID:  recipientDID,
			EncryptedDEK:  recipientDEK,
			UserKeyPairID: recipientKey.ID,
		})
	}

	ttl := h.cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	sess, err := h.store.CreateSession(ctx, in.AuthorDID, time.Now().Add(ttl), recipients)
	if err != nil {
		return nil, err
	}
	return createResponse{SessionID: sess.ID.String(), CreatedAt: sess.CreatedAt}, nil
}

type addUserRequest struct {
	AuthorDID    string `json:"authorDid"`
	RecipientDID string `json:"recipientDid"`
}

// AddUser implements social.spkeasy.{privateSession,profileSession}.addUser:
// an authenticated, synchronous request to extend every one of the
// caller's candidate sessions to recipientDid right now, rather than
// waiting for trustgraph's deferred propagation job.
func (h *Handlers) AddUser(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in addUserRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelf(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	if err := h.prop.AddRecipientToSessions(ctx, jobqueue.Payload{
		"authorDid":    in.AuthorDID,
		"recipientDid": in.RecipientDID,
	}); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type revokeRequest struct {
	AuthorDID string `json:"authorDid"`
}

type revokeResponse struct {
	RevokedCount int64 `json:"revokedCount"`
}

// Revoke implements social.spkeasy.{privateSession,profileSession}.revoke:
// the caller's own "burn everything now" control, independent of the
// revoke-session job handler in internal/propagation. trustgraph's
// RemoveTrusted does not publish that job, and nothing else in this
// repository does either.
func (h *Handlers) Revoke(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in revokeRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}
	if err := requireSelf(principal, in.AuthorDID); err != nil {
		return nil, err
	}

	revoked, err := h.store.RevokeAllActive(ctx, in.AuthorDID)
	if err != nil {
		return nil, err
	}
	return revokeResponse{RevokedCount: revoked}, nil
}

type updateKeysRequest struct {
	AuthorDID      string `json:"authorDid"`
	PrevKeyID      string `json:"prevKeyId"`
	NewKeyID       string `json:"newKeyId"`
	PrevPrivateKey string `json:"prevPrivateKey"`
	NewPublicKey   string `json:"newPublicKey"`
}

// UpdateKeys implements social.spkeasy.{privateSession,profileSession}.updateKeys,
// a service-only alternate trigger for the update-session-keys migration
// keystore.Rotate already enqueues on this binary's behalf. It re-enqueues
// rather than running the migration inline, so a direct RPC call gets the
// exact same batching, retry, and crash-recovery guarantees as the
// fan-out path.
func (h *Handlers) UpdateKeys(ctx context.Context, principal identity.Principal, req json.RawMessage) (any, error) {
	var in updateKeysRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "decode request", err)
	}

	payload := jobqueue.Payload{
		"authorDid":      in.AuthorDID,
		"prevKeyId":      in.PrevKeyID,
		"newKeyId":       in.NewKeyID,
		"prevPrivateKey": in.PrevPrivateKey,
		"newPublicKey":   in.NewPublicKey,
	}
	opts := jobqueue.DefaultOptions()
	opts.SensitiveFields = []string{"prevPrivateKey"}
	name := trustgraph.RoutedJobName(h.cfg.ServiceName, keystore.JobUpdateSessionKeys)
	if err := h.queue.Publish(ctx, name, payload, opts); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "enqueue update-session-keys", err)
	}
	return struct{}{}, nil
}
