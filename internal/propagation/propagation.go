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

// Package propagation closes the loop between the trust graph, the
// keystore, and a session-owning service's own SessionKey rows. It is
// instantiated once per session-owning binary (private-sessions,
// private-profiles), wired against that binary's own sessionstore.Store;
// both instances share this same code because, once sessionstore
// collapsed its two call sites to one generic engine differing only by
// Config, there was nothing left for a Go type parameter to abstract
// over — Session and SessionKey are already the same concrete types in
// both binaries. The "parameterised handler factory" the source
// expresses as `SessionJobHandlers<S, K>` is this package's NewHandlers
// constructor, parameterised instead by the Store, TrustChecker, and
// KeyFetcher it closes over.
package propagation

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	goerrs "github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/recryption"
	"github.com/spkeasy-social/control-plane/internal/sessionstore"
)

// ScanBatchSize bounds how many SessionKey rows update-session-keys
// migrates per database round trip.
const ScanBatchSize = 100

// PrivateKeyRecord is one of an author's keypairs, as returned by the
// keystore over C7.
type PrivateKeyRecord struct {
	ID         uuid.UUID
	PrivateKey []byte
}

// PublicKeyRecord is a recipient's current keypair, as returned by the
// keystore over C7.
type PublicKeyRecord struct {
	ID        uuid.UUID
	PublicKey []byte
}

// TrustChecker re-checks the authoritative trust graph before any
// destructive propagation step. Implemented over C7 in production; a
// fake in tests.
type TrustChecker interface {
	IsTrusted(ctx context.Context, authorDID, recipientDID string) (bool, error)
}

// KeyFetcher resolves keypairs from the keystore over C7.
type KeyFetcher interface {
	GetPrivateKeys(ctx context.Context, authorDID string, keyPairIDs []uuid.UUID) ([]PrivateKeyRecord, error)
	GetPublicKey(ctx context.Context, did string) (PublicKeyRecord, error)
}

// Handlers implements the four propagation jobs against one
// sessionstore.Store instance.
type Handlers struct {
	store sessionstore.Store
	trust TrustChecker
	keys  KeyFetcher
	queue jobqueue.Queue
	// updateSessionKeysJob is this binary's own routed name for
	// update-session-keys, the job UpdateSessionKeys republishes itself
	// under when a batch leaves rows still unmigrated.
	updateSessionKeysJob string
	log                  logr.Logger
}

func NewHandlers(store sessionstore.Store, trust TrustChecker, keys KeyFetcher, queue jobqueue.Queue, updateSessionKeysJob string, log logr.Logger) *Handlers {
	return &Handlers{store: store, trust: trust, keys: keys, queue: queue, updateSessionKeysJob: updateSessionKeysJob, log: log}
}

func payloadString(p jobqueue.Payload, field string) (string, error) {
	v, ok := p[field]
	if !ok {
		return "", goerrs.Newf(goerrs.KindValidation, "propagation: payload missing %q", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", goerrs.Newf(goerrs.KindValidation, "propagation: payload field %q is not a string", field)
	}
	return s, nil
}

// AddRecipientToSessions implements add-recipient-to-sessions(authorDid, recipientDid).
func (h *Handlers) AddRecipientToSessions(ctx context.Context, payload jobqueue.Payload) error {
	authorDID, err := payloadString(payload, "authorDid")
	if err != nil {
		return err
	}
	recipientDID, err := payloadString(payload, "recipientDid")
	if err != nil {
		return err
	}

	trusted, err := h.trust.IsTrusted(ctx, authorDID, recipientDID)
	if err != nil {
		return fmt.Errorf("propagation: check trust: %w", err)
	}
	if !trusted {
		h.log.Info("add-recipient-to-sessions aborted: no longer trusted", "authorDid", authorDID, "recipientDid", recipientDID)
		return nil
	}

	candidates, err := h.store.ListCandidateSessions(ctx, authorDID)
	if err != nil {
		return fmt.Errorf("propagation: list candidate sessions: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	keyPairIDs := map[uuid.UUID]struct{}{}
	var pending []sessionstore.CandidateSession
	for _, cs := range candidates {
		has, err := h.store.HasRecipientKey(ctx, cs.Session.ID, recipientDID)
		if err != nil {
			return fmt.Errorf("propagation: check existing recipient key: %w", err)
		}
		if has {
			continue
		}
		pending = append(pending, cs)
		keyPairIDs[cs.AuthorKey.UserKeyPairID] = struct{}{}
	}
	if len(pending) == 0 {
		return nil
	}

	var ids []uuid.UUID
	for id := range keyPairIDs {
		ids = append(ids, id)
	}
	authorKeys, err := h.keys.GetPrivateKeys(ctx, authorDID, ids)
	if err != nil {
		return fmt.Errorf("propagation: fetch author private keys: %w", err)
	}
	privByID := make(map[uuid.UUID][]byte, len(authorKeys))
	for _, k := range authorKeys {
		privByID[k.ID] = k.PrivateKey
	}

	recipientKey, err := h.keys.GetPublicKey(ctx, recipientDID)
	if err != nil {
		return fmt.Errorf("propagation: fetch recipient public key: %w", err)
	}

	for _, cs := range pending {
		authorPriv, ok := privByID[cs.AuthorKey.UserKeyPairID]
		if !ok {
			// The author rotated mid-job; skip, a later rotation job will
			// migrate this session's keys and this recipient catches up then.
			continue
		}
		newDEK, err := recryption.Recrypt(cs.AuthorKey.EncryptedDEK, authorPriv, recipientKey.PublicKey)
		if err != nil {
			return fmt.Errorf("propagation: recrypt for session %s: %w", cs.Session.ID, err)
		}
		err = h.store.AddRecipientToSession(ctx, cs.Session.ID, sessionstore.RecipientKey{
			RecipientDID:  recipientDID,
			EncryptedDEK:  newDEK,
			UserKeyPairID: recipientKey.ID,
		})
		if err != nil {
			return fmt.Errorf("propagation: insert session key for session %s: %w", cs.Session.ID, err)
		}
	}
	return nil
}

// RevokeSession implements revoke-session(authorDid, recipientDid?).
func (h *Handlers) RevokeSession(ctx context.Context, payload jobqueue.Payload) error {
	authorDID, err := payloadString(payload, "authorDid")
	if err != nil {
		return err
	}

	if _, err := h.store.RevokeAllActive(ctx, authorDID); err != nil {
		return fmt.Errorf("propagation: revoke active sessions: %w", err)
	}

	recipientDID, _ := payload["recipientDid"].(string)
	if recipientDID == "" {
		return nil
	}
	if err := h.store.DeleteKeys(ctx, authorDID, recipientDID); err != nil {
		return fmt.Errorf("propagation: delete session keys: %w", err)
	}
	return nil
}

// DeleteSessionKeys implements delete-session-keys(authorDid, recipientDid).
func (h *Handlers) DeleteSessionKeys(ctx context.Context, payload jobqueue.Payload) error {
	authorDID, err := payloadString(payload, "authorDid")
	if err != nil {
		return err
	}
	recipientDID, err := payloadString(payload, "recipientDid")
	if err != nil {
		return err
	}

	trusted, err := h.trust.IsTrusted(ctx, authorDID, recipientDID)
	if err != nil {
		return fmt.Errorf("propagation: check trust: %w", err)
	}
	if trusted {
		return goerrs.New(goerrs.KindNotFound, "delete-session-keys aborted: recipient is trusted again").WithCode("still-trusted")
	}

	if err := h.store.DeleteKeys(ctx, authorDID, recipientDID); err != nil {
		return fmt.Errorf("propagation: delete session keys: %w", err)
	}
	return nil
}

// UpdateSessionKeys implements update-session-keys(prevKeyId, newKeyId, prevPrivateKey, newPublicKey).
// It migrates up to ScanBatchSize rows per call; if a full batch was
// consumed, more rows may remain, so it enqueues a fresh update-session-keys
// job with the same payload rather than returning an error. Driving the
// continuation this way, instead of via the queue's own nack/retry path,
// matters because nack applies exponential back-off and counts against
// RetryLimit — a rotation spanning many batches would otherwise slow to a
// crawl and eventually get quarantined mid-migration. ScanByKeyPair only
// ever returns rows still referencing prevKeyID, so republishing the
// unmodified payload is safe even if this call raced another attempt at
// the same job.
func (h *Handlers) UpdateSessionKeys(ctx context.Context, payload jobqueue.Payload) error {
	prevKeyIDStr, err := payloadString(payload, "prevKeyId")
	if err != nil {
		return err
	}
	newKeyIDStr, err := payloadString(payload, "newKeyId")
	if err != nil {
		return err
	}
	prevPrivateKeyB64, err := payloadString(payload, "prevPrivateKey")
	if err != nil {
		return err
	}
	newPublicKeyB64, err := payloadString(payload, "newPublicKey")
	if err != nil {
		return err
	}

	prevKeyID, err := uuid.Parse(prevKeyIDStr)
	if err != nil {
		return goerrs.Wrap(goerrs.KindValidation, "parse prevKeyId", err)
	}
	newKeyID, err := uuid.Parse(newKeyIDStr)
	if err != nil {
		return goerrs.Wrap(goerrs.KindValidation, "parse newKeyId", err)
	}

	prevPrivateKey, err := base64.StdEncoding.DecodeString(prevPrivateKeyB64)
	if err != nil {
		return goerrs.Wrap(goerrs.KindValidation, "decode prevPrivateKey", err)
	}
	newPublicKey, err := base64.StdEncoding.DecodeString(newPublicKeyB64)
	if err != nil {
		return goerrs.Wrap(goerrs.KindValidation, "decode newPublicKey", err)
	}

	rows, err := h.store.ScanByKeyPair(ctx, prevKeyID, ScanBatchSize)
	if err != nil {
		return fmt.Errorf("propagation: scan by keypair: %w", err)
	}
	for _, row := range rows {
		newDEK, err := recryption.Recrypt(row.EncryptedDEK, prevPrivateKey, newPublicKey)
		if err != nil {
			return fmt.Errorf("propagation: recrypt session %s: %w", row.SessionID, err)
		}
		if err := h.store.UpdateKeyPairReference(ctx, row.SessionID, row.RecipientDID, newDEK, newKeyID); err != nil {
			return fmt.Errorf("propagation: update keypair reference: %w", err)
		}
	}
	if len(rows) == ScanBatchSize {
		opts := jobqueue.DefaultOptions()
		opts.SensitiveFields = []string{"prevPrivateKey"}
		if err := h.queue.Publish(ctx, h.updateSessionKeysJob, payload, opts); err != nil {
			return fmt.Errorf("propagation: enqueue next update-session-keys batch: %w", err)
		}
	}
	return nil
}
