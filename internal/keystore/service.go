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

package keystore

import (
	"context"
	"encoding/base64"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
)

// JobUpdateSessionKeys is the job name §4.6's update-session-keys handler
// subscribes to; both session-owning services run a worker against it,
// each under its own trustgraph.RoutedJobName so the two don't compete to
// pop the same Redis list.
const JobUpdateSessionKeys = "update-session-keys"

// Service composes a Store with a job queue publisher so Rotate's
// key-migration fan-out is enqueued right after the rotation commits.
type Service struct {
	store        Store
	queue        jobqueue.Queue
	log          logr.Logger
	destinations []string
}

// NewService returns a Service that fans Rotate's update-session-keys job
// out to destinations (defaulting to trustgraph.SessionOwningServices).
func NewService(store Store, queue jobqueue.Queue, log logr.Logger, destinations []string) *Service {
	if len(destinations) == 0 {
		destinations = trustgraph.SessionOwningServices
	}
	return &Service{store: store, queue: queue, log: log, destinations: destinations}
}

func (s *Service) GetOrCreatePublicKey(ctx context.Context, authorDID string) (UserKeyPair, error) {
	return s.store.GetOrCreatePublicKey(ctx, authorDID)
}

func (s *Service) GetPublicKeys(ctx context.Context, dids []string) ([]UserKeyPair, error) {
	return s.store.GetPublicKeys(ctx, dids)
}

func (s *Service) GetPrivateKeys(ctx context.Context, did string, ids []uuid.UUID) ([]UserKeyPair, error) {
	return s.store.GetPrivateKeys(ctx, did, ids)
}

// Rotate tombstones the author's current key pair, inserts a new one, and
// enqueues update-session-keys addressed to each session-owning service.
// prevPrivateKey is marked sensitive so the queue field-encrypts it at rest.
func (s *Service) Rotate(ctx context.Context, authorDID string, newPublicKey, newPrivateKey []byte) (previous, current UserKeyPair, err error) {
	previous, current, err = s.store.Rotate(ctx, authorDID, newPublicKey, newPrivateKey)
	if err != nil {
		return previous, current, err
	}

	opts := jobqueue.DefaultOptions()
	opts.SensitiveFields = []string{"prevPrivateKey"}
	payload := jobqueue.Payload{
		"authorDid":      authorDID,
		"prevKeyId":      previous.ID.String(),
		"newKeyId":       current.ID.String(),
		"prevPrivateKey": base64.StdEncoding.EncodeToString(previous.PrivateKey),
		"newPublicKey":   base64.StdEncoding.EncodeToString(current.PublicKey),
	}
	for _, dest := range s.destinations {
		if err := s.queue.Publish(ctx, trustgraph.RoutedJobName(dest, JobUpdateSessionKeys), payload, opts); err != nil {
			s.log.Error(err, "keystore: failed to enqueue update-session-keys after commit",
				"destination", dest, "authorDid", authorDID)
		}
	}
	return previous, current, nil
}
