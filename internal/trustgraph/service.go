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

package trustgraph

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/spkeasy-social/control-plane/internal/jobqueue"
)

// Job names the propagation handlers subscribe to. Both session-owning
// services share one queue deployment, so a job meant for "each
// session-owning service" is published once per destination under a
// destination-qualified name (RoutedJobName) rather than once under a
// shared name both workers would compete to pop.
const (
	JobAddRecipientToSessions = "add-recipient-to-sessions"
	JobRevokeSession          = "revoke-session"
	JobDeleteSessionKeys      = "delete-session-keys"
)

// SessionOwningServices lists the destinations add-recipient-to-sessions,
// revoke-session, and delete-session-keys jobs fan out to.
var SessionOwningServices = []string{"private-sessions", "private-profiles"}

// RoutedJobName qualifies a job name with its destination service so two
// independent workers, sharing one Redis deployment, each get their own
// copy of the job instead of racing to pop a single shared list.
func RoutedJobName(destination, name string) string {
	return destination + "." + name
}

// Service composes a Store with a job queue publisher. Redis cannot join a
// Postgres transaction, so a Store mutation commits first and the follow-up
// propagation job is enqueued afterward; propagation handlers are written to
// tolerate the resulting at-least-once, possibly-stale-view semantics (see
// internal/propagation). A publish that fails after the commit is logged and
// not retried, and nothing re-publishes the lost job.
type Service struct {
	store Store
	queue jobqueue.Queue
	log   logr.Logger

	dailyQuota   int
	bulkDelay    time.Duration
	destinations []string
}

// NewService returns a Service enforcing quota trust adds per rolling
// 24-hour window and deferring bulk-operation propagation jobs by bulkDelay
// so a user can undo a bulk change before its fan-out runs; every job of one
// bulk call gets the same start time. destinations defaults to
// SessionOwningServices when empty.
func NewService(store Store, queue jobqueue.Queue, log logr.Logger, quota int, bulkDelay time.Duration, destinations []string) *Service {
	if quota <= 0 {
		quota = DefaultDailyQuota
	}
	if bulkDelay <= 0 {
		bulkDelay = DefaultBulkDelay
	}
	if len(destinations) == 0 {
		destinations = SessionOwningServices
	}
	return &Service{store: store, queue: queue, log: log, dailyQuota: quota, bulkDelay: bulkDelay, destinations: destinations}
}

// publishToAll enqueues one copy of name, under its routed per-destination
// name, for every session-owning service.
func (s *Service) publishToAll(ctx context.Context, name string, payload jobqueue.Payload, opts jobqueue.Options) {
	for _, dest := range s.destinations {
		if err := s.queue.Publish(ctx, RoutedJobName(dest, name), payload, opts); err != nil {
			s.log.Error(err, "trustgraph: failed to enqueue propagation after commit",
				"job", name, "destination", dest, "authorDid", payload["authorDid"], "recipientDid", payload["recipientDid"])
		}
	}
}

// ListTrusted returns authorDID's active trust edges, optionally filtered to
// a single recipient.
func (s *Service) ListTrusted(ctx context.Context, authorDID, recipientDID string) ([]TrustEdge, error) {
	return s.store.ListTrusted(ctx, authorDID, recipientDID)
}

// AddTrusted creates a trust edge and enqueues the job that grants
// recipientDID access to authorDID's existing private sessions.
func (s *Service) AddTrusted(ctx context.Context, authorDID, recipientDID string) (TrustEdge, error) {
	edge, err := s.store.AddTrusted(ctx, authorDID, recipientDID, s.dailyQuota)
	if err != nil {
		return TrustEdge{}, err
	}

	s.publishToAll(ctx, JobAddRecipientToSessions, jobqueue.Payload{
		"authorDid":    authorDID,
		"recipientDid": recipientDID,
	}, jobqueue.DefaultOptions())
	return edge, nil
}

// BulkAddTrusted creates trust edges for any recipientDIDs not already
// trusted and enqueues one propagation job per newly added recipient per
// destination, all delayed by the same bulkDelay.
func (s *Service) BulkAddTrusted(ctx context.Context, authorDID string, recipientDIDs []string) ([]string, error) {
	added, err := s.store.BulkAddTrusted(ctx, authorDID, recipientDIDs, s.dailyQuota)
	if err != nil {
		return nil, err
	}

	opts := jobqueue.DefaultOptions()
	opts.StartAfter = time.Now().Add(s.bulkDelay)
	for _, recipientDID := range added {
		s.publishToAll(ctx, JobAddRecipientToSessions, jobqueue.Payload{
			"authorDid":    authorDID,
			"recipientDid": recipientDID,
		}, opts)
	}
	return added, nil
}

// RemoveTrusted tombstones the trust edge and enqueues the job that deletes
// recipientDID's SessionKeys from authorDID's sessions. It does not publish
// JobRevokeSession: that handler revokes every one of the author's active
// sessions outright, which would cut off every other still-trusted
// recipient too. That is correct only for a whole-account revocation, never
// for untrusting a single recipient (see scenario S2, where Carol must keep
// her access after Bob alone is untrusted).
func (s *Service) RemoveTrusted(ctx context.Context, authorDID, recipientDID string) error {
	if err := s.store.RemoveTrusted(ctx, authorDID, recipientDID); err != nil {
		return err
	}

	s.publishToAll(ctx, JobDeleteSessionKeys, jobqueue.Payload{
		"authorDid":    authorDID,
		"recipientDid": recipientDID,
	}, jobqueue.DefaultOptions())
	return nil
}

// BulkRemoveTrusted tombstones edges for recipientDIDs and enqueues one
// delayed delete-session-keys job per removed recipient.
func (s *Service) BulkRemoveTrusted(ctx context.Context, authorDID string, recipientDIDs []string) ([]string, error) {
	removed, err := s.store.BulkRemoveTrusted(ctx, authorDID, recipientDIDs)
	if err != nil {
		return nil, err
	}

	opts := jobqueue.DefaultOptions()
	opts.StartAfter = time.Now().Add(s.bulkDelay)
	for _, recipientDID := range removed {
		s.publishToAll(ctx, JobDeleteSessionKeys, jobqueue.Payload{
			"authorDid":    authorDID,
			"recipientDid": recipientDID,
		}, opts)
	}
	return removed, nil
}
