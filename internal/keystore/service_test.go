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
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/spkeasy-social/control-plane/internal/jobqueue"
	"github.com/spkeasy-social/control-plane/internal/trustgraph"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *recordingQueue) Publish(ctx context.Context, name string, payload jobqueue.Payload, opts jobqueue.Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, name)
	return nil
}

func (q *recordingQueue) BulkPublish(ctx context.Context, name string, payloads []jobqueue.Payload, opts jobqueue.Options) error {
	return nil
}

func (q *recordingQueue) Work(ctx context.Context, name string, concurrency int, handler jobqueue.Handler) error {
	return nil
}

func (q *recordingQueue) Sweep(ctx context.Context) error { return nil }

func (q *recordingQueue) Close() error { return nil }

func TestService_Rotate_EnqueuesUpdateSessionKeysPerDestination(t *testing.T) {
	store := NewFake()
	store.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	queue := &recordingQueue{}
	svc := NewService(store, queue, logr.Discard(), nil)

	ctx := context.Background()
	if _, err := store.GetOrCreatePublicKey(ctx, "did:plc:alice"); err != nil {
		t.Fatalf("GetOrCreatePublicKey() error = %v", err)
	}
	store.Now = func() time.Time { return time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC) }

	_, _, err := svc.Rotate(ctx, "did:plc:alice", []byte("newpub"), []byte("newpriv"))
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.jobs) != len(trustgraph.SessionOwningServices) {
		t.Fatalf("enqueued jobs = %v, want one per session-owning service", queue.jobs)
	}
	for _, dest := range trustgraph.SessionOwningServices {
		want := trustgraph.RoutedJobName(dest, JobUpdateSessionKeys)
		found := false
		for _, j := range queue.jobs {
			if j == want {
				found = true
			}
		}
		if !found {
			t.Errorf("enqueued jobs = %v, want to contain %q", queue.jobs, want)
		}
	}
}
