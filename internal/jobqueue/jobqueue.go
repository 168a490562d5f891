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

// Package jobqueue is the durable, at-least-once, FIFO-per-name job queue
// that carries recipient-addition, revocation, and key-rotation intents
// between the control plane's services. It follows the same pending-list
// / processing-sorted-set mechanics the teacher's in-memory work queue
// uses for visibility timeouts, adapted to per-job (rather than
// per-batch) delivery with delayed start and exponential back-off retry.
package jobqueue

import (
	"context"
	"time"
)

// Payload is a job's opaque data, keyed by field name. Fields named in an
// Options.SensitiveFields list are encrypted at rest and over the wire;
// the in-memory handler always sees plaintext.
type Payload map[string]any

// Options configures delivery of one or more jobs.
type Options struct {
	// StartAfter delays delivery until this time. Zero means immediate.
	StartAfter time.Time
	// RetryLimit is the maximum number of delivery attempts. Spec default: 12.
	RetryLimit int
	// RetryDelay is the base back-off delay before the first retry. Spec default: 60s.
	RetryDelay time.Duration
	// RetryBackoff is the exponential multiplier applied per additional attempt.
	RetryBackoff float64
	// SensitiveFields names Payload keys to encrypt at rest.
	SensitiveFields []string
}

// DefaultOptions returns the spec's default retry policy: 12 attempts,
// starting at 60s, doubling each attempt.
func DefaultOptions() Options {
	return Options{
		RetryLimit:   12,
		RetryDelay:   60 * time.Second,
		RetryBackoff: 2.0,
	}
}

// Handler processes one job's payload. Returning an error whose
// errs.IsAbort is true drops the job without retry; any other error
// causes the queue to retry under the back-off schedule, up to
// RetryLimit, after which the job is quarantined.
type Handler func(ctx context.Context, payload Payload) error

// Queue is the contract C5 exposes to the rest of the control plane.
type Queue interface {
	// Publish schedules exactly one job under name.
	Publish(ctx context.Context, name string, payload Payload, opts Options) error

	// BulkPublish atomically enqueues many same-named jobs sharing opts.
	BulkPublish(ctx context.Context, name string, payloads []Payload, opts Options) error

	// Work registers a handler for name and blocks, dispatching jobs at
	// least once, up to concurrency in-flight at a time, until ctx is
	// canceled.
	Work(ctx context.Context, name string, concurrency int, handler Handler) error

	// Sweep moves due delayed jobs to pending and reclaims jobs whose
	// visibility timeout expired without an Ack or Nack (a crashed
	// worker). Intended to be called periodically, e.g. by a
	// robfig/cron schedule.
	Sweep(ctx context.Context) error

	// Close releases the queue's resources.
	Close() error
}
