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

package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	goerrs "github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/pkg/logctx"
	"github.com/spkeasy-social/control-plane/pkg/metrics"
)

const keyPrefix = "cp:queue:"

// job is the envelope persisted per queued unit of work.
type job struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Payload         Payload   `json:"payload"`
	SensitiveFields []string  `json:"sensitiveFields,omitempty"`
	Attempt         int       `json:"attempt"`
	RetryLimit      int       `json:"retryLimit"`
	RetryDelay      int64     `json:"retryDelayMs"`
	RetryBackoff    float64   `json:"retryBackoff"`
	CreatedAt       time.Time `json:"createdAt"`
	LastError       string    `json:"lastError,omitempty"`
}

// RedisQueue implements Queue on top of Redis: a list per name for
// pending jobs, a list + sorted set per name tracking in-flight jobs by
// visibility deadline (crash recovery), and one sorted set per name for
// delayed jobs not yet due.
type RedisQueue struct {
	client            *redis.Client
	cipher            *fieldCipher
	log               logr.Logger
	visibilityTimeout time.Duration
	metrics           metrics.QueueRecorder

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*RedisQueue)(nil)

// Config configures a RedisQueue.
type Config struct {
	// FieldEncryptionKey is the raw 32-byte AES-256 key protecting
	// sensitive payload fields at rest. Obtained by unwrapping a KMS
	// envelope at process start; see internal/kmswrap.
	FieldEncryptionKey []byte
	// VisibilityTimeout bounds how long a dispatched job may run before
	// the queue assumes its worker died and reclaims it. Default: 5m.
	VisibilityTimeout time.Duration
}

// NewRedisQueue creates a RedisQueue from an existing client.
func NewRedisQueue(client *redis.Client, cfg Config, log logr.Logger) (*RedisQueue, error) {
	cipher, err := newFieldCipher(cfg.FieldEncryptionKey)
	if err != nil {
		return nil, err
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	return &RedisQueue{
		client:            client,
		cipher:            cipher,
		log:               log,
		visibilityTimeout: visibility,
		metrics:           metrics.NoOp{},
	}, nil
}

// SetMetrics wires a QueueRecorder so depth and job-outcome metrics are
// published. Safe to skip; the queue runs against metrics.NoOp otherwise.
func (q *RedisQueue) SetMetrics(m metrics.QueueRecorder) {
	q.metrics = m
}

func (q *RedisQueue) pendingKey(name string) string    { return keyPrefix + name + ":pending" }
func (q *RedisQueue) processingKey(name string) string { return keyPrefix + name + ":processing" }
func (q *RedisQueue) visibilityZSetKey(name string) string {
	return keyPrefix + name + ":visibility"
}
func (q *RedisQueue) delayedZSetKey(name string) string { return keyPrefix + name + ":delayed" }
func (q *RedisQueue) jobKey(id string) string           { return keyPrefix + "job:" + id }

func (q *RedisQueue) Publish(ctx context.Context, name string, payload Payload, opts Options) error {
	return q.BulkPublish(ctx, name, []Payload{payload}, opts)
}

func (q *RedisQueue) BulkPublish(ctx context.Context, name string, payloads []Payload, opts Options) error {
	if len(payloads) == 0 {
		return nil
	}
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return errClosed
	}
	q.mu.RUnlock()

	now := time.Now()
	pipe := q.client.Pipeline()
	for _, payload := range payloads {
		encrypted, err := q.cipher.encryptFields(payload, opts.SensitiveFields)
		if err != nil {
			return err
		}
		j := job{
			ID:              uuid.NewString(),
			Name:            name,
			Payload:         encrypted,
			SensitiveFields: opts.SensitiveFields,
			RetryLimit:      opts.RetryLimit,
			RetryDelay:      opts.RetryDelay.Milliseconds(),
			RetryBackoff:    opts.RetryBackoff,
			CreatedAt:       now,
		}
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("jobqueue: marshal job: %w", err)
		}
		pipe.Set(ctx, q.jobKey(j.ID), data, 0)

		if opts.StartAfter.After(now) {
			pipe.ZAdd(ctx, q.delayedZSetKey(name), redis.Z{
				Score:  float64(opts.StartAfter.UnixNano()),
				Member: j.ID,
			})
		} else {
			pipe.LPush(ctx, q.pendingKey(name), j.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue: publish: %w", err)
	}
	return nil
}

func (q *RedisQueue) Work(ctx context.Context, name string, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		j, err := q.pop(ctx, name)
		if errors.Is(err, errQueueEmpty) {
			<-sem
			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			<-sem
			q.log.Error(err, "jobqueue: pop failed", "name", name)
			continue
		}

		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			q.dispatch(ctx, name, j, handler)
		}(j)
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, name string, j job, handler Handler) {
	start := time.Now()

	plaintext, err := q.cipher.decryptFields(j.Payload)
	if err != nil {
		q.log.Error(err, "jobqueue: decrypt payload failed, quarantining", "name", name, "jobID", j.ID)
		_ = q.quarantine(ctx, name, j, err)
		q.metrics.RecordJob(name, metrics.OutcomeQuarantine, time.Since(start))
		return
	}

	jobCtx := logctx.WithJobName(ctx, name)
	jobCtx = logctx.WithJobID(jobCtx, j.ID)
	err = handler(jobCtx, plaintext)
	if err == nil {
		if ackErr := q.ack(ctx, name, j.ID); ackErr != nil {
			q.log.Error(ackErr, "jobqueue: ack failed", "name", name, "jobID", j.ID)
		}
		q.metrics.RecordJob(name, metrics.OutcomeSuccess, time.Since(start))
		return
	}

	if goerrs.IsAbort(err) {
		q.log.Info("jobqueue: handler aborted job", "name", name, "jobID", j.ID, "reason", err.Error())
		if ackErr := q.ack(ctx, name, j.ID); ackErr != nil {
			q.log.Error(ackErr, "jobqueue: ack after abort failed", "name", name, "jobID", j.ID)
		}
		q.metrics.RecordJob(name, metrics.OutcomeAbort, time.Since(start))
		return
	}

	if nackErr := q.nack(ctx, name, j, err); nackErr != nil {
		q.log.Error(nackErr, "jobqueue: nack failed", "name", name, "jobID", j.ID)
	}
	outcome := metrics.OutcomeRetry
	if j.Attempt >= j.RetryLimit {
		outcome = metrics.OutcomeQuarantine
	}
	q.metrics.RecordJob(name, outcome, time.Since(start))
}

func (q *RedisQueue) pop(ctx context.Context, name string) (job, error) {
	id, err := q.client.RPopLPush(ctx, q.pendingKey(name), q.processingKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return job{}, errQueueEmpty
	}
	if err != nil {
		return job{}, fmt.Errorf("jobqueue: pop: %w", err)
	}

	data, err := q.client.Get(ctx, q.jobKey(id)).Result()
	if err != nil {
		q.client.LRem(ctx, q.processingKey(name), 1, id)
		return job{}, fmt.Errorf("jobqueue: load job %s: %w", id, err)
	}
	var j job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return job{}, fmt.Errorf("jobqueue: unmarshal job %s: %w", id, err)
	}
	j.Attempt++

	deadline := time.Now().Add(q.visibilityTimeout)
	q.client.ZAdd(ctx, q.visibilityZSetKey(name), redis.Z{Score: float64(deadline.UnixNano()), Member: id})

	data, _ = json.Marshal(j)
	q.client.Set(ctx, q.jobKey(id), data, 0)

	return j, nil
}

func (q *RedisQueue) ack(ctx context.Context, name, id string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.processingKey(name), 1, id)
	pipe.ZRem(ctx, q.visibilityZSetKey(name), id)
	pipe.Del(ctx, q.jobKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) nack(ctx context.Context, name string, j job, cause error) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.processingKey(name), 1, j.ID)
	pipe.ZRem(ctx, q.visibilityZSetKey(name), j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	j.LastError = cause.Error()
	if j.Attempt >= j.RetryLimit {
		return q.quarantine(ctx, name, j, cause)
	}

	delay := backoffDelay(time.Duration(j.RetryDelay)*time.Millisecond, j.RetryBackoff, j.Attempt)
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal retried job: %w", err)
	}
	pipe = q.client.Pipeline()
	pipe.Set(ctx, q.jobKey(j.ID), data, 0)
	pipe.ZAdd(ctx, q.delayedZSetKey(name), redis.Z{Score: float64(time.Now().Add(delay).UnixNano()), Member: j.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func backoffDelay(base time.Duration, backoff float64, attempt int) time.Duration {
	if backoff <= 0 {
		backoff = 1
	}
	if attempt < 1 {
		attempt = 1
	}
	multiplier := math.Pow(backoff, float64(attempt-1))
	return time.Duration(float64(base) * multiplier)
}

func (q *RedisQueue) quarantine(ctx context.Context, name string, j job, cause error) error {
	j.LastError = cause.Error()
	data, _ := json.Marshal(j)
	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.jobKey(j.ID), data, 0)
	pipe.SAdd(ctx, keyPrefix+name+":dead", j.ID)
	_, err := pipe.Exec(ctx)
	q.log.Info("jobqueue: job quarantined after exhausting retries", "name", name, "jobID", j.ID, "attempts", j.Attempt, "cause", cause.Error())
	return err
}

// Sweep moves due delayed jobs to pending for every known name, and
// reclaims processing-zset entries whose visibility deadline passed.
// Callers typically drive this from a robfig/cron schedule.
func (q *RedisQueue) Sweep(ctx context.Context) error {
	names, err := q.discoverNames(ctx)
	if err != nil {
		return err
	}
	now := float64(time.Now().UnixNano())
	for _, name := range names {
		if err := q.sweepDelayed(ctx, name, now); err != nil {
			return err
		}
		if err := q.sweepExpiredVisibility(ctx, name, now); err != nil {
			return err
		}
		q.reportDepth(ctx, name)
	}
	return nil
}

// reportDepth publishes current pending/processing list lengths for name.
// Best-effort: a failed Llen just skips that gauge update until the next
// sweep.
func (q *RedisQueue) reportDepth(ctx context.Context, name string) {
	if pending, err := q.client.LLen(ctx, q.pendingKey(name)).Result(); err == nil {
		q.metrics.SetQueueDepth(name, "pending", int(pending))
	}
	if processing, err := q.client.LLen(ctx, q.processingKey(name)).Result(); err == nil {
		q.metrics.SetQueueDepth(name, "processing", int(processing))
	}
}

func (q *RedisQueue) discoverNames(ctx context.Context) ([]string, error) {
	var names []string
	seen := map[string]struct{}{}
	for _, suffix := range []string{":delayed", ":visibility"} {
		iter := q.client.Scan(ctx, 0, keyPrefix+"*"+suffix, 0).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			name := key[len(keyPrefix) : len(key)-len(suffix)]
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("jobqueue: scan for names: %w", err)
		}
	}
	return names, nil
}

func (q *RedisQueue) sweepDelayed(ctx context.Context, name string, nowScore float64) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedZSetKey(name), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", nowScore),
	}).Result()
	if err != nil {
		return fmt.Errorf("jobqueue: scan delayed: %w", err)
	}
	for _, id := range due {
		pipe := q.client.Pipeline()
		pipe.ZRem(ctx, q.delayedZSetKey(name), id)
		pipe.LPush(ctx, q.pendingKey(name), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("jobqueue: requeue delayed job %s: %w", id, err)
		}
	}
	return nil
}

func (q *RedisQueue) sweepExpiredVisibility(ctx context.Context, name string, nowScore float64) error {
	expired, err := q.client.ZRangeByScore(ctx, q.visibilityZSetKey(name), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", nowScore),
	}).Result()
	if err != nil {
		return fmt.Errorf("jobqueue: scan expired visibility: %w", err)
	}
	for _, id := range expired {
		pipe := q.client.Pipeline()
		pipe.ZRem(ctx, q.visibilityZSetKey(name), id)
		pipe.LRem(ctx, q.processingKey(name), 1, id)
		pipe.LPush(ctx, q.pendingKey(name), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("jobqueue: reclaim timed-out job %s: %w", id, err)
		}
	}
	return nil
}

func (q *RedisQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

var errClosed = errors.New("jobqueue: queue is closed")
var errQueueEmpty = errors.New("jobqueue: queue is empty")
