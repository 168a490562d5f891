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

// Package metrics holds the Prometheus instrumentation shared by the four
// control-plane binaries: job queue depth and outcomes, inter-service RPC
// latency, and xrpc request outcomes (A4). Each recorder is an interface
// with a no-op implementation, so internal/jobqueue, internal/rpcclient
// and internal/api can call it unconditionally without nil checks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared across the recorders below.
const (
	OutcomeSuccess    = "success"
	OutcomeRetry      = "retry"
	OutcomeQuarantine = "quarantine"
	OutcomeAbort      = "abort"
	OutcomeError      = "error"
)

// DefaultLatencyBuckets fits both in-process queue operations and
// cross-service HTTP calls; the two tails (sub-ms Redis ops, multi-second
// upstream calls) both land inside it.
var DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics is the concrete Prometheus-backed implementation of every
// recorder interface in this package. Construct one per process with New
// and pass it to jobqueue.RedisQueue.SetMetrics, rpcclient.WithMetrics and
// api.Server.SetMetrics.
type Metrics struct {
	QueueDepth    *prometheus.GaugeVec
	JobsTotal     *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	RPCTotal      *prometheus.CounterVec
	RPCDuration   *prometheus.HistogramVec
	RequestTotal  *prometheus.CounterVec
	RequestLength *prometheus.HistogramVec
}

// Config names the service emitting metrics, so the same binary family
// (user-keys, trusted-users, private-sessions, private-profiles) produces
// distinguishable series without each one hand-registering its own
// collectors.
type Config struct {
	// Service is the emitting binary's name, e.g. "private-sessions".
	Service string
}

// New creates and registers every control-plane metric against the
// default Prometheus registry.
func New(cfg Config) *Metrics {
	constLabels := prometheus.Labels{"service": cfg.Service}

	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "cp_queue_depth",
			Help:        "Current number of jobs pending or in flight, by queue name and state.",
			ConstLabels: constLabels,
		}, []string{"queue", "state"}),

		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "cp_queue_jobs_total",
			Help:        "Total jobs dispatched by queue name and outcome.",
			ConstLabels: constLabels,
		}, []string{"queue", "outcome"}),

		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cp_queue_job_duration_seconds",
			Help:        "Handler execution time per job, by queue name.",
			ConstLabels: constLabels,
			Buckets:     DefaultLatencyBuckets,
		}, []string{"queue"}),

		RPCTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "cp_rpc_requests_total",
			Help:        "Total inter-service RPC calls by destination, method and outcome.",
			ConstLabels: constLabels,
		}, []string{"to_service", "method", "outcome"}),

		RPCDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cp_rpc_duration_seconds",
			Help:        "Inter-service RPC call latency by destination and method.",
			ConstLabels: constLabels,
			Buckets:     DefaultLatencyBuckets,
		}, []string{"to_service", "method"}),

		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "cp_xrpc_requests_total",
			Help:        "Total xrpc requests served by method and outcome.",
			ConstLabels: constLabels,
		}, []string{"method", "outcome"}),

		RequestLength: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cp_xrpc_request_duration_seconds",
			Help:        "xrpc request handling latency by method.",
			ConstLabels: constLabels,
			Buckets:     DefaultLatencyBuckets,
		}, []string{"method"}),
	}
}

// QueueRecorder is what internal/jobqueue calls; satisfied by *Metrics and
// by NoOp.
type QueueRecorder interface {
	SetQueueDepth(queueName, state string, n int)
	RecordJob(queueName, outcome string, duration time.Duration)
}

// RPCRecorder is what internal/rpcclient calls.
type RPCRecorder interface {
	RecordRPC(toService, method, outcome string, duration time.Duration)
}

// HTTPRecorder is what internal/api calls.
type HTTPRecorder interface {
	RecordRequest(method, outcome string, duration time.Duration)
}

func (m *Metrics) SetQueueDepth(queueName, state string, n int) {
	m.QueueDepth.WithLabelValues(queueName, state).Set(float64(n))
}

func (m *Metrics) RecordJob(queueName, outcome string, duration time.Duration) {
	m.JobsTotal.WithLabelValues(queueName, outcome).Inc()
	m.JobDuration.WithLabelValues(queueName).Observe(duration.Seconds())
}

func (m *Metrics) RecordRPC(toService, method, outcome string, duration time.Duration) {
	m.RPCTotal.WithLabelValues(toService, method, outcome).Inc()
	m.RPCDuration.WithLabelValues(toService, method).Observe(duration.Seconds())
}

func (m *Metrics) RecordRequest(method, outcome string, duration time.Duration) {
	m.RequestTotal.WithLabelValues(method, outcome).Inc()
	m.RequestLength.WithLabelValues(method).Observe(duration.Seconds())
}

// NoOp implements QueueRecorder, RPCRecorder and HTTPRecorder without
// touching Prometheus, so components default to it and run unmodified in
// tests that never construct a Metrics.
type NoOp struct{}

func (NoOp) SetQueueDepth(_, _ string, _ int)           {}
func (NoOp) RecordJob(_, _ string, _ time.Duration)     {}
func (NoOp) RecordRPC(_, _, _ string, _ time.Duration)  {}
func (NoOp) RecordRequest(_, _ string, _ time.Duration) {}

var (
	_ QueueRecorder = NoOp{}
	_ RPCRecorder   = NoOp{}
	_ HTTPRecorder  = NoOp{}
	_ QueueRecorder = (*Metrics)(nil)
	_ RPCRecorder   = (*Metrics)(nil)
	_ HTTPRecorder  = (*Metrics)(nil)
)
