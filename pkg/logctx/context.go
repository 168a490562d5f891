/*
Copyright 2025.

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

// Package logctx provides structured logging context management.
// It allows storing and extracting common logging fields from context.Context,
// enabling consistent logging across request handlers and job handlers.
package logctx

import (
	"context"

	"github.com/go-logr/logr"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for fields that recur across the control plane: a request
// or job, the author/recipient DIDs it concerns, and the method or job
// name being executed.
const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyJobID      contextKey = "job_id"
	ContextKeyMethod     contextKey = "method"
	ContextKeyJobName    contextKey = "job_name"
	ContextKeyAuthorDID  contextKey = "author_did"
	ContextKeyRecipient  contextKey = "recipient_did"
	ContextKeyPrincipal  contextKey = "principal"
)

var allContextKeys = []contextKey{
	ContextKeyRequestID,
	ContextKeyJobID,
	ContextKeyMethod,
	ContextKeyJobName,
	ContextKeyAuthorDID,
	ContextKeyRecipient,
	ContextKeyPrincipal,
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithJobID returns a new context with the queue job ID set.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// WithMethod returns a new context with the xrpc method name set.
func WithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, ContextKeyMethod, method)
}

// WithJobName returns a new context with the queue job name set.
func WithJobName(ctx context.Context, jobName string) context.Context {
	return context.WithValue(ctx, ContextKeyJobName, jobName)
}

// WithAuthorDID returns a new context with the author DID set.
func WithAuthorDID(ctx context.Context, did string) context.Context {
	return context.WithValue(ctx, ContextKeyAuthorDID, did)
}

// WithRecipientDID returns a new context with the recipient DID set.
func WithRecipientDID(ctx context.Context, did string) context.Context {
	return context.WithValue(ctx, ContextKeyRecipient, did)
}

// WithPrincipal returns a new context with the calling principal (a user DID
// or "service:<name>") set.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// LogrValues extracts context values and returns them as key-value pairs
// suitable for use with logr.Logger.WithValues(). Only non-empty values
// are included.
func LogrValues(ctx context.Context) []interface{} {
	var values []interface{}
	for _, key := range allContextKeys {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok && s != "" {
				values = append(values, string(key), s)
			}
		}
	}
	return values
}

// LoggerWithContext returns a logger enriched with all context values.
func LoggerWithContext(log logr.Logger, ctx context.Context) logr.Logger {
	values := LogrValues(ctx)
	if len(values) == 0 {
		return log
	}
	return log.WithValues(values...)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyRequestID)
}

// AuthorDID extracts the author DID from the context.
func AuthorDID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyAuthorDID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
