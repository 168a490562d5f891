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

package logctx

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
)

func TestWithAndExtractFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithJobID(ctx, "job-1")
	ctx = WithMethod(ctx, "social.spkeasy.graph.addTrusted")
	ctx = WithJobName(ctx, "add-recipient-to-sessions")
	ctx = WithAuthorDID(ctx, "did:plc:author")
	ctx = WithRecipientDID(ctx, "did:plc:recipient")
	ctx = WithPrincipal(ctx, "service:trusted-users")

	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("RequestID() = %q, want %q", got, "req-1")
	}
	if got := AuthorDID(ctx); got != "did:plc:author" {
		t.Errorf("AuthorDID() = %q, want %q", got, "did:plc:author")
	}

	values := LogrValues(ctx)
	if len(values) != len(allContextKeys)*2 {
		t.Fatalf("LogrValues() returned %d entries, want %d", len(values), len(allContextKeys)*2)
	}
}

func TestLogrValues_Empty(t *testing.T) {
	values := LogrValues(context.Background())
	if values != nil {
		t.Errorf("expected nil values for empty context, got %v", values)
	}
}

func TestLoggerWithContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-2")
	log := LoggerWithContext(logr.Discard(), ctx)
	log.Info("test")
}

func TestLoggerWithContext_NoValues(t *testing.T) {
	log := LoggerWithContext(logr.Discard(), context.Background())
	log.Info("test")
}
