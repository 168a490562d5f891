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

package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindAuthentication, http.StatusUnauthorized},
		{KindAuthorization, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindUpstream, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		if got := HTTPStatus(err); got != c.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestHTTPStatus_NonTypedError(t *testing.T) {
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain) = %d, want 500", got)
	}
}

func TestHTTPStatus_WrappedError(t *testing.T) {
	base := New(KindNotFound, "no such key pair")
	wrapped := fmt.Errorf("lookup failed: %w", base)
	if got := HTTPStatus(wrapped); got != http.StatusNotFound {
		t.Errorf("HTTPStatus(wrapped) = %d, want 404", got)
	}
}

func TestIsAbort(t *testing.T) {
	abort := []Kind{KindValidation, KindNotFound}
	retry := []Kind{KindAuthentication, KindAuthorization, KindConflict, KindRateLimit, KindUpstream, KindInternal}

	for _, k := range abort {
		if !IsAbort(New(k, "x")) {
			t.Errorf("IsAbort(%s) = false, want true", k)
		}
	}
	for _, k := range retry {
		if IsAbort(New(k, "x")) {
			t.Errorf("IsAbort(%s) = true, want false", k)
		}
	}
	if IsAbort(errors.New("plain")) {
		t.Error("IsAbort(plain) = true, want false")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := Wrap(KindUpstream, "rpc call to trusted-users failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is(wrapped, cause) = false, want true")
	}
	if wrapped.Kind() != KindUpstream {
		t.Errorf("Kind() = %s, want %s", wrapped.Kind(), KindUpstream)
	}
}

func TestWithCode(t *testing.T) {
	err := New(KindRateLimit, "too many trust edges").WithCode("quota-exceeded")
	if err.Code() != "quota-exceeded" {
		t.Errorf("Code() = %q, want %q", err.Code(), "quota-exceeded")
	}
}

func TestAsKind(t *testing.T) {
	err := fmt.Errorf("wrapping: %w", New(KindConflict, "already trusted"))
	if !AsKind(err, KindConflict) {
		t.Error("AsKind(err, KindConflict) = false, want true")
	}
	if AsKind(err, KindNotFound) {
		t.Error("AsKind(err, KindNotFound) = true, want false")
	}
}
