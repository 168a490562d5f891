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

package schema

import (
	"strings"
	"testing"
)

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name        string
		method      string
		dir         Direction
		payload     string
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid addTrusted request",
			method:  "social.spkeasy.graph.addTrusted",
			dir:     Request,
			payload: `{"authorDid":"did:plc:alice","recipientDid":"did:plc:bob"}`,
		},
		{
			name:        "addTrusted request missing recipientDid",
			method:      "social.spkeasy.graph.addTrusted",
			dir:         Request,
			payload:     `{"authorDid":"did:plc:alice"}`,
			wantErr:     true,
			errContains: "recipientDid",
		},
		{
			name:        "addTrusted request rejects unknown field",
			method:      "social.spkeasy.graph.addTrusted",
			dir:         Request,
			payload:     `{"authorDid":"did:plc:alice","recipientDid":"did:plc:bob","extra":true}`,
			wantErr:     true,
			errContains: "additional",
		},
		{
			name:    "valid rotate request",
			method:  "social.spkeasy.key.rotate",
			dir:     Request,
			payload: `{"authorDid":"did:plc:alice","newPublicKey":"cHVi","newPrivateKey":"cHJpdg=="}`,
		},
		{
			name:    "valid updateKeys request on routed private session method",
			method:  "social.spkeasy.privateSession.updateKeys",
			dir:     Request,
			payload: `{"authorDid":"did:plc:alice","prevKeyId":"1","newKeyId":"2","prevPrivateKey":"cHJpdg==","newPublicKey":"cHVi"}`,
		},
		{
			name:    "valid bulkAddTrusted response",
			method:  "social.spkeasy.graph.bulkAddTrusted",
			dir:     Response,
			payload: `{"added":["did:plc:bob","did:plc:carol"]}`,
		},
		{
			name:        "unregistered method",
			method:      "social.spkeasy.graph.doesNotExist",
			dir:         Request,
			payload:     `{}`,
			wantErr:     true,
			errContains: "no schema registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.method, tt.dir, []byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate() error = nil, want error containing %q", tt.errContains)
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("Validate() error = %q, want containing %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestRegistry_Methods_CoversProfileAndPrivateSessions(t *testing.T) {
	r := NewRegistry()
	methods := r.Methods()

	want := []string{
		"social.spkeasy.privateSession.create",
		"social.spkeasy.profileSession.create",
		"social.spkeasy.key.getPrivateKeys",
	}
	for _, m := range want {
		found := false
		for _, got := range methods {
			if got == m {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Methods() = %v, want to contain %q", methods, m)
		}
	}
}
