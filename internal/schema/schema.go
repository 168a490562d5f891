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

// Package schema is the method-name-keyed JSON Schema registry C7 validates
// inter-service RPC payloads against. Each social.spkeasy.<ns>.<verb> method
// has one embedded schema document with a "request" and a "response" half;
// both halves are read from the binary's embedded files at startup, so C7
// never fetches a schema over the network. gojsonschema compiles the
// selected half on every Validate call.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var embedded embed.FS

// Direction selects which half of a method's schema document to validate
// against.
type Direction string

const (
	Request  Direction = "request"
	Response Direction = "response"
)

type methodSchema struct {
	request  gojsonschema.JSONLoader
	response gojsonschema.JSONLoader
}

// Registry holds the compiled schema for every method.Method names in
// scope are fixed by spec §6; an unregistered method is always a
// validation error rather than a silent pass, so a typo in a caller's
// method string is caught immediately instead of reaching the network.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]methodSchema
}

// NewRegistry loads every schemas/*.json file embedded in the binary and
// splits each into its request and response halves. It panics on an
// embedded file that is not valid JSON since that is a build-time defect,
// never a runtime condition a caller can recover from. A half that is valid
// JSON but not a valid JSON Schema surfaces as an error from Validate.
func NewRegistry() *Registry {
	entries, err := embedded.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("schema: reading embedded schemas: %v", err))
	}

	r := &Registry{schemas: make(map[string]methodSchema, len(entries))}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		method := strings.TrimSuffix(entry.Name(), ".json")
		raw, err := embedded.ReadFile("schemas/" + entry.Name())
		if err != nil {
			panic(fmt.Sprintf("schema: reading %s: %v", entry.Name(), err))
		}

		var doc struct {
			Request  json.RawMessage `json:"request"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			panic(fmt.Sprintf("schema: parsing %s: %v", entry.Name(), err))
		}

		r.schemas[method] = methodSchema{
			request:  gojsonschema.NewBytesLoader(doc.Request),
			response: gojsonschema.NewBytesLoader(doc.Response),
		}
	}
	return r
}

// Methods returns every method name the registry has a schema for, in no
// particular order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for m := range r.schemas {
		out = append(out, m)
	}
	return out
}

// Validate checks payload against method's schema for the given direction.
// An unregistered method name is itself a validation failure.
func (r *Registry) Validate(method string, dir Direction, payload []byte) error {
	r.mu.RLock()
	ms, ok := r.schemas[method]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema: no schema registered for method %q", method)
	}

	var loader gojsonschema.JSONLoader
	switch dir {
	case Request:
		loader = ms.request
	case Response:
		loader = ms.response
	default:
		return fmt.Errorf("schema: unknown direction %q", dir)
	}

	documentLoader := gojsonschema.NewBytesLoader(payload)
	result, err := gojsonschema.Validate(loader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema: validating %s %s: %w", method, dir, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return fmt.Errorf("schema: %s %s payload invalid: %s", method, dir, joinErrors(msgs))
	}
	return nil
}

func joinErrors(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}
