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

// Command private-sessions runs C3: general private-post sessions, over
// social.spkeasy.privateSession.*.
package main

import (
	"fmt"
	"os"

	"github.com/spkeasy-social/control-plane/internal/sessionbinary"
	"github.com/spkeasy-social/control-plane/internal/sessionstore"
)

func main() {
	err := sessionbinary.Run(sessionbinary.Options{
		ServiceName:  "private-sessions",
		MethodPrefix: "privateSession",
		StoreKind:    sessionstore.KindPrivateSessions,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
