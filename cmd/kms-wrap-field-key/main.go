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

// Command kms-wrap-field-key is the provisioning counterpart to the field
// key every other binary unwraps at startup. An operator runs it once
// when standing up the control plane, and again on every field key
// rotation, to seal a freshly generated AES-256 key under the configured
// KMS backend and print the base64 envelope that goes into
// -field-key-ciphertext / FIELD_KEY_CIPHERTEXT.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spkeasy-social/control-plane/internal/config"
	"github.com/spkeasy-social/control-plane/internal/kmswrap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		kmsProvider = flag.String("kms-provider", "", "KMS provider (aws-kms, azure-keyvault, gcp-kms, vault)")
		kmsKeyID    = flag.String("kms-key-id", "", "KMS key identifier")
		kmsVaultURL = flag.String("kms-vault-url", "", "KMS vault/endpoint URL")
	)
	flag.Parse()

	provider, err := kmswrap.NewProvider(kmswrap.ProviderConfig{
		ProviderType: kmswrap.ProviderType(*kmsProvider),
		KeyID:        *kmsKeyID,
		VaultURL:     *kmsVaultURL,
		Credentials:  credentialsFromEnv(),
	})
	if err != nil {
		return fmt.Errorf("creating KMS provider: %w", err)
	}
	defer func() { _ = provider.Close() }()

	fieldKey := make([]byte, 32)
	if _, err := rand.Read(fieldKey); err != nil {
		return fmt.Errorf("generating field key: %w", err)
	}

	ciphertext, err := config.WrapFieldKey(context.Background(), provider, fieldKey)
	if err != nil {
		return err
	}

	fmt.Println(ciphertext)
	return nil
}

// credentialsFromEnv collects KMS_CRED_* environment variables the same
// way config.Base.KMSConfig does, so this tool's output is wrapped under
// the exact credentials the service binaries will later unwrap it with.
func credentialsFromEnv() map[string]string {
	const prefix = "KMS_CRED_"
	creds := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		creds[key] = parts[1]
	}
	return creds
}
