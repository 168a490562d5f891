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

// Package config is A1: the flag-plus-environment wiring shared by
// user-keys, trusted-users, private-sessions and private-profiles. Each
// binary parses the same base flags, then layers its own service-specific
// ones (peer URLs, lookback windows) on top.
package config

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spkeasy-social/control-plane/internal/kmswrap"
	"github.com/spkeasy-social/control-plane/internal/rpcclient"
)

// Base holds the flags every one of the four binaries needs.
type Base struct {
	ServiceName string

	APIAddr     string
	HealthAddr  string
	MetricsAddr string

	PostgresConn string
	RedisAddr    string

	KMSProvider           string
	KMSKeyID              string
	KMSVaultURL           string
	FieldKeyCiphertextB64 string

	SweepSchedule     string
	WorkerConcurrency int

	// FederationAllowlist names PDS hosts trusted unconditionally by C8.
	// Empty means identity.DefaultAllowlist.
	FederationAllowlist []string

	// ServiceSecrets maps every service name (including this one) to its
	// shared secret, used both to authenticate this binary's outbound
	// calls and to verify inbound ones.
	ServiceSecrets map[string]string

	// Peers maps a destination service name to where it lives, built
	// from ServiceSecrets plus a PEER_<SERVICE>_URL env var per peer.
	Peers map[string]rpcclient.ServiceEndpoint
}

// ParseBase registers and parses the common flags for serviceName, then
// applies environment fallbacks. peerNames lists the other services this
// binary calls over C7 (e.g. private-sessions needs trusted-users and
// user-keys); it does not include serviceName itself.
func ParseBase(serviceName string, peerNames []string) *Base {
	b := &Base{ServiceName: serviceName}

	flag.StringVar(&b.APIAddr, "api-addr", ":8080", "xrpc API listen address")
	flag.StringVar(&b.HealthAddr, "health-addr", ":8081", "Health probe listen address")
	flag.StringVar(&b.MetricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	flag.StringVar(&b.PostgresConn, "postgres-conn", "", "Postgres connection string for this service's schema")
	flag.StringVar(&b.RedisAddr, "redis-addr", "", "Redis address backing the shared job queue")
	flag.StringVar(&b.KMSProvider, "kms-provider", "", "KMS provider (aws-kms, azure-keyvault, gcp-kms, vault)")
	flag.StringVar(&b.KMSKeyID, "kms-key-id", "", "KMS key identifier")
	flag.StringVar(&b.KMSVaultURL, "kms-vault-url", "", "KMS vault/endpoint URL")
	flag.StringVar(&b.FieldKeyCiphertextB64, "field-key-ciphertext", "", "base64 KMS envelope wrapping the job-queue field encryption key")
	flag.StringVar(&b.SweepSchedule, "sweep-schedule", "@every 30s", "cron schedule for the queue sweep")
	flag.IntVar(&b.WorkerConcurrency, "worker-concurrency", 4, "concurrent job handlers per queue")
	flag.Parse()

	envFallback(&b.PostgresConn, "", "POSTGRES_CONN")
	envFallback(&b.RedisAddr, "", "REDIS_ADDR")
	envFallback(&b.KMSProvider, "", "KMS_PROVIDER")
	envFallback(&b.KMSKeyID, "", "KMS_KEY_ID")
	envFallback(&b.KMSVaultURL, "", "KMS_VAULT_URL")
	envFallback(&b.FieldKeyCiphertextB64, "", "FIELD_KEY_CIPHERTEXT")
	envFallback(&b.APIAddr, ":8080", "API_ADDR")
	envFallback(&b.HealthAddr, ":8081", "HEALTH_ADDR")
	envFallback(&b.MetricsAddr, ":9090", "METRICS_ADDR")
	envFallback(&b.SweepSchedule, "@every 30s", "SWEEP_SCHEDULE")

	if v := os.Getenv("FEDERATION_ALLOWLIST"); v != "" {
		b.FederationAllowlist = strings.Split(v, ",")
	}

	b.ServiceSecrets = loadServiceSecrets(serviceName, peerNames)
	b.Peers = loadPeers(peerNames, b.ServiceSecrets)

	return b
}

// loadServiceSecrets reads SERVICE_SECRET_<SERVICE> for self plus every
// peer, normalizing service names (hyphens to underscores, upper-cased)
// into the environment variable name.
func loadServiceSecrets(self string, peers []string) map[string]string {
	secrets := make(map[string]string, len(peers)+1)
	for _, name := range append([]string{self}, peers...) {
		key := "SERVICE_SECRET_" + envName(name)
		if v := os.Getenv(key); v != "" {
			secrets[name] = v
		}
	}
	return secrets
}

// loadPeers builds a destination -> ServiceEndpoint map from PEER_<NAME>_URL
// env vars, reusing the shared secret table for the Secret field.
func loadPeers(peerNames []string, secrets map[string]string) map[string]rpcclient.ServiceEndpoint {
	peers := make(map[string]rpcclient.ServiceEndpoint, len(peerNames))
	for _, name := range peerNames {
		url := os.Getenv("PEER_" + envName(name) + "_URL")
		if url == "" {
			continue
		}
		peers[name] = rpcclient.ServiceEndpoint{BaseURL: url, Secret: secrets[name]}
	}
	return peers
}

func envName(serviceName string) string {
	return strings.ToUpper(strings.ReplaceAll(serviceName, "-", "_"))
}

// envFallback sets *dst from the environment variable envKey when *dst
// still equals the default value and the environment variable is
// non-empty.
func envFallback(dst *string, defaultVal, envKey string) {
	if *dst == defaultVal {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
		}
	}
}

// envInt reads an environment variable as int, returning def on
// missing/invalid values.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envDuration reads an environment variable as a time.Duration, returning
// def on missing/invalid values.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// TrustQuota returns the TRUST_DAILY_QUOTA environment override, or def.
func TrustQuota(def int) int { return envInt("TRUST_DAILY_QUOTA", def) }

// BulkDelay returns the TRUST_BULK_DELAY environment override, or def.
func BulkDelay(def time.Duration) time.Duration { return envDuration("TRUST_BULK_DELAY", def) }

// KMSConfig builds a kmswrap.ProviderConfig from the base flags.
func (b *Base) KMSConfig() kmswrap.ProviderConfig {
	return kmswrap.ProviderConfig{
		ProviderType: kmswrap.ProviderType(b.KMSProvider),
		KeyID:        b.KMSKeyID,
		VaultURL:     b.KMSVaultURL,
		Credentials:  credentialsFromEnv(),
	}
}

// credentialsFromEnv collects KMS_CRED_* environment variables into a
// provider credentials map, keyed by the part after the prefix
// lower-cased (KMS_CRED_CLIENT_ID -> client_id).
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

// UnwrapFieldKey base64-decodes FieldKeyCiphertextB64 and unseals it through
// provider, yielding the raw AES-256 key jobqueue.Config.FieldEncryptionKey
// expects. Every binary calls this once at startup rather than handling
// the raw key as a flag, so the key never appears in plaintext on the
// command line or in process listings.
func (b *Base) UnwrapFieldKey(ctx context.Context, provider kmswrap.Provider) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(b.FieldKeyCiphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decoding field key ciphertext: %w", err)
	}
	key, err := provider.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("unwrapping field encryption key: %w", err)
	}
	return key, nil
}

// WrapFieldKey seals plaintext (the raw AES-256 field encryption key) under
// provider and base64-encodes the resulting envelope, producing the value
// operators hand to every binary as -field-key-ciphertext. It is the
// provisioning counterpart to UnwrapFieldKey, run once per key or per
// rotation rather than on every service startup.
func WrapFieldKey(ctx context.Context, provider kmswrap.Provider, plaintext []byte) (string, error) {
	out, err := provider.Encrypt(ctx, plaintext)
	if err != nil {
		return "", fmt.Errorf("wrapping field encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out.Ciphertext), nil
}

// Validate checks the flags required by every binary regardless of which
// service it runs.
func (b *Base) Validate() error {
	if b.PostgresConn == "" {
		return fmt.Errorf("--postgres-conn or POSTGRES_CONN is required")
	}
	if b.RedisAddr == "" {
		return fmt.Errorf("--redis-addr or REDIS_ADDR is required")
	}
	if b.ServiceSecrets[b.ServiceName] == "" {
		return fmt.Errorf("SERVICE_SECRET_%s is required so peers can authenticate to this service", envName(b.ServiceName))
	}
	return nil
}
