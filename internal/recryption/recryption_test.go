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

package recryption

import (
	"bytes"
	"testing"
)

func mustKeyPair(t *testing.T) (pub, priv []byte) {
	t.Helper()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	return pub, priv
}

// TestRoundTrip covers invariant 7: decryptDEK(encryptDEK(d, K.pub), K.priv) == d.
func TestRoundTrip(t *testing.T) {
	pub, priv := mustKeyPair(t)
	dek := []byte("0123456789abcdef0123456789abcdef")

	env, err := EncryptDEK(dek, pub)
	if err != nil {
		t.Fatalf("EncryptDEK() error = %v", err)
	}
	got, err := DecryptDEK(env, priv)
	if err != nil {
		t.Fatalf("DecryptDEK() error = %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Errorf("DecryptDEK() = %x, want %x", got, dek)
	}
}

// TestRecryptCommutesWithPairChanges covers invariant 8:
// decryptDEK(recrypt(encryptDEK(d, A.pub), A.priv, B.pub), B.priv) == d.
func TestRecryptCommutesWithPairChanges(t *testing.T) {
	pubA, privA := mustKeyPair(t)
	pubB, privB := mustKeyPair(t)
	dek := []byte("the-session-data-encryption-key!")

	envA, err := EncryptDEK(dek, pubA)
	if err != nil {
		t.Fatalf("EncryptDEK() error = %v", err)
	}
	envB, err := Recrypt(envA, privA, pubB)
	if err != nil {
		t.Fatalf("Recrypt() error = %v", err)
	}
	got, err := DecryptDEK(envB, privB)
	if err != nil {
		t.Fatalf("DecryptDEK() error = %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Errorf("DecryptDEK(recrypt(...)) = %x, want %x", got, dek)
	}

	// The old private key must no longer open the new envelope.
	if _, err := DecryptDEK(envB, privA); err == nil {
		t.Error("DecryptDEK(envB, privA) succeeded, want error")
	}
}

// TestEnvelopeRejection covers invariant 9: malformed envelopes fail closed.
func TestEnvelopeRejection(t *testing.T) {
	pub, priv := mustKeyPair(t)
	env, err := EncryptDEK([]byte("some-dek-bytes-exactly-32byteslo"), pub)
	if err != nil {
		t.Fatalf("EncryptDEK() error = %v", err)
	}

	t.Run("wrong magic", func(t *testing.T) {
		tampered := append([]byte(nil), env...)
		tampered[0] = 'X'
		if _, err := DecryptDEK(tampered, priv); err == nil {
			t.Error("expected error for wrong magic")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		truncated := env[:len(env)-5]
		if _, err := DecryptDEK(truncated, priv); err == nil {
			t.Error("expected error for truncated envelope")
		}
	})

	t.Run("too short to contain fixed fields", func(t *testing.T) {
		if _, err := DecryptDEK([]byte("KEMv1|short"), priv); err == nil {
			t.Error("expected error for undersized envelope")
		}
	})

	t.Run("tampered hmac", func(t *testing.T) {
		tampered := append([]byte(nil), env...)
		_, kemCiphertext, _, _, _, err := DecodeEnvelope(env)
		if err != nil {
			t.Fatalf("DecodeEnvelope() error = %v", err)
		}
		hmacStart := len(magic) + saltSize + len(kemCiphertext) + ivSize
		tampered[hmacStart] ^= 0xFF
		if _, err := DecryptDEK(tampered, priv); err == nil {
			t.Error("expected error for tampered hmac")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if _, err := DecryptDEK(nil, priv); err == nil {
			t.Error("expected error for empty envelope")
		}
	})
}
