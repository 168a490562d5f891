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

// Package recryption implements the pure, allocation-light cryptographic
// kernel that moves a session's data encryption key from one recipient's
// key pair to another's without ever persisting plaintext. It performs no
// I/O: callers supply raw key-pair bytes and get back raw envelope bytes.
//
// The wire format is a single self-describing envelope, magic-prefixed
// "KEMv1|", carrying an ML-KEM-768 ciphertext, an AES-GCM-encrypted DEK,
// and an HMAC over the ML-KEM ciphertext and the AES-GCM IV. See
// EncodeEnvelope for the exact byte layout.
package recryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

const (
	// magic is the envelope's version header. Any other byte sequence in
	// its place is rejected outright.
	magic = "KEMv1|"

	saltSize = 32
	ivSize   = 12
	hmacSize = 32

	hkdfInfo = "ML-KEM-768-AES-HMAC"
)

// ErrAuthFailure is returned for any malformed or tampered envelope: wrong
// magic, wrong field lengths, or an HMAC mismatch. It is deliberately a
// single sentinel — callers must not distinguish "slightly wrong" from
// "very wrong" envelopes, since doing so would leak information to an
// attacker probing the format.
var ErrAuthFailure = errors.New("recryption: envelope authentication failed")

// PublicKeySize and PrivateKeySize are the raw packed key-pair byte
// lengths for ML-KEM-768, re-exported so callers sizing storage columns
// don't need to import circl directly.
const (
	PublicKeySize  = mlkem768.PublicKeySize
	PrivateKeySize = mlkem768.PrivateKeySize
)

// GenerateKeyPair produces a fresh ML-KEM-768 key pair as packed bytes.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pk, sk, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("recryption: generate key pair: %w", err)
	}
	publicKey = make([]byte, mlkem768.PublicKeySize)
	privateKey = make([]byte, mlkem768.PrivateKeySize)
	pk.Pack(publicKey)
	sk.Pack(privateKey)
	return publicKey, privateKey, nil
}

// EncryptDEK seals a raw data encryption key to recipientPublicKey,
// producing a base64url-less envelope (the caller encodes for transport;
// see spec §6 for the base64url wire convention). This is the encapsulate
// half of the kernel, used when a session is first created or a new
// recipient is added.
func EncryptDEK(dek, recipientPublicKey []byte) ([]byte, error) {
	if len(recipientPublicKey) != mlkem768.PublicKeySize {
		return nil, fmt.Errorf("recryption: public key must be %d bytes, got %d", mlkem768.PublicKeySize, len(recipientPublicKey))
	}
	var pk mlkem768.PublicKey
	if err := pk.Unpack(recipientPublicKey); err != nil {
		return nil, fmt.Errorf("recryption: unpack public key: %w", err)
	}

	kemCiphertext := make([]byte, mlkem768.CiphertextSize)
	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	pk.EncapsulateTo(kemCiphertext, sharedSecret, nil)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("recryption: generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("recryption: generate iv: %w", err)
	}

	aesKey, hmacKey, err := deriveKeys(sharedSecret, salt)
	if err != nil {
		return nil, err
	}

	aesGcmCiphertext, err := aesGCMSeal(aesKey, iv, dek)
	if err != nil {
		return nil, err
	}

	mac := envelopeHMAC(hmacKey, kemCiphertext, iv)

	return EncodeEnvelope(salt, kemCiphertext, iv, mac, aesGcmCiphertext), nil
}

// DecryptDEK opens an envelope produced by EncryptDEK (or Recrypt) using
// the matching private key, returning the raw DEK. Returns ErrAuthFailure
// for any structurally invalid or tampered envelope.
func DecryptDEK(envelope, recipientPrivateKey []byte) ([]byte, error) {
	salt, kemCiphertext, iv, mac, aesGcmCiphertext, err := DecodeEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	if len(recipientPrivateKey) != mlkem768.PrivateKeySize {
		return nil, fmt.Errorf("recryption: private key must be %d bytes, got %d", mlkem768.PrivateKeySize, len(recipientPrivateKey))
	}
	var sk mlkem768.PrivateKey
	if err := sk.Unpack(recipientPrivateKey); err != nil {
		return nil, fmt.Errorf("%w: unpack private key: %v", ErrAuthFailure, err)
	}

	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	sk.DecapsulateTo(sharedSecret, kemCiphertext)

	aesKey, hmacKey, err := deriveKeys(sharedSecret, salt)
	if err != nil {
		return nil, err
	}

	expectedMAC := envelopeHMAC(hmacKey, kemCiphertext, iv)
	if !hmac.Equal(expectedMAC, mac) {
		return nil, ErrAuthFailure
	}

	dek, err := aesGCMOpen(aesKey, iv, aesGcmCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	return dek, nil
}

// Recrypt moves the DEK carried by envelope from authorPrivateKey's custody
// to a fresh envelope sealed under newRecipientPublicKey, without the
// caller ever handling the raw DEK. It is the composition
// DecryptDEK(envelope, authorPrivateKey) followed by
// EncryptDEK(dek, newRecipientPublicKey), implemented directly so the raw
// DEK's lifetime is confined to this call's stack frame.
func Recrypt(envelope, authorPrivateKey, newRecipientPublicKey []byte) ([]byte, error) {
	dek, err := DecryptDEK(envelope, authorPrivateKey)
	if err != nil {
		return nil, err
	}
	out, err := EncryptDEK(dek, newRecipientPublicKey)
	// dek is not zeroed here beyond going out of scope; Go provides no
	// guaranteed memory scrubbing, so the invariant we hold is "never
	// copied beyond this frame and never logged", not "wiped from RAM".
	return out, err
}

// EncodeEnvelope assembles the exact `KEMv1|` wire layout described in
// spec §6: magic, salt, KEM ciphertext, IV, HMAC, then the AES-GCM
// ciphertext tail of arbitrary length.
func EncodeEnvelope(salt, kemCiphertext, iv, mac, aesGcmCiphertext []byte) []byte {
	out := make([]byte, 0, len(magic)+len(salt)+len(kemCiphertext)+len(iv)+len(mac)+len(aesGcmCiphertext))
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, kemCiphertext...)
	out = append(out, iv...)
	out = append(out, mac...)
	out = append(out, aesGcmCiphertext...)
	return out
}

// DecodeEnvelope splits a `KEMv1|` envelope into its fields, validating the
// magic header and every fixed-length field. Any deviation in magic,
// offset, or length returns ErrAuthFailure per invariant 9.
func DecodeEnvelope(envelope []byte) (salt, kemCiphertext, iv, mac, aesGcmCiphertext []byte, err error) {
	minLen := len(magic) + saltSize + mlkem768.CiphertextSize + ivSize + hmacSize
	if len(envelope) < minLen || string(envelope[:len(magic)]) != magic {
		return nil, nil, nil, nil, nil, ErrAuthFailure
	}
	offset := len(magic)

	salt = envelope[offset : offset+saltSize]
	offset += saltSize

	kemCiphertext = envelope[offset : offset+mlkem768.CiphertextSize]
	offset += mlkem768.CiphertextSize

	iv = envelope[offset : offset+ivSize]
	offset += ivSize

	mac = envelope[offset : offset+hmacSize]
	offset += hmacSize

	aesGcmCiphertext = envelope[offset:]
	if len(aesGcmCiphertext) == 0 {
		return nil, nil, nil, nil, nil, ErrAuthFailure
	}
	return salt, kemCiphertext, iv, mac, aesGcmCiphertext, nil
}

// deriveKeys runs HKDF-SHA256 over the shared secret, returning a 32-byte
// AES key and a 32-byte HMAC key per spec §4.4 step 3.
func deriveKeys(sharedSecret, salt []byte) (aesKey, hmacKey []byte, err error) {
	kdf := hkdf.New(sha256.New, sharedSecret, salt, []byte(hkdfInfo))
	derived := make([]byte, 64)
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, nil, fmt.Errorf("recryption: derive keys: %w", err)
	}
	return derived[:32], derived[32:], nil
}

func envelopeHMAC(hmacKey, kemCiphertext, iv []byte) []byte {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(kemCiphertext)
	mac.Write(iv)
	return mac.Sum(nil)
}

func aesGCMSeal(aesKey, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("recryption: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("recryption: gcm: %w", err)
	}
	return gcm.Seal(nil, iv, plaintext, nil), nil
}

func aesGCMOpen(aesKey, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm.Open(nil, iv, ciphertext, nil)
}
