/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package secretbox provides the authenticated encryption used for variable,
// credential and database-password payloads at rest. Ciphertexts are tagged
// with a key identifier so a future key rotation can be detected.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
)

// KeySize is the AES-256 key length consumed from the configured master key.
const KeySize = 32

// DefaultKeyID tags ciphertexts sealed under the initial master key.
const DefaultKeyID = "k1"

// Box seals and opens secret payloads. The zero value is unusable; construct
// with New or the process-wide Init.
type Box struct {
	keyID string
	aead  cipher.AEAD
}

var (
	once     sync.Once
	instance *Box
	initErr  error
)

// Init builds the process-wide box from the master key. Only the first call
// has an effect; its error is retained for subsequent callers.
func Init(masterKey []byte, keyID string) error {
	once.Do(func() {
		instance, initErr = New(masterKey, keyID)
	})
	return initErr
}

// Default returns the process-wide box initialized by Init.
func Default() *Box { return instance }

// New builds a box from the first KeySize bytes of masterKey.
func New(masterKey []byte, keyID string) (*Box, error) {
	if len(masterKey) < KeySize {
		return nil, fmt.Errorf("encryption key must be at least %d bytes, got %d", KeySize, len(masterKey))
	}
	if keyID == "" {
		keyID = DefaultKeyID
	}
	block, err := aes.NewCipher(masterKey[:KeySize])
	if err != nil {
		return nil, fmt.Errorf("building cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building GCM: %w", err)
	}
	return &Box{keyID: keyID, aead: aead}, nil
}

// KeyID returns the identifier new ciphertexts are tagged with.
func (b *Box) KeyID() string { return b.keyID }

// Seal encrypts plaintext under a fresh random nonce and returns
// "<keyID>:" + base64(nonce || ciphertext).
func (b *Box) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return b.keyID + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal. Tokens tagged with a different key
// id, truncated tokens and tokens failing authentication all yield a
// SECRET_INTEGRITY error. The plaintext is never logged here or by callers.
func (b *Box) Open(token string) ([]byte, error) {
	keyID, encoded, found := strings.Cut(token, ":")
	if !found {
		return nil, apierrors.NewSecretIntegrity("ciphertext is missing its key id")
	}
	if keyID != b.keyID {
		return nil, apierrors.NewSecretIntegrity(fmt.Sprintf("ciphertext sealed under unknown key id %q", keyID))
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apierrors.NewSecretIntegrity("ciphertext is not valid base64")
	}
	if len(raw) < b.aead.NonceSize() {
		return nil, apierrors.NewSecretIntegrity("ciphertext too short")
	}
	nonce, sealed := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apierrors.NewSecretIntegrity("ciphertext authentication failed")
	}
	return plain, nil
}
