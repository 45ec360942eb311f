// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	tokenEncryptionSalt = "leadsync-integration-tokens"
	tokenEncryptionInfo = "token-encryption-v1"
	aesKeySize          = 32
	gcmNonceSize        = 12
)

var (
	ErrEmptySecret        = errors.New("encryption secret cannot be empty")
	ErrEmptyPlaintext     = errors.New("plaintext cannot be empty")
	ErrEmptyCiphertext    = errors.New("ciphertext cannot be empty")
	ErrDecryptionFailed   = errors.New("decryption failed: invalid ciphertext or authentication tag")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext format")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// CredentialEncryptor encrypts OAuth tokens at rest with AES-256-GCM.
// The key is derived from the configured secret with HKDF-SHA256.
//
// Ciphertext format: base64(nonce || sealed || tag).
type CredentialEncryptor struct {
	cipher cipher.AEAD
}

// NewCredentialEncryptor derives a key from secret and returns an encryptor.
func NewCredentialEncryptor(secret string) (*CredentialEncryptor, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &CredentialEncryptor{cipher: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.cipher.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (e *CredentialEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", ErrEmptyCiphertext
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed: %s", ErrInvalidCiphertext, err.Error())
	}

	// nonce + at least one byte + tag
	if len(data) < gcmNonceSize+1+e.cipher.Overhead() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := e.cipher.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// MaskCredential shows only the last 4 characters of a credential.
func MaskCredential(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 4 {
		return "****"
	}
	return "****..." + credential[len(credential)-4:]
}

func deriveKey(secret string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), []byte(tokenEncryptionSalt), []byte(tokenEncryptionInfo))

	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to read HKDF output: %w", err)
	}
	return key, nil
}
