package secrets

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// AgeEncryptor encrypts and decrypts small blobs with a single X25519
// identity. One identity is enough here: agentrun is a single-process
// runtime, not a multi-tenant vault, so there is no need for the
// per-recipient access control a real age deployment would use.
type AgeEncryptor struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeEncryptor builds an AgeEncryptor from an identity's string form
// (the "AGE-SECRET-KEY-1..." encoding age-keygen produces).
func NewAgeEncryptor(identityStr string) (*AgeEncryptor, error) {
	id, err := age.ParseX25519Identity(identityStr)
	if err != nil {
		return nil, fmt.Errorf("secrets: parse age identity: %w", err)
	}
	return &AgeEncryptor{identity: id, recipient: id.Recipient()}, nil
}

// GenerateAgeIdentity creates a fresh identity, returned in its string
// form so callers can persist it (config file, env var) for reuse across
// restarts -- losing it makes every previously encrypted secret
// unrecoverable.
func GenerateAgeIdentity() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("secrets: generate age identity: %w", err)
	}
	return id.String(), nil
}

// Encrypt seals plaintext for the Encryptor's own recipient.
func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("secrets: open age writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("secrets: encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("secrets: finalize encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt opens a blob produced by Encrypt.
func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("secrets: open age reader: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt: %w", err)
	}
	return plaintext, nil
}
