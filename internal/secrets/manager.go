// Package secrets protects the raw values behind a tool's declared
// SecretFields wherever they would otherwise be durably persisted. The
// live, in-memory Receipt.InputPreview is already redacted by
// toolreg.Tool.PreviewInput / domain.RedactFields before this package ever
// sees it; Manager's job is the sqlite store's audit-history path, where an
// operator may legitimately need to recover a secret value later (e.g.
// re-running a failed call) without the raw value ever sitting in the
// database in plaintext.
package secrets

import (
	"context"
	"fmt"

	"github.com/revittco/agentrun/internal/domain"
)

// Store persists one encrypted blob per secret key. internal/store/sqlite
// is the real implementation; internal/store/memstore backs tests.
type Store interface {
	PutSecret(ctx context.Context, key string, ciphertext []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
}

// Manager redacts a tool call's secret fields for durable persistence and
// recovers them later by key.
type Manager struct {
	store     Store
	encryptor *AgeEncryptor
}

// NewManager builds a Manager.
func NewManager(store Store, encryptor *AgeEncryptor) *Manager {
	return &Manager{store: store, encryptor: encryptor}
}

// secretKey namespaces a stored secret to the call and field it came from,
// so two tools (or two calls of the same tool) never collide.
func secretKey(callID, field string) string {
	return callID + ":" + field
}

// RedactForPersistence returns the redacted input a Receipt should carry
// once written to durable storage, after first encrypting and stashing
// each SecretFields value under its own key so it can be recovered with
// Reveal. A tool with no SecretFields is a no-op passthrough.
func (m *Manager) RedactForPersistence(ctx context.Context, callID string, input []byte, secretFields []string) ([]byte, error) {
	redacted, extracted := domain.RedactFields(input, secretFields)
	for field, value := range extracted {
		ciphertext, err := m.encryptor.Encrypt([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("secrets: encrypt %s.%s: %w", callID, field, err)
		}
		if err := m.store.PutSecret(ctx, secretKey(callID, field), ciphertext); err != nil {
			return nil, fmt.Errorf("secrets: persist %s.%s: %w", callID, field, err)
		}
	}
	return redacted, nil
}

// Reveal decrypts a previously stashed secret field's raw value.
func (m *Manager) Reveal(ctx context.Context, callID, field string) (string, error) {
	ciphertext, err := m.store.GetSecret(ctx, secretKey(callID, field))
	if err != nil {
		return "", fmt.Errorf("secrets: load %s.%s: %w", callID, field, err)
	}
	plaintext, err := m.encryptor.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt %s.%s: %w", callID, field, err)
	}
	return string(plaintext), nil
}
