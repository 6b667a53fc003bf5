// Package memstore is the in-memory store.Store implementation: the
// Store the runtime wires when `agentrund serve --no-persist` is given.
package memstore

import (
	"context"
	"sync"

	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/store"
)

// Store is a process-lifetime, mutex-guarded store.Store. Nothing it holds
// survives a restart.
type Store struct {
	mu       sync.Mutex
	receipts []receiptRow
	secrets  map[string][]byte
}

type receiptRow struct {
	turnID  string
	receipt domain.Receipt
}

// New builds an empty Store.
func New() *Store {
	return &Store{secrets: make(map[string][]byte)}
}

func (s *Store) SaveReceipt(ctx context.Context, turnID string, r domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, receiptRow{turnID: turnID, receipt: r})
	return nil
}

func (s *Store) ListReceipts(ctx context.Context, f store.ReceiptFilter) ([]domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Receipt
	for _, row := range s.receipts {
		if f.TurnID != "" && row.turnID != f.TurnID {
			continue
		}
		out = append(out, row.receipt)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PutSecret(ctx context.Context, key string, ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(ciphertext))
	copy(cp, ciphertext)
	s.secrets[key] = cp
	return nil
}

func (s *Store) GetSecret(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *Store) Close() error { return nil }
