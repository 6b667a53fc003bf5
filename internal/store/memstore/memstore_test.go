package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/store"
)

func TestSaveAndListReceiptsFiltersByTurn(t *testing.T) {
	s := New()
	ctx := context.Background()

	r1 := domain.Receipt{CallID: "c1", ToolPath: "math.add", StartedAt: time.Now(), FinishedAt: time.Now()}
	r2 := domain.Receipt{CallID: "c2", ToolPath: "calendar.update", StartedAt: time.Now(), FinishedAt: time.Now()}

	if err := s.SaveReceipt(ctx, "turn-a", r1); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}
	if err := s.SaveReceipt(ctx, "turn-b", r2); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}

	got, err := s.ListReceipts(ctx, store.ReceiptFilter{TurnID: "turn-a"})
	if err != nil {
		t.Fatalf("ListReceipts: %v", err)
	}
	if len(got) != 1 || got[0].CallID != "c1" {
		t.Fatalf("got %+v, want only turn-a's receipt", got)
	}
}

func TestListReceiptsRespectsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.SaveReceipt(ctx, "turn-a", domain.Receipt{CallID: string(rune('a' + i))})
	}
	got, err := s.ListReceipts(ctx, store.ReceiptFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListReceipts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestPutGetSecretRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.PutSecret(ctx, "call-1:apiKey", []byte("ciphertext")); err != nil {
		t.Fatalf("PutSecret: %v", err)
	}
	got, err := s.GetSecret(ctx, "call-1:apiKey")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if string(got) != "ciphertext" {
		t.Fatalf("got %q", got)
	}
}

func TestGetSecretMissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.GetSecret(context.Background(), "no-such-key")
	if err != store.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
