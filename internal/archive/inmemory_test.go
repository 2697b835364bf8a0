package archive

import (
	"context"
	"fmt"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.SaveExchange(ctx, ExchangeRecord{
			UID:     "u1",
			TurnID:  fmt.Sprintf("t%d", i),
			Role:    "user",
			Content: fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("SaveExchange() error = %v", err)
		}
	}

	got, err := s.RecentExchanges(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("RecentExchanges() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Content != "message 2" || got[2].Content != "message 4" {
		t.Fatalf("window = [%s..%s], want [message 2..message 4]", got[0].Content, got[2].Content)
	}
	if got[0].ID == "" {
		t.Fatalf("record ID was not assigned")
	}
}

func TestInMemoryStoreUnknownUser(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.RecentExchanges(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("RecentExchanges() error = %v", err)
	}
	if got != nil {
		t.Fatalf("RecentExchanges() = %v, want nil", got)
	}
}

func TestFactoryDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}
}
