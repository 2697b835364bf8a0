package archive

import (
	"context"
	"time"
)

// ExchangeRecord stores one side of a finalized exchange: the user's turn or
// the assistant's full reply.
type ExchangeRecord struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	TurnID    string    `json:"turn_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists finalized exchanges for later inspection. Writes are
// best-effort from the pipeline's point of view.
type Store interface {
	SaveExchange(ctx context.Context, record ExchangeRecord) error
	RecentExchanges(ctx context.Context, uid string, limit int) ([]ExchangeRecord, error)
	Close() error
}
