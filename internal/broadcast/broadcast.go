// Package broadcast fans out "X changed" notifications so presentation
// layers can push updates. One interface, two implementations: NATS-backed
// when a broker is configured, so multiple process instances converge on
// the same externally visible stream, and an in-process approximation for
// single-instance deployments.
package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind tags the logical channel a message belongs to.
type Kind string

const (
	KindOrderBook       Kind = "order_book"
	KindTrades          Kind = "trades"
	KindPositions       Kind = "positions"
	KindOrders          Kind = "orders"
	KindPrice           Kind = "price"
	KindAuctionExecuted Kind = "auction_executed"
)

// Message is one fan-out notification. Exactly one of MarketID or Address
// is set, depending on the kind's scope.
type Message struct {
	Kind     Kind        `json:"kind"`
	MarketID string      `json:"market_id,omitempty"`
	Address  string      `json:"address,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Origin   uuid.UUID   `json:"origin"`
	At       time.Time   `json:"at"`
}

// Scope returns the message's routing key.
func (m Message) Scope() string {
	if m.MarketID != "" {
		return m.MarketID
	}
	return m.Address
}

// Broadcaster publishes change notifications and hands out subscriptions.
type Broadcaster interface {
	// Publish sends one notification. Failures are reported but callers
	// treat fan-out as best-effort: the mirror remains the source of truth.
	Publish(ctx context.Context, msg Message) error

	// Subscribe delivers messages of one kind until ctx is cancelled. The
	// returned channel is closed when delivery stops.
	Subscribe(ctx context.Context, kind Kind) (<-chan Message, error)

	// Close releases broker resources.
	Close() error
}
