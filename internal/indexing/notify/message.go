package notify

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
)

// Event names carried by Message.Event.
const (
	EventPacketCreated      = "packet.created"
	EventPacketClaimed      = "packet.claimed"
	EventPacketVrfRequested = "packet.vrf_requested"
	EventPacketRandomReady  = "packet.random_ready"
	EventPacketRefunded     = "packet.refunded"
	EventPacketRolledBack   = "packet.rolled_back"
	EventClaimCommitted     = "claim.committed"
)

// Message is a post-commit notification. Downstream consumers must treat it as a hint:
// delivery is best-effort and the mirror remains the source of truth.
type Message struct {
	Event     string    `json:"event"`
	PacketID  string    `json:"packetId"`
	Claimer   string    `json:"claimer,omitempty"`
	Amount    string    `json:"amount,omitempty"`    // base units
	Formatted string    `json:"formatted,omitempty"` // amount scaled by token decimals
	Symbol    string    `json:"symbol,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	Block     uint64    `json:"block,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode returns the JSON wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Publisher delivers encoded messages to a transport.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Sink accepts messages without blocking the caller.
type Sink interface {
	Notify(msg Message)
}

// WithAmount sets the raw and human-readable amount fields.
func (m Message) WithAmount(amount *big.Int, decimals uint8, symbol string) Message {
	if amount == nil {
		return m
	}
	m.Amount = amount.String()
	m.Formatted = decimal.NewFromBigInt(amount, -int32(decimals)).String()
	m.Symbol = symbol
	return m
}

// FromEvent builds the notification for an applied chain event.
func FromEvent(ev domain.Event, p *domain.Packet) Message {
	meta := ev.Meta()
	m := Message{
		PacketID:  ev.Packet(),
		TxHash:    meta.TxHash,
		Block:     meta.BlockNumber,
		Timestamp: time.Now().UTC(),
	}
	var decimals uint8 = domain.DefaultDecimals
	symbol := ""
	if p != nil {
		decimals, symbol = p.Decimals, p.Symbol
	}

	switch e := ev.(type) {
	case *domain.Created:
		m.Event = EventPacketCreated
		m = m.WithAmount(e.TotalAmount, e.Decimals, e.Symbol)
	case *domain.Claimed:
		m.Event = EventPacketClaimed
		m.Claimer = e.Claimer
		m = m.WithAmount(e.Amount, decimals, symbol)
	case *domain.VrfRequested:
		m.Event = EventPacketVrfRequested
	case *domain.RandomReady:
		m.Event = EventPacketRandomReady
	case *domain.Refunded:
		m.Event = EventPacketRefunded
		m = m.WithAmount(e.Amount, decimals, symbol)
	}
	return m
}
