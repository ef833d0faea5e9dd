package domain

import "math/big"

// EventKind identifies one of the contract events the indexer mirrors.
type EventKind string

const (
	EventKindCreated      EventKind = "created"
	EventKindClaimed      EventKind = "claimed"
	EventKindVrfRequested EventKind = "vrf_requested"
	EventKindRandomReady  EventKind = "random_ready"
	EventKindRefunded     EventKind = "refunded"
)

// EventKinds lists every kind in causal application order.
var EventKinds = []EventKind{
	EventKindCreated,
	EventKindRefunded,
	EventKindVrfRequested,
	EventKindRandomReady,
	EventKindClaimed,
}

// LogMeta is the chain position of the log an event was decoded from.
type LogMeta struct {
	BlockNumber uint64
	BlockHash   string
	TxHash      string
	LogIndex    uint
}

// Event is the closed set of decoded packet events.
// Implementations: *Created, *Claimed, *VrfRequested, *RandomReady, *Refunded.
type Event interface {
	Kind() EventKind
	Meta() LogMeta
	Packet() string
	isEvent()
}

// Created is emitted once when a packet is funded.
type Created struct {
	LogMeta
	PacketID    string
	Creator     string
	Token       string
	TotalAmount *big.Int
	Count       uint32
	IsRandom    bool
	ExpireTime  uint64

	// Resolved off chain by the normalizer.
	Symbol   string
	Decimals uint8
	Name     string
}

// Claimed is emitted for every successful on-chain claim.
type Claimed struct {
	LogMeta
	PacketID       string
	Claimer        string
	Amount         *big.Int
	RemainingCount uint32
}

// VrfRequested records the randomness request backing a random packet.
type VrfRequested struct {
	LogMeta
	PacketID  string
	RequestID *big.Int
}

// RandomReady marks that the random split of a packet is available.
type RandomReady struct {
	LogMeta
	PacketID string
}

// Refunded is emitted when the creator reclaims an expired packet.
type Refunded struct {
	LogMeta
	PacketID string
	Creator  string
	Amount   *big.Int
}

func (e *Created) Kind() EventKind      { return EventKindCreated }
func (e *Claimed) Kind() EventKind      { return EventKindClaimed }
func (e *VrfRequested) Kind() EventKind { return EventKindVrfRequested }
func (e *RandomReady) Kind() EventKind  { return EventKindRandomReady }
func (e *Refunded) Kind() EventKind     { return EventKindRefunded }

func (e *Created) Meta() LogMeta      { return e.LogMeta }
func (e *Claimed) Meta() LogMeta      { return e.LogMeta }
func (e *VrfRequested) Meta() LogMeta { return e.LogMeta }
func (e *RandomReady) Meta() LogMeta  { return e.LogMeta }
func (e *Refunded) Meta() LogMeta     { return e.LogMeta }

func (e *Created) Packet() string      { return e.PacketID }
func (e *Claimed) Packet() string      { return e.PacketID }
func (e *VrfRequested) Packet() string { return e.PacketID }
func (e *RandomReady) Packet() string  { return e.PacketID }
func (e *Refunded) Packet() string     { return e.PacketID }

func (*Created) isEvent()      {}
func (*Claimed) isEvent()      {}
func (*VrfRequested) isEvent() {}
func (*RandomReady) isEvent()  {}
func (*Refunded) isEvent()     {}
