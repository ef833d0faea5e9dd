package domain

import (
	"math/big"
	"time"
)

// PacketState is derived from the mirrored fields, it is never stored.
type PacketState string

const (
	PacketStateCreated          PacketState = "CREATED"
	PacketStatePartiallyClaimed PacketState = "PARTIALLY_CLAIMED"
	PacketStateExhausted        PacketState = "EXHAUSTED"
	PacketStateExpired          PacketState = "EXPIRED"
	PacketStateRefunded         PacketState = "REFUNDED"
)

// Token metadata defaults used when a token does not answer the ERC20 calls.
const (
	UnknownSymbol   = "UNKNOWN"
	UnknownName     = "UNKNOWN"
	DefaultDecimals = uint8(18)
)

// TokenMetadata describes the ERC20 token a packet is funded with.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// UnknownToken is the metadata used when nothing could be resolved.
func UnknownToken() TokenMetadata {
	return TokenMetadata{Symbol: UnknownSymbol, Name: UnknownName, Decimals: DefaultDecimals}
}

// MaxExpireTime is the latest expiry stored. Contracts use huge values such as
// type(uint64).max for "never expires"; they are clamped here so they stay in the future
// and fit a postgres timestamp.
var MaxExpireTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// ExpireAt converts an on-chain unix expiry in seconds, clamped to MaxExpireTime.
func ExpireAt(unix uint64) time.Time {
	if unix >= uint64(MaxExpireTime.Unix()) {
		return MaxExpireTime
	}
	return time.Unix(int64(unix), 0).UTC()
}

// Packet is the mirrored on-chain lucky-money object.
type Packet struct {
	PacketID        string
	Creator         string
	Token           string
	Symbol          string
	Decimals        uint8
	Name            string
	TotalAmount     *big.Int
	Count           uint32
	RemainingAmount *big.Int
	RemainingCount  uint32
	IsRandom        bool
	ExpireTime      time.Time

	// Provenance of the creating event only.
	BlockNumber uint64
	BlockHash   string
	TxHash      string

	VrfRequestID string
	RandomReady  bool
	Refunded     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State returns the lifecycle state at the given instant.
func (p *Packet) State(now time.Time) PacketState {
	switch {
	case p.Refunded:
		return PacketStateRefunded
	case p.RemainingCount == 0:
		return PacketStateExhausted
	case !p.ExpireTime.IsZero() && !now.Before(p.ExpireTime):
		return PacketStateExpired
	case p.RemainingCount < p.Count:
		return PacketStatePartiallyClaimed
	default:
		return PacketStateCreated
	}
}

// Claimable reports whether a claim may still be taken from the packet.
func (p *Packet) Claimable(now time.Time) bool {
	s := p.State(now)
	return s == PacketStateCreated || s == PacketStatePartiallyClaimed
}

// Clone returns a deep copy; big.Int fields are not shared.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	c := *p
	c.TotalAmount = cloneInt(p.TotalAmount)
	c.RemainingAmount = cloneInt(p.RemainingAmount)
	return &c
}

// Claim is a single claim on a packet, confirmed on chain or pending confirmation.
type Claim struct {
	PacketID    string
	Claimer     string
	Amount      *big.Int
	TxHash      string
	BlockNumber uint64
	BlockHash   string
	LogIndex    uint
	IsBest      bool
	CreatedAt   time.Time
}

// PendingTxPrefix marks claims written by the claim service before the chain confirms them.
const PendingTxPrefix = "pending:"

// Pending reports whether the claim still awaits its on-chain Claimed event.
func (c *Claim) Pending() bool {
	return c.BlockHash == "" && len(c.TxHash) >= len(PendingTxPrefix) &&
		c.TxHash[:len(PendingTxPrefix)] == PendingTxPrefix
}

// Clone returns a deep copy.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Amount = cloneInt(c.Amount)
	return &cp
}

// BlockRef is a recorded (block number, block hash) provenance pair.
type BlockRef struct {
	Number uint64
	Hash   string
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
