// Package normalizer turns raw contract logs into typed packet events.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
)

var (
	// ErrMalformedLog is returned for logs that match a known event but can't be decoded
	// into a valid event.
	ErrMalformedLog = errors.New("malformed log")

	// ErrUnknownEvent is returned for logs whose signature isn't a packet event.
	ErrUnknownEvent = errors.New("unknown event")
)

// TokenResolver looks up ERC20 metadata. Implementations never fail: they substitute
// defaults for anything they can't read.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) domain.TokenMetadata
}

// Normalizer decodes contract logs.
type Normalizer struct {
	tokens TokenResolver
	kinds  map[common.Hash]domain.EventKind
	log    *slog.Logger
}

// New creates a normalizer. A nil resolver leaves every token as UNKNOWN.
func New(tokens TokenResolver, log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	kinds := make(map[common.Hash]domain.EventKind)
	for kind, topic := range Topics() {
		kinds[topic] = kind
	}
	return &Normalizer{tokens: tokens, kinds: kinds, log: log}
}

// Decode converts one log into a typed event.
func (n *Normalizer) Decode(ctx context.Context, lg types.Log) (domain.Event, error) {
	if lg.Removed {
		return nil, fmt.Errorf("%w: log removed by reorg", ErrMalformedLog)
	}
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrUnknownEvent)
	}
	kind, ok := n.kinds[lg.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, lg.Topics[0].Hex())
	}
	if len(lg.Topics) != topicCount[kind] {
		return nil, fmt.Errorf("%w: %s has %d topics, want %d", ErrMalformedLog, kind, len(lg.Topics), topicCount[kind])
	}

	meta := domain.LogMeta{
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
	}
	packetID := lg.Topics[1].Hex()

	switch kind {
	case domain.EventKindCreated:
		var data struct {
			TotalAmount *big.Int
			Count       uint32
			IsRandom    bool
			ExpireTime  uint64
		}
		if err := n.unpack(kind, &data, lg.Data); err != nil {
			return nil, err
		}
		if data.TotalAmount == nil || data.TotalAmount.Sign() <= 0 || data.Count == 0 {
			return nil, fmt.Errorf("%w: created %s with amount %v count %d", ErrMalformedLog, packetID, data.TotalAmount, data.Count)
		}
		token := common.BytesToAddress(lg.Topics[3].Bytes()).Hex()
		tok := n.resolve(ctx, token)
		return &domain.Created{
			LogMeta:     meta,
			PacketID:    packetID,
			Creator:     common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Token:       token,
			TotalAmount: data.TotalAmount,
			Count:       data.Count,
			IsRandom:    data.IsRandom,
			ExpireTime:  data.ExpireTime,
			Symbol:      tok.Symbol,
			Decimals:    tok.Decimals,
			Name:        tok.Name,
		}, nil

	case domain.EventKindClaimed:
		var data struct {
			Amount         *big.Int
			RemainingCount uint32
		}
		if err := n.unpack(kind, &data, lg.Data); err != nil {
			return nil, err
		}
		if data.Amount == nil {
			return nil, fmt.Errorf("%w: claimed %s without amount", ErrMalformedLog, packetID)
		}
		return &domain.Claimed{
			LogMeta:        meta,
			PacketID:       packetID,
			Claimer:        common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Amount:         data.Amount,
			RemainingCount: data.RemainingCount,
		}, nil

	case domain.EventKindVrfRequested:
		var data struct {
			RequestID *big.Int `abi:"requestId"`
		}
		if err := n.unpack(kind, &data, lg.Data); err != nil {
			return nil, err
		}
		if data.RequestID == nil {
			return nil, fmt.Errorf("%w: vrf request %s without id", ErrMalformedLog, packetID)
		}
		return &domain.VrfRequested{LogMeta: meta, PacketID: packetID, RequestID: data.RequestID}, nil

	case domain.EventKindRandomReady:
		return &domain.RandomReady{LogMeta: meta, PacketID: packetID}, nil

	case domain.EventKindRefunded:
		var data struct {
			Amount *big.Int
		}
		if err := n.unpack(kind, &data, lg.Data); err != nil {
			return nil, err
		}
		if data.Amount == nil {
			return nil, fmt.Errorf("%w: refund %s without amount", ErrMalformedLog, packetID)
		}
		return &domain.Refunded{
			LogMeta:  meta,
			PacketID: packetID,
			Creator:  common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Amount:   data.Amount,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
}

// DecodeAll decodes a batch, dropping bad logs with a warning. The result is sorted by
// chain position.
func (n *Normalizer) DecodeAll(ctx context.Context, kind domain.EventKind, logs []types.Log) []domain.Event {
	events := make([]domain.Event, 0, len(logs))
	for _, lg := range logs {
		ev, err := n.Decode(ctx, lg)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, ErrUnknownEvent) {
				reason = "unknown"
			}
			metrics.LogsDropped.WithLabelValues(string(kind), reason).Inc()
			n.log.Warn("Dropping log",
				"kind", kind,
				"block", lg.BlockNumber,
				"tx", lg.TxHash.Hex(),
				"index", lg.Index,
				"error", err,
			)
			continue
		}
		events = append(events, ev)
	}
	SortEvents(events)
	return events
}

// SortEvents orders events by block number then log index.
func SortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Meta(), events[j].Meta()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
}

func (n *Normalizer) unpack(kind domain.EventKind, out interface{}, data []byte) error {
	if err := packetABI.UnpackIntoInterface(out, eventNames[kind], data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedLog, kind, err)
	}
	return nil
}

func (n *Normalizer) resolve(ctx context.Context, token string) domain.TokenMetadata {
	if n.tokens == nil {
		return domain.UnknownToken()
	}
	return n.tokens.Resolve(ctx, token)
}
