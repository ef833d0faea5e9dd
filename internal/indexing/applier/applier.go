// Package applier writes decoded packet events into the mirror store.
//
// Every event is applied in its own unit of work and is idempotent: replaying an event
// that is already reflected leaves the store untouched and reports OutcomeDuplicate.
// This is what makes the at-least-once delivery of the poller and overlapping backfill
// ranges safe.
package applier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// Outcome is the result of applying one event.
type Outcome string

const (
	// OutcomeApplied means the event changed the mirror.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event was already reflected.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDeferred means the event references a packet that is not mirrored yet.
	OutcomeDeferred Outcome = "deferred"
)

// Applier applies events to a store and notifies after commit.
type Applier struct {
	store storage.Store
	sink  notify.Sink
	log   *slog.Logger
}

// New creates an applier. sink may be nil.
func New(store storage.Store, sink notify.Sink, log *slog.Logger) *Applier {
	if log == nil {
		log = slog.Default()
	}
	return &Applier{store: store, sink: sink, log: log}
}

// Apply applies a single event in one transaction.
func (a *Applier) Apply(ctx context.Context, ev domain.Event) (Outcome, error) {
	uow, err := a.store.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = uow.Rollback()
		}
	}()

	var (
		outcome Outcome
		packet  *domain.Packet
	)
	switch e := ev.(type) {
	case *domain.Created:
		outcome, packet, err = a.applyCreated(ctx, uow, e)
	case *domain.Claimed:
		outcome, packet, err = a.applyClaimed(ctx, uow, e)
	case *domain.VrfRequested:
		outcome, packet, err = a.applyVrfRequested(ctx, uow, e)
	case *domain.RandomReady:
		outcome, packet, err = a.applyRandomReady(ctx, uow, e)
	case *domain.Refunded:
		outcome, packet, err = a.applyRefunded(ctx, uow, e)
	default:
		err = fmt.Errorf("unsupported event %T", ev)
	}
	if err != nil {
		return "", fmt.Errorf("apply %s %s: %w", ev.Kind(), ev.Packet(), err)
	}

	if outcome != OutcomeApplied {
		metrics.EventsApplied.WithLabelValues(string(ev.Kind()), string(outcome)).Inc()
		return outcome, nil
	}

	if err := uow.Commit(); err != nil {
		return "", fmt.Errorf("commit %s %s: %w", ev.Kind(), ev.Packet(), err)
	}
	committed = true
	metrics.EventsApplied.WithLabelValues(string(ev.Kind()), string(outcome)).Inc()

	if a.sink != nil {
		a.sink.Notify(notify.FromEvent(ev, packet))
	}
	return outcome, nil
}

func (a *Applier) applyCreated(ctx context.Context, uow storage.UnitOfWork, e *domain.Created) (Outcome, *domain.Packet, error) {
	p := &domain.Packet{
		PacketID:        e.PacketID,
		Creator:         e.Creator,
		Token:           e.Token,
		Symbol:          e.Symbol,
		Decimals:        e.Decimals,
		Name:            e.Name,
		TotalAmount:     new(big.Int).Set(e.TotalAmount),
		Count:           e.Count,
		RemainingAmount: new(big.Int).Set(e.TotalAmount),
		RemainingCount:  e.Count,
		IsRandom:        e.IsRandom,
		ExpireTime:      domain.ExpireAt(e.ExpireTime),
		BlockNumber:     e.BlockNumber,
		BlockHash:       e.BlockHash,
		TxHash:          e.TxHash,
	}
	inserted, err := uow.InsertPacket(ctx, p)
	if err != nil {
		return "", nil, err
	}
	if !inserted {
		return OutcomeDuplicate, nil, nil
	}
	return OutcomeApplied, p, nil
}

func (a *Applier) applyClaimed(ctx context.Context, uow storage.UnitOfWork, e *domain.Claimed) (Outcome, *domain.Packet, error) {
	p, err := uow.GetPacketForUpdate(ctx, e.PacketID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeDeferred, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	exists, err := uow.ClaimTxExists(ctx, e.TxHash)
	if err != nil {
		return "", nil, err
	}
	if exists {
		return OutcomeDuplicate, nil, nil
	}

	claim := &domain.Claim{
		PacketID:    e.PacketID,
		Claimer:     e.Claimer,
		Amount:      new(big.Int).Set(e.Amount),
		TxHash:      e.TxHash,
		BlockNumber: e.BlockNumber,
		BlockHash:   e.BlockHash,
		LogIndex:    e.LogIndex,
	}

	existing, err := uow.GetClaim(ctx, e.PacketID, e.Claimer)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		inserted, err := uow.InsertClaim(ctx, claim)
		if err != nil {
			return "", nil, err
		}
		if !inserted {
			return OutcomeDuplicate, nil, nil
		}
		p.RemainingAmount.Sub(p.RemainingAmount, e.Amount)

	case err != nil:
		return "", nil, err

	case existing.Pending():
		// The claim service reserved this claim before the chain confirmed it.
		if err := uow.ConfirmClaim(ctx, existing.TxHash, claim); err != nil {
			return "", nil, err
		}
		p.RemainingAmount.Add(p.RemainingAmount, existing.Amount)
		p.RemainingAmount.Sub(p.RemainingAmount, e.Amount)

	default:
		a.log.Warn("Second claim by the same claimer ignored",
			"packet_id", e.PacketID,
			"claimer", e.Claimer,
			"stored_tx", existing.TxHash,
			"tx", e.TxHash,
		)
		return OutcomeDuplicate, nil, nil
	}

	if p.RemainingAmount.Sign() < 0 {
		a.log.Error("Claims exceed packet total, clamping remaining amount",
			"packet_id", e.PacketID,
			"remaining", p.RemainingAmount.String(),
		)
		p.RemainingAmount.SetInt64(0)
	}
	p.RemainingCount = e.RemainingCount

	if p.IsRandom {
		if err := uow.RecomputeBestClaims(ctx, p.PacketID); err != nil {
			return "", nil, err
		}
	}
	if err := uow.UpdatePacket(ctx, p); err != nil {
		return "", nil, err
	}
	return OutcomeApplied, p, nil
}

func (a *Applier) applyVrfRequested(ctx context.Context, uow storage.UnitOfWork, e *domain.VrfRequested) (Outcome, *domain.Packet, error) {
	p, err := uow.GetPacketForUpdate(ctx, e.PacketID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeDeferred, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	requestID := "0"
	if e.RequestID != nil {
		requestID = e.RequestID.String()
	}
	if p.VrfRequestID == requestID {
		return OutcomeDuplicate, nil, nil
	}
	p.VrfRequestID = requestID
	if err := uow.UpdatePacket(ctx, p); err != nil {
		return "", nil, err
	}
	return OutcomeApplied, p, nil
}

func (a *Applier) applyRandomReady(ctx context.Context, uow storage.UnitOfWork, e *domain.RandomReady) (Outcome, *domain.Packet, error) {
	p, err := uow.GetPacketForUpdate(ctx, e.PacketID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeDeferred, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if p.RandomReady {
		return OutcomeDuplicate, nil, nil
	}
	p.RandomReady = true
	if err := uow.UpdatePacket(ctx, p); err != nil {
		return "", nil, err
	}
	return OutcomeApplied, p, nil
}

func (a *Applier) applyRefunded(ctx context.Context, uow storage.UnitOfWork, e *domain.Refunded) (Outcome, *domain.Packet, error) {
	p, err := uow.GetPacketForUpdate(ctx, e.PacketID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeDeferred, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if p.Refunded {
		return OutcomeDuplicate, nil, nil
	}
	p.Refunded = true
	p.RemainingAmount = new(big.Int)
	if err := uow.UpdatePacket(ctx, p); err != nil {
		return "", nil, err
	}
	return OutcomeApplied, p, nil
}
