// Package claim serves off-chain claim requests against the mirror.
//
// A request passes an idempotency gate keyed by the client key, then a lease on
// (packet, claimer) so that concurrent requests for the same pair are mutually
// exclusive. The claim itself is written as a pending row that the applier later
// confirms when the on-chain Claimed event arrives.
package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// Status of a served claim.
type Status string

const (
	StatusClaimed        Status = "claimed"
	StatusAlreadyClaimed Status = "already_claimed"
)

// Request is a client claim request.
type Request struct {
	IdempotencyKey string
	PacketID       string
	Claimer        string
}

// Response is the stored and replayed result of a request.
type Response struct {
	Status    Status `json:"status"`
	PacketID  string `json:"packetId"`
	Claimer   string `json:"claimer"`
	Amount    string `json:"amount"`
	TxHash    string `json:"txHash"`
	Remaining string `json:"remaining"`
	// Replayed is set on responses served from the idempotency cache.
	Replayed bool `json:"-"`
}

type Config struct {
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
}

// Service executes claims.
type Service struct {
	store  storage.Store
	gate   *Gate
	locker *Locker
	sink   notify.Sink
	cfg    Config
	rnd    RandInt
	now    func() time.Time
	log    *slog.Logger
}

// NewService creates a claim service. gate and sink may be nil.
func NewService(store storage.Store, gate *Gate, locker *Locker, sink notify.Sink, cfg Config, log *slog.Logger) *Service {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		gate:   gate,
		locker: locker,
		sink:   sink,
		cfg:    cfg,
		rnd:    CryptoRand,
		now:    time.Now,
		log:    log.With("component", "claim"),
	}
}

// Claim serves one request. Requests carrying an idempotency key that already completed
// get the stored response back.
func (s *Service) Claim(ctx context.Context, req Request) (*Response, error) {
	// Match the forms the normalizer stores: checksummed addresses, lowercase ids.
	if req.PacketID == "" || !common.IsHexAddress(req.Claimer) {
		metrics.ClaimRequests.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidRequest
	}
	req.Claimer = common.HexToAddress(req.Claimer).Hex()
	req.PacketID = strings.ToLower(req.PacketID)

	if s.gate == nil || req.IdempotencyKey == "" {
		resp, err := s.claim(ctx, req)
		s.record(resp, err)
		return resp, err
	}

	raw, replayed, err := s.gate.Do(ctx, "claim:"+req.IdempotencyKey, func(ctx context.Context) ([]byte, error) {
		resp, err := s.claim(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		s.record(nil, err)
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	resp.Replayed = replayed
	if replayed {
		metrics.ClaimRequests.WithLabelValues("replayed").Inc()
	} else {
		s.record(&resp, nil)
	}
	return &resp, nil
}

func (s *Service) claim(ctx context.Context, req Request) (*Response, error) {
	lease, err := s.locker.Acquire(ctx, "claim:"+req.PacketID+":"+req.Claimer, s.cfg.LockTTL)
	if errors.Is(err, ErrLockNotAcquired) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("Claim lease lost before release", "key", lease.Key(), "error", err)
		}
	}()

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = uow.Rollback()
		}
	}()

	p, err := uow.GetPacketForUpdate(ctx, req.PacketID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPacketNotFound
	}
	if err != nil {
		return nil, err
	}

	existing, err := uow.GetClaim(ctx, req.PacketID, req.Claimer)
	switch {
	case err == nil:
		return &Response{
			Status:    StatusAlreadyClaimed,
			PacketID:  p.PacketID,
			Claimer:   existing.Claimer,
			Amount:    existing.Amount.String(),
			TxHash:    existing.TxHash,
			Remaining: p.RemainingAmount.String(),
		}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	switch p.State(s.now()) {
	case domain.PacketStateRefunded:
		return nil, ErrPacketRefunded
	case domain.PacketStateExhausted:
		return nil, ErrPacketExhausted
	case domain.PacketStateExpired:
		return nil, ErrPacketExpired
	}
	if p.RemainingAmount.Sign() <= 0 {
		return nil, ErrPacketExhausted
	}

	amount, err := Split(p.RemainingAmount, p.RemainingCount, p.IsRandom, s.rnd)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	if amount.Cmp(p.RemainingAmount) > 0 {
		amount = new(big.Int).Set(p.RemainingAmount)
	}

	c := &domain.Claim{
		PacketID: p.PacketID,
		Claimer:  req.Claimer,
		Amount:   amount,
		TxHash:   domain.PendingTxPrefix + uuid.NewString(),
	}
	inserted, err := uow.InsertClaim(ctx, c)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("insert claim: %w", storage.ErrDuplicate)
	}

	p.RemainingAmount.Sub(p.RemainingAmount, amount)
	p.RemainingCount--
	if p.IsRandom {
		if err := uow.RecomputeBestClaims(ctx, p.PacketID); err != nil {
			return nil, err
		}
	}
	if err := uow.UpdatePacket(ctx, p); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	s.log.Info("Claim committed",
		"packet_id", p.PacketID,
		"claimer", req.Claimer,
		"amount", amount.String(),
		"remaining_count", p.RemainingCount,
	)
	if s.sink != nil {
		s.sink.Notify(notify.Message{
			Event:     notify.EventClaimCommitted,
			PacketID:  p.PacketID,
			Claimer:   req.Claimer,
			TxHash:    c.TxHash,
			Timestamp: s.now().UTC(),
		}.WithAmount(amount, p.Decimals, p.Symbol))
	}

	return &Response{
		Status:    StatusClaimed,
		PacketID:  p.PacketID,
		Claimer:   req.Claimer,
		Amount:    amount.String(),
		TxHash:    c.TxHash,
		Remaining: p.RemainingAmount.String(),
	}, nil
}

func (s *Service) record(resp *Response, err error) {
	result := "error"
	switch {
	case err == nil && resp != nil:
		result = string(resp.Status)
	case errors.Is(err, ErrBusy), errors.Is(err, ErrInProgress):
		result = "busy"
	case errors.Is(err, ErrPacketNotFound), errors.Is(err, ErrPacketExpired),
		errors.Is(err, ErrPacketExhausted), errors.Is(err, ErrPacketRefunded):
		result = "rejected"
	}
	metrics.ClaimRequests.WithLabelValues(result).Inc()
}
