package postgres

import (
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
)

// Amounts travel as decimal text so uint256 values never pass through a float.
const packetColumns = `packet_id, creator, token, symbol, decimals, name,
	total_amount::text AS total_amount, count,
	remaining_amount::text AS remaining_amount, remaining_count,
	is_random, expire_time, block_number, block_hash, tx_hash,
	vrf_request_id, random_ready, refunded, created_at, updated_at`

const claimColumns = `packet_id, claimer, amount::text AS amount, tx_hash,
	block_number, block_hash, log_index, is_best, created_at`

type packetRow struct {
	PacketID        string    `db:"packet_id"`
	Creator         string    `db:"creator"`
	Token           string    `db:"token"`
	Symbol          string    `db:"symbol"`
	Decimals        int16     `db:"decimals"`
	Name            string    `db:"name"`
	TotalAmount     string    `db:"total_amount"`
	Count           int64     `db:"count"`
	RemainingAmount string    `db:"remaining_amount"`
	RemainingCount  int64     `db:"remaining_count"`
	IsRandom        bool      `db:"is_random"`
	ExpireTime      time.Time `db:"expire_time"`
	BlockNumber     int64     `db:"block_number"`
	BlockHash       string    `db:"block_hash"`
	TxHash          string    `db:"tx_hash"`
	VrfRequestID    string    `db:"vrf_request_id"`
	RandomReady     bool      `db:"random_ready"`
	Refunded        bool      `db:"refunded"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *packetRow) toDomain() (*domain.Packet, error) {
	total, err := parseAmount(r.TotalAmount)
	if err != nil {
		return nil, err
	}
	remaining, err := parseAmount(r.RemainingAmount)
	if err != nil {
		return nil, err
	}
	return &domain.Packet{
		PacketID:        r.PacketID,
		Creator:         r.Creator,
		Token:           r.Token,
		Symbol:          r.Symbol,
		Decimals:        uint8(r.Decimals),
		Name:            r.Name,
		TotalAmount:     total,
		Count:           uint32(r.Count),
		RemainingAmount: remaining,
		RemainingCount:  uint32(r.RemainingCount),
		IsRandom:        r.IsRandom,
		ExpireTime:      r.ExpireTime,
		BlockNumber:     uint64(r.BlockNumber),
		BlockHash:       r.BlockHash,
		TxHash:          r.TxHash,
		VrfRequestID:    r.VrfRequestID,
		RandomReady:     r.RandomReady,
		Refunded:        r.Refunded,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

type claimRow struct {
	PacketID    string    `db:"packet_id"`
	Claimer     string    `db:"claimer"`
	Amount      string    `db:"amount"`
	TxHash      string    `db:"tx_hash"`
	BlockNumber int64     `db:"block_number"`
	BlockHash   string    `db:"block_hash"`
	LogIndex    int64     `db:"log_index"`
	IsBest      bool      `db:"is_best"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *claimRow) toDomain() (*domain.Claim, error) {
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	return &domain.Claim{
		PacketID:    r.PacketID,
		Claimer:     r.Claimer,
		Amount:      amount,
		TxHash:      r.TxHash,
		BlockNumber: uint64(r.BlockNumber),
		BlockHash:   r.BlockHash,
		LogIndex:    uint(r.LogIndex),
		IsBest:      r.IsBest,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func refArrays(refs []domain.BlockRef) (interface{}, interface{}) {
	numbers := make([]int64, len(refs))
	hashes := make([]string, len(refs))
	for i, ref := range refs {
		numbers[i] = int64(ref.Number)
		hashes[i] = ref.Hash
	}
	return pq.Array(numbers), pq.Array(hashes)
}
