package evm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
)

const erc20MetadataABI = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var errUndecodable = errors.New("undecodable return value")

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic("erc20 abi: " + err.Error())
	}
	return parsed
}()

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenResolver resolves ERC20 metadata with per-field fallbacks. Results are cached
// for the process lifetime since token metadata is immutable in practice.
type TokenResolver struct {
	caller ContractCaller
	native domain.TokenMetadata
	log    *slog.Logger

	mu    sync.RWMutex
	cache map[common.Address]domain.TokenMetadata
}

// NewTokenResolver creates a resolver. native describes the zero token address.
func NewTokenResolver(caller ContractCaller, native domain.TokenMetadata) *TokenResolver {
	return &TokenResolver{
		caller: caller,
		native: native,
		log:    slog.Default(),
		cache:  make(map[common.Address]domain.TokenMetadata),
	}
}

// Resolve never fails; unreadable fields fall back to UNKNOWN and 18 decimals.
func (r *TokenResolver) Resolve(ctx context.Context, token string) domain.TokenMetadata {
	if !common.IsHexAddress(token) {
		metrics.MetadataFallbacks.WithLabelValues("address").Inc()
		return domain.UnknownToken()
	}
	addr := common.HexToAddress(token)
	if addr == (common.Address{}) {
		return r.native
	}

	r.mu.RLock()
	cached, ok := r.cache[addr]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	meta := domain.UnknownToken()
	if s, err := r.callString(ctx, addr, "symbol"); err == nil && s != "" {
		meta.Symbol = s
	} else {
		r.fallback(addr, "symbol", err)
	}
	if s, err := r.callString(ctx, addr, "name"); err == nil && s != "" {
		meta.Name = s
	} else {
		r.fallback(addr, "name", err)
	}
	if d, err := r.callDecimals(ctx, addr); err == nil {
		meta.Decimals = d
	} else {
		r.fallback(addr, "decimals", err)
	}

	r.mu.Lock()
	r.cache[addr] = meta
	r.mu.Unlock()
	return meta
}

func (r *TokenResolver) fallback(addr common.Address, field string, err error) {
	metrics.MetadataFallbacks.WithLabelValues(field).Inc()
	r.log.Warn("Token metadata fallback", "token", addr.Hex(), "field", field, "error", err)
}

func (r *TokenResolver) call(ctx context.Context, addr common.Address, method string) ([]byte, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	return r.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
}

// callString accepts both string and bytes32 return values.
func (r *TokenResolver) callString(ctx context.Context, addr common.Address, method string) (string, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return "", err
	}
	var s string
	if err := erc20ABI.UnpackIntoInterface(&s, method, out); err == nil {
		return s, nil
	}
	if len(out) == 32 {
		return string(bytes.TrimRight(out, "\x00")), nil
	}
	return "", errUndecodable
}

func (r *TokenResolver) callDecimals(ctx context.Context, addr common.Address) (uint8, error) {
	out, err := r.call(ctx, addr, "decimals")
	if err != nil {
		return 0, err
	}
	var d uint8
	if err := erc20ABI.UnpackIntoInterface(&d, "decimals", out); err != nil {
		return 0, err
	}
	return d, nil
}
