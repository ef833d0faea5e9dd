package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	// ActionThrottle retries after the longest delay; the node is rate limiting us.
	ActionThrottle
	ActionFatal
)

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ethereum.NotFound) {
		return ActionFatal
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") ||
		strings.Contains(sLower, "execution reverted") {
		return ActionFatal
	}

	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(sLower, "rate limit") || strings.Contains(sLower, "quota") ||
		strings.Contains(sLower, "count exceeded") {
		return ActionThrottle
	}

	// Network, 5xx, etc
	return ActionRetry
}

// RetryingBackend retries transient RPC failures with exponential backoff.
type RetryingBackend struct {
	next Backend
	cfg  RetryConfig
	log  *slog.Logger
}

// WithRetry wraps backend. A non-positive MaxAttempts disables retries.
func WithRetry(backend Backend, cfg RetryConfig, log *slog.Logger) *RetryingBackend {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiple < 1 {
		cfg.BackoffMultiple = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &RetryingBackend{next: backend, cfg: cfg, log: log}
}

func (b *RetryingBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, b, "eth_blockNumber", b.next.BlockNumber)
}

func (b *RetryingBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, b, "eth_chainId", b.next.ChainID)
}

func (b *RetryingBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, b, "eth_getBlockByNumber", func(ctx context.Context) (*types.Header, error) {
		return b.next.HeaderByNumber(ctx, number)
	})
}

func (b *RetryingBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return call(ctx, b, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return b.next.FilterLogs(ctx, q)
	})
}

func (b *RetryingBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, b, "eth_call", func(ctx context.Context) ([]byte, error) {
		return b.next.CallContract(ctx, msg, blockNumber)
	})
}

func call[T any](ctx context.Context, b *RetryingBackend, method string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < b.cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		action := ClassifyError(err)
		if action == ActionFatal {
			return zero, err
		}
		if attempt == b.cfg.MaxAttempts-1 {
			break
		}

		delay := b.backoff(attempt)
		if action == ActionThrottle {
			delay = b.cfg.MaxDelay
		}
		b.log.Debug("RPC call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	if b.cfg.MaxAttempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", method, b.cfg.MaxAttempts, lastErr)
}

func (b *RetryingBackend) backoff(attempt int) time.Duration {
	delay := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.BackoffMultiple, float64(attempt))
	if delay > float64(b.cfg.MaxDelay) {
		delay = float64(b.cfg.MaxDelay)
	}
	return time.Duration(delay)
}
