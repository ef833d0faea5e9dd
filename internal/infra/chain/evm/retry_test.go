package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{errors.New("429 Too Many Requests"), ActionThrottle},
		{errors.New("project rate limit exceeded"), ActionThrottle},
		{errors.New("daily request count exceeded"), ActionThrottle},
		{errors.New("Invalid JSON-RPC request -32600"), ActionFatal},
		{errors.New("Method not found -32601"), ActionFatal},
		{errors.New("execution reverted"), ActionFatal},
		{ethereum.NotFound, ActionFatal},
		{context.Canceled, ActionFatal},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("500 Internal Server Error"), ActionRetry},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

type flakyBackend struct {
	failures int
	err      error
	calls    int
}

func (f *flakyBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.err
	}
	return 42, nil
}

func (f *flakyBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *flakyBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, ethereum.NotFound
}

func (f *flakyBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *flakyBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

var fastRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiple: 2}

func TestRetryingBackend_RecoversFromTransientErrors(t *testing.T) {
	next := &flakyBackend{failures: 2, err: errors.New("connection reset by peer")}
	b := WithRetry(next, fastRetry, nil)

	n, err := b.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber failed: %v", err)
	}
	if n != 42 || next.calls != 3 {
		t.Errorf("got %d after %d calls", n, next.calls)
	}
}

func TestRetryingBackend_GivesUp(t *testing.T) {
	next := &flakyBackend{failures: 10, err: errors.New("502 bad gateway")}
	b := WithRetry(next, fastRetry, nil)

	if _, err := b.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if next.calls != 3 {
		t.Errorf("calls = %d, want 3", next.calls)
	}
}

func TestRetryingBackend_FatalNotRetried(t *testing.T) {
	next := &flakyBackend{}
	b := WithRetry(next, fastRetry, nil)

	_, err := b.HeaderByNumber(context.Background(), big.NewInt(1))
	if !errors.Is(err, ethereum.NotFound) {
		t.Errorf("err = %v, want ethereum.NotFound", err)
	}
}
