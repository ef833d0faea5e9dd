package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingTarget struct {
	calls atomic.Int32
	drop  int
}

func (c *countingTarget) Prune(now time.Time) int {
	c.calls.Add(1)
	return c.drop
}

func TestPruner_Prune(t *testing.T) {
	a := &countingTarget{drop: 2}
	b := &countingTarget{drop: 3}
	p := NewPruner(time.Minute, map[string]Prunable{"a": a, "b": b}, nil)

	if got := p.Prune(); got != 5 {
		t.Errorf("Prune() = %d, want 5", got)
	}
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Errorf("calls = %d, %d", a.calls.Load(), b.calls.Load())
	}
}

func TestPruner_StartTicksUntilCancelled(t *testing.T) {
	target := &countingTarget{}
	p := NewPruner(5*time.Millisecond, map[string]Prunable{"t": target}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for target.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if target.calls.Load() < 2 {
		t.Errorf("calls = %d, want at least 2", target.calls.Load())
	}
}

func TestPruner_DisabledReturnsImmediately(t *testing.T) {
	p := NewPruner(0, map[string]Prunable{"t": &countingTarget{}}, nil)
	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled pruner did not return")
	}
}
