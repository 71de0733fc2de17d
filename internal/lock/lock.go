// Package lock provides per-key latches acquired with a bounded wait.
package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"actgraph/internal/domain"
)

type latch struct {
	ch   chan struct{}
	refs int
}

// Table hands out one latch per key. Latches are created on demand and
// dropped once nobody holds or waits for them.
type Table struct {
	mu      sync.Mutex
	latches map[string]*latch
	timeout time.Duration
}

func NewTable(timeout time.Duration) *Table {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Table{latches: map[string]*latch{}, timeout: timeout}
}

func (t *Table) Timeout() time.Duration { return t.timeout }

func (t *Table) ref(key string) *latch {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.latches[key]
	if !ok {
		l = &latch{ch: make(chan struct{}, 1)}
		t.latches[key] = l
	}
	l.refs++
	return l
}

func (t *Table) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.latches[key]
	l.refs--
	if l.refs == 0 {
		delete(t.latches, key)
	}
}

// Acquire takes every key in a global order and returns the release func.
// It gives up with domain.ErrContentionTimeout once the table timeout or ctx
// expires, releasing whatever it already holds.
func (t *Table) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	held := make([]string, 0, len(keys))
	for _, k := range keys {
		l := t.ref(k)
		select {
		case l.ch <- struct{}{}:
			held = append(held, k)
		case <-timer.C:
			t.unref(k)
			t.releaseHeld(held)
			return nil, fmt.Errorf("lock %s after %s: %w", k, t.timeout, domain.ErrContentionTimeout)
		case <-ctx.Done():
			t.unref(k)
			t.releaseHeld(held)
			return nil, fmt.Errorf("lock %s: %w: %w", k, domain.ErrContentionTimeout, ctx.Err())
		}
	}
	var once sync.Once
	return func() { once.Do(func() { t.releaseHeld(held) }) }, nil
}

func (t *Table) releaseHeld(held []string) {
	for i := len(held) - 1; i >= 0; i-- {
		t.mu.Lock()
		l := t.latches[held[i]]
		t.mu.Unlock()
		<-l.ch
		t.unref(held[i])
	}
}

// AcquireActs is Acquire for act ids. Empty ids are skipped.
func (t *Table) AcquireActs(ctx context.Context, ids ...domain.ActID) (func(), error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, string(id))
		}
	}
	return t.Acquire(ctx, keys...)
}

// Held reports how many keys currently have a latch allocated.
func (t *Table) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.latches)
}
