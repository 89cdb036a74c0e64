// Package barrier provides a generation-counter synchronization primitive.
//
// Operations register in the current phase with Enter and deregister with
// Leave. Advance bumps the phase and returns a token; AwaitQuiescence
// completes once every operation that began in phases at or before the
// token's phase has left. The cache and the memtable use this to reclaim a
// superseded snapshot only after no reader can still dereference it:
// ownership of the superseded resource transfers when the await resolves,
// so freeing too early is impossible by construction.
package barrier

import (
	"context"
	"sync"
)

// Barrier is a phased barrier. The zero value is ready to use at phase 0.
type Barrier struct {
	mu      sync.Mutex
	phase   uint64
	live    map[uint64]int // phase -> in-flight operations
	waiters []waiter
}

type waiter struct {
	target uint64 // completes once no live ops in phases <= target
	ch     chan struct{}
}

// Token identifies an Advance call.
type Token struct {
	phase uint64
}

// Op is an in-flight operation registered with the barrier.
type Op struct {
	b     *Barrier
	phase uint64
	done  bool
}

// Phase returns the phase the operation registered in.
func (o *Op) Phase() uint64 { return o.phase }

// Phase returns the current phase.
func (b *Barrier) Phase() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Enter registers an operation in the current phase.
func (b *Barrier) Enter() *Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enterAt(b.phase)
}

// EnterAt registers an operation in an earlier phase. Used when the
// operation reads a snapshot that belongs to a phase the barrier has
// already moved past; quiescence of that phase then waits for it.
// Phases after the current one are clamped to the current one.
func (b *Barrier) EnterAt(phase uint64) *Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	if phase > b.phase {
		phase = b.phase
	}
	return b.enterAt(phase)
}

// enterAt registers at the given phase. Caller holds mu.
func (b *Barrier) enterAt(phase uint64) *Op {
	if b.live == nil {
		b.live = make(map[uint64]int)
	}
	b.live[phase]++
	return &Op{b: b, phase: phase}
}

// Leave ends the operation. Idempotent.
func (o *Op) Leave() {
	if o == nil || o.done {
		return
	}
	o.done = true
	b := o.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live[o.phase]--
	if b.live[o.phase] <= 0 {
		delete(b.live, o.phase)
	}
	b.wake()
}

// Advance increments the phase and returns a token covering every phase
// before the increment.
func (b *Barrier) Advance() Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := Token{phase: b.phase}
	b.phase++
	return t
}

// AwaitQuiescence blocks until every operation that began in phases at or
// before the token's phase has left, or ctx is canceled.
func (b *Barrier) AwaitQuiescence(ctx context.Context, t Token) error {
	b.mu.Lock()
	if b.quietAt(t.phase) {
		b.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, waiter{target: t.phase, ch: ch})
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// quietAt reports whether no operation is live in phases <= target.
// Caller holds mu.
func (b *Barrier) quietAt(target uint64) bool {
	for phase, n := range b.live {
		if phase <= target && n > 0 {
			return false
		}
	}
	return true
}

// wake completes waiters whose target phase became quiescent.
// Caller holds mu.
func (b *Barrier) wake() {
	kept := b.waiters[:0]
	for _, w := range b.waiters {
		if b.quietAt(w.target) {
			close(w.ch)
		} else {
			kept = append(kept, w)
		}
	}
	b.waiters = kept
}
