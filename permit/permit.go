package permit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryExhausted is returned when a reservation would exceed the
// configured memory limit.
var ErrMemoryExhausted = errors.New("permit: memory limit exhausted")

// Config holds resource limits. Zero values mean unlimited.
type Config struct {
	// MemoryLimitBytes is the hard limit for memory reserved through
	// permits. If 0, reservations are tracked but never denied.
	MemoryLimitBytes int64

	// MaxConcurrentReads bounds the number of admitted readers.
	// If 0, admission never blocks.
	MaxConcurrentReads int64

	// IOLimitBytesPerSec paces background IO (flush, compaction).
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages read admission, memory reservation, and IO pacing for
// one shard. All methods are safe on a nil receiver.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	readSem *semaphore.Weighted // nil if unlimited

	ioLimiter *rate.Limiter
}

// NewController creates a controller with the given limits.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.MaxConcurrentReads > 0 {
		c.readSem = semaphore.NewWeighted(cfg.MaxConcurrentReads)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// Admit acquires a read slot, blocking until one is available or ctx is
// canceled. The returned permit must be closed.
func (c *Controller) Admit(ctx context.Context) (*Permit, error) {
	if c == nil {
		return nil, nil
	}
	if c.readSem != nil {
		if err := c.readSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	return &Permit{c: c, admitted: c.readSem != nil}, nil
}

// WaitIO blocks until the IO limiter allows n bytes.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, n)
}

// MemoryUsed returns the bytes currently reserved through permits.
func (c *Controller) MemoryUsed() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

func (c *Controller) reserve(n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(n) {
		return ErrMemoryExhausted
	}
	c.memUsed.Add(n)
	return nil
}

func (c *Controller) release(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(n)
	}
	c.memUsed.Add(-n)
}

// Permit is the per-read resource token threaded through the mutation
// source contract. A nil permit enforces nothing.
type Permit struct {
	c        *Controller
	admitted bool

	mu       sync.Mutex
	reserved int64
	closed   bool
}

// Reserve accounts n bytes against the controller's memory limit.
// Returns ErrMemoryExhausted when the limit would be exceeded; the caller
// is expected to fail the operation and retry later.
func (p *Permit) Reserve(n int64) error {
	if p == nil || n <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrMemoryExhausted
	}
	if err := p.c.reserve(n); err != nil {
		return err
	}
	p.reserved += n
	return nil
}

// ReleaseAll returns every byte reserved through the permit.
func (p *Permit) ReleaseAll() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.release(p.reserved)
	p.reserved = 0
}

// Reserved returns the bytes currently held by the permit.
func (p *Permit) Reserved() int64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserved
}

// Close releases the read slot and any reserved memory. Idempotent.
func (p *Permit) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.c.release(p.reserved)
	p.reserved = 0
	if p.admitted {
		p.c.readSem.Release(1)
	}
	return nil
}
