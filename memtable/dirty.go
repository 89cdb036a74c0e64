package memtable

import "sync/atomic"

// DirtyTracker accounts dirty memory for one table. Real dirty is live
// memtable bytes; virtual dirty is bytes not yet guaranteed durable and
// drives the flush scheduler. Both move on every apply and shrink as
// flushes stream partitions out.
type DirtyTracker struct {
	real    atomic.Int64
	virtual atomic.Int64

	highWater int64
	onHigh    func()
	armed     atomic.Bool
}

// NewDirtyTracker creates a tracker. onHigh fires once each time virtual
// dirty crosses highWater from below; it re-arms when virtual drops back
// under. highWater <= 0 disables the callback.
func NewDirtyTracker(highWater int64, onHigh func()) *DirtyTracker {
	t := &DirtyTracker{highWater: highWater, onHigh: onHigh}
	t.armed.Store(true)
	return t
}

// Real returns live memtable bytes.
func (t *DirtyTracker) Real() int64 { return t.real.Load() }

// Virtual returns bytes not yet durable.
func (t *DirtyTracker) Virtual() int64 { return t.virtual.Load() }

// AddReal adjusts real dirty by delta.
func (t *DirtyTracker) AddReal(delta int64) {
	t.real.Add(delta)
}

// AddVirtual adjusts virtual dirty by delta, firing the high-water
// callback on an upward crossing.
func (t *DirtyTracker) AddVirtual(delta int64) {
	v := t.virtual.Add(delta)
	if t.highWater <= 0 || t.onHigh == nil {
		return
	}
	if v >= t.highWater {
		if t.armed.CompareAndSwap(true, false) {
			t.onHigh()
		}
	} else {
		t.armed.Store(true)
	}
}
