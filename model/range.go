package model

import "fmt"

// Bound is one end of a KeyRange.
type Bound struct {
	Key       Key
	Inclusive bool
}

// KeyRange is a partition key range. A nil bound is unbounded on that side.
type KeyRange struct {
	Start *Bound
	End   *Bound
}

// FullRange returns the range covering the whole ring.
func FullRange() KeyRange {
	return KeyRange{}
}

// SingularRange returns the range containing exactly k.
func SingularRange(k Key) KeyRange {
	return KeyRange{
		Start: &Bound{Key: k, Inclusive: true},
		End:   &Bound{Key: k, Inclusive: true},
	}
}

// IsSingular reports whether the range selects exactly one key.
func (r KeyRange) IsSingular() bool {
	return r.Start != nil && r.End != nil &&
		r.Start.Inclusive && r.End.Inclusive &&
		r.Start.Key.Equal(r.End.Key)
}

// IsFull reports whether the range is unbounded on both ends.
func (r KeyRange) IsFull() bool {
	return r.Start == nil && r.End == nil
}

// SingularKey returns the key of a singular range.
func (r KeyRange) SingularKey() (Key, bool) {
	if !r.IsSingular() {
		return Key{}, false
	}
	return r.Start.Key, true
}

// Contains reports whether k lies within the range.
func (r KeyRange) Contains(k Key) bool {
	if r.Start != nil {
		c := k.Compare(r.Start.Key)
		if c < 0 || (c == 0 && !r.Start.Inclusive) {
			return false
		}
	}
	if r.End != nil {
		c := k.Compare(r.End.Key)
		if c > 0 || (c == 0 && !r.End.Inclusive) {
			return false
		}
	}
	return true
}

// SplitAfter returns the remainder of the range strictly after k.
// This is the re-anchoring primitive used when an underlying reader is
// recreated mid-read: the new reader resumes just past the last fully
// emitted partition.
func (r KeyRange) SplitAfter(k Key) KeyRange {
	return KeyRange{
		Start: &Bound{Key: k, Inclusive: false},
		End:   r.End,
	}
}

// IsEmpty reports whether no key can satisfy the range.
func (r KeyRange) IsEmpty() bool {
	if r.Start == nil || r.End == nil {
		return false
	}
	c := r.Start.Key.Compare(r.End.Key)
	if c > 0 {
		return true
	}
	if c == 0 {
		return !(r.Start.Inclusive && r.End.Inclusive)
	}
	return false
}

// String returns a string representation of the range.
func (r KeyRange) String() string {
	start, end := "(-inf", "+inf)"
	if r.Start != nil {
		if r.Start.Inclusive {
			start = "[" + r.Start.Key.String()
		} else {
			start = "(" + r.Start.Key.String()
		}
	}
	if r.End != nil {
		if r.End.Inclusive {
			end = r.End.Key.String() + "]"
		} else {
			end = r.End.Key.String() + ")"
		}
	}
	return fmt.Sprintf("Range%s, %s", start, end)
}
