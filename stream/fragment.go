package stream

import (
	"fmt"

	"github.com/okrasa/strata/model"
)

// Kind discriminates fragment payloads.
type Kind uint8

const (
	// KindPartitionStart opens a partition; carries the partition
	// tombstone.
	KindPartitionStart Kind = iota + 1
	// KindRow carries one row.
	KindRow
	// KindRangeTombstone carries one clustering-range deletion.
	KindRangeTombstone
	// KindPartitionEnd closes the current partition.
	KindPartitionEnd
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindPartitionStart:
		return "partition-start"
	case KindRow:
		return "row"
	case KindRangeTombstone:
		return "range-tombstone"
	case KindPartitionEnd:
		return "partition-end"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Fragment is one element of a mutation stream. Key is set on every
// fragment; the payload fields are set according to Kind.
type Fragment struct {
	Kind               Kind
	Key                model.Key
	PartitionTombstone model.Tombstone
	Row                *model.Row
	RangeTombstone     model.RangeTombstone
}
