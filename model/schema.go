package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrSchemaMismatch is returned when a mutation does not fit the schema it
// is applied against. Typed details are carried by SchemaMismatchError.
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError describes why a mutation was rejected.
//
// Satisfies errors.Is(err, ErrSchemaMismatch).
type SchemaMismatchError struct {
	Keyspace string
	Table    string
	Column   ColumnID
	Reason   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on %s.%s: %s", e.Keyspace, e.Table, e.Reason)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// Column describes one column of a schema.
type Column struct {
	ID   ColumnID
	Name string
}

// Schema is the column layout and GC policy for one table. Schemas are
// immutable; WithColumns derives the next version.
type Schema struct {
	ID       uint64
	Version  uint32
	Keyspace string
	Table    string
	Columns  []Column
	GCGrace  time.Duration
}

// NewSchema creates a schema at version 1.
func NewSchema(keyspace, table string, columns ...Column) *Schema {
	return &Schema{
		ID:       uint64(TokenOf([]byte(keyspace + "." + table))),
		Version:  1,
		Keyspace: keyspace,
		Table:    table,
		Columns:  columns,
		GCGrace:  10 * 24 * time.Hour,
	}
}

// WithColumns derives the next schema version with additional columns.
func (s *Schema) WithColumns(columns ...Column) *Schema {
	next := *s
	next.Version++
	next.Columns = make([]Column, 0, len(s.Columns)+len(columns))
	next.Columns = append(next.Columns, s.Columns...)
	next.Columns = append(next.Columns, columns...)
	return &next
}

// WithGCGrace derives a schema with the given GC grace period.
func (s *Schema) WithGCGrace(d time.Duration) *Schema {
	next := *s
	next.GCGrace = d
	return &next
}

// Column returns the column with the given ID.
func (s *Schema) Column(id ColumnID) (Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// GCBefore returns the tombstone purge horizon for the given wall clock.
func (s *Schema) GCBefore(now time.Time) time.Time {
	return now.Add(-s.GCGrace)
}

// Validate rejects mutations that reference columns unknown to the schema
// or belong to a different table. Rejection happens before any state
// change.
func (s *Schema) Validate(m *Mutation) error {
	if m.Schema != nil && m.Schema.ID != s.ID {
		return &SchemaMismatchError{
			Keyspace: s.Keyspace,
			Table:    s.Table,
			Reason:   fmt.Sprintf("mutation targets table %s.%s", m.Schema.Keyspace, m.Schema.Table),
		}
	}
	for _, r := range m.Rows {
		for _, c := range r.Cells {
			if _, ok := s.Column(c.Column); !ok {
				return &SchemaMismatchError{
					Keyspace: s.Keyspace,
					Table:    s.Table,
					Column:   c.Column,
					Reason:   fmt.Sprintf("unknown column %d", c.Column),
				}
			}
		}
	}
	return nil
}
