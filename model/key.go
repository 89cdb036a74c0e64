package model

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Token is the ring position of a partition key.
type Token uint64

// TokenOf computes the token for a raw partition key.
func TokenOf(raw []byte) Token {
	return Token(xxhash.Sum64(raw))
}

// Key is a partition key decorated with its token.
// Keys order by token first, then by raw bytes.
type Key struct {
	Token Token
	Raw   []byte
}

// NewKey creates a Key from raw bytes, computing its token.
func NewKey(raw []byte) Key {
	return Key{Token: TokenOf(raw), Raw: raw}
}

// Compare returns -1, 0 or 1 ordering k against o.
func (k Key) Compare(o Key) int {
	if k.Token != o.Token {
		if k.Token < o.Token {
			return -1
		}
		return 1
	}
	return bytes.Compare(k.Raw, o.Raw)
}

// Less reports whether k orders before o.
func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

// Equal reports whether k and o identify the same partition.
func (k Key) Equal(o Key) bool {
	return k.Compare(o) == 0
}

// String returns a string representation of the key.
func (k Key) String() string {
	return fmt.Sprintf("Key(%d:%q)", k.Token, k.Raw)
}
