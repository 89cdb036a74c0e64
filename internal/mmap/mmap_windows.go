//go:build windows

package mmap

import (
	"errors"
	"os"
)

func mmap(f *os.File, size int) ([]byte, error) {
	// Local blob reads fall back to plain file IO on platforms without a
	// mapping implementation.
	return nil, errors.ErrUnsupported
}

func munmap(data []byte) error {
	return nil
}
