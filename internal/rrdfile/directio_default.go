//go:build !linux

package rrdfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// alignmentSize on non-Linux platforms matches the common disk sector
// size; there is no O_DIRECT equivalent wired up here, so this only
// keeps row offsets predictable across platforms.
const alignmentSize = 512

// openForRandomWrite opens path for positional writes, creating it (and
// its parent directory) if it does not exist yet.
func openForRandomWrite(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return f, nil
}

// alignSize rounds size up to the nearest alignment boundary.
func alignSize(size int) int {
	return ((size + alignmentSize - 1) / alignmentSize) * alignmentSize
}

// allocAlignedBuffer returns a zeroed slice of alignSize(size) bytes.
func allocAlignedBuffer(size int) []byte {
	return make([]byte, alignSize(size))
}

// pwriteAligned writes payload at offset via a plain positional write.
func pwriteAligned(f *os.File, payload []byte, offset int64) error {
	buf := allocAlignedBuffer(len(payload))
	copy(buf, payload)

	if _, err := f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("writeat: %w", err)
	}
	return nil
}
