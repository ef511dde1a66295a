//go:build linux

package rrdfile

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// alignmentSize is the O_DIRECT alignment required on Linux (ext4 block
// size; 512 bytes is not enough, it must match the filesystem's block
// size).
const alignmentSize = 4096

// openForRandomWrite opens path for O_DIRECT positional writes,
// creating it (and its parent directory) if necessary. Unlike a
// rotating log writer, an RRA ring file is opened once and kept open
// for the file's lifetime; there is no O_TRUNC here.
func openForRandomWrite(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	fd, err := syscall.Open(path,
		syscall.O_RDWR|syscall.O_CREAT|syscall.O_DIRECT|syscall.O_DSYNC,
		0644)
	if err != nil {
		return nil, fmt.Errorf("open with O_DIRECT: %w", err)
	}

	return os.NewFile(uintptr(fd), path), nil
}

// alignSize rounds size up to the nearest alignment boundary.
func alignSize(size int) int {
	return ((size + alignmentSize - 1) / alignmentSize) * alignmentSize
}

// allocAlignedBuffer returns a zeroed slice of alignSize(size) bytes
// whose backing array starts on an alignmentSize boundary, required for
// O_DIRECT writes.
func allocAlignedBuffer(size int) []byte {
	alignedSize := alignSize(size)

	buf := make([]byte, alignedSize+alignmentSize)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := int(alignmentSize - (addr % alignmentSize))
	if offset == alignmentSize {
		offset = 0
	}
	return buf[offset : offset+alignedSize]
}

// pwriteAligned copies payload into an aligned buffer and writes it at
// offset using a single-element vectored write, mirroring the
// vectored-write path used for aligned buffer flushes.
func pwriteAligned(f *os.File, payload []byte, offset int64) error {
	buf := allocAlignedBuffer(len(payload))
	copy(buf, payload)

	_, err := unix.Pwritev(int(f.Fd()), [][]byte{buf}, offset)
	if err != nil {
		return fmt.Errorf("pwritev: %w", err)
	}
	return nil
}
