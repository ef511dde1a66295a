// Package rrdfile is a from-scratch, non-cgo stand-in for librrd: a
// fixed-layout ring file with one round-robin archive whose rows each
// hold a timestamp and one value per data source, written with aligned
// positional I/O. It satisfies
// rrdcache.Library so it can sit behind the write-coalescing cache
// without a cgo dependency on the real rrd_update/rrd_create calls.
package rrdfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/neehar-mavuduru/rrd-write-cache/rrdcache"
)

const (
	magic          = "RRDFILE1"
	maxDataSources = 16
	dsNameLen      = 32
	fixedHeaderLen = 8 + 1 + 7 + 8 + 8 + 8 + 4 + 4 + 8 // magic,version,pad,step,heartbeat,rows,dscount,pad,xff
	dsEntryLen     = dsNameLen + 1 + 7                 // name, kind, pad
)

// Store implements rrdcache.Library and rrdcache.ArgvLibrary over a
// directory of ring files, one per metric identity.
type Store struct{}

// NewStore returns a ready-to-use Store. It carries no state of its
// own; every file is self-describing via its header.
func NewStore() *Store { return &Store{} }

func dsKindByte(k rrdcache.ValueKind) byte {
	if k == rrdcache.Gauge {
		return 1
	}
	return 0
}

func dsKindFromByte(b byte) rrdcache.ValueKind {
	if b == 1 {
		return rrdcache.Gauge
	}
	return rrdcache.Counter
}

// Create writes a fresh header describing the round-robin layout for
// filename. It is safe to call on a file that does not exist yet;
// openForRandomWrite creates the parent directory and the file.
func (s *Store) Create(filename string, schema rrdcache.TypeSchema, _ rrdcache.Sample, cfg rrdcache.CreateConfig) error {
	if len(schema.DS) == 0 {
		return fmt.Errorf("rrdfile: schema %q has no data sources", schema.Name)
	}
	if len(schema.DS) > maxDataSources {
		return fmt.Errorf("rrdfile: schema %q has %d data sources, max %d", schema.Name, len(schema.DS), maxDataSources)
	}

	header, err := encodeHeader(cfg, schema)
	if err != nil {
		return err
	}

	f, err := openForRandomWrite(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return pwriteAligned(f, header, 0)
}

// Update decodes each "time:v0:v1:..." token and writes it into its
// round-robin slot, overwriting whatever sample previously occupied
// that slot. Rows are never appended: the file grows only as slots are
// first written and never exceeds the header plus RRARows rows.
func (s *Store) Update(filename string, tokens []string) error {
	f, err := openForRandomWrite(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, err := readHeader(f)
	if err != nil {
		return err
	}

	rowStride := alignSize(8 + 8*len(hdr.ds))
	dataStart := alignSize(fixedHeaderLen + len(hdr.ds)*dsEntryLen)

	for _, token := range tokens {
		row, err := encodeRow(hdr, token)
		if err != nil {
			return err
		}
		timestamp := row.timestamp
		slot := (timestamp / hdr.stepSize) % hdr.rraRows
		if slot < 0 {
			slot += hdr.rraRows
		}
		offset := int64(dataStart) + slot*int64(rowStride)
		if err := pwriteAligned(f, row.bytes, offset); err != nil {
			return err
		}
	}
	return nil
}

// UpdateArgv adapts the classic update(argc, argv) calling convention
// onto Update. argv follows the {"update", filename, token...} shape
// LockLibrary synthesizes.
func (s *Store) UpdateArgv(argv []string) error {
	if len(argv) < 2 {
		return fmt.Errorf("rrdfile: argv too short: %v", argv)
	}
	return s.Update(argv[1], argv[2:])
}

type fileHeader struct {
	stepSize  int64
	heartBeat int64
	rraRows   int64
	xff       float64
	ds        []rrdcache.DataSource
}

func encodeHeader(cfg rrdcache.CreateConfig, schema rrdcache.TypeSchema) ([]byte, error) {
	var buf bytes.Buffer

	var magicBytes [8]byte
	copy(magicBytes[:], magic)
	buf.Write(magicBytes[:])
	buf.WriteByte(1) // version
	buf.Write(make([]byte, 7))

	for _, v := range []int64{cfg.StepSize, cfg.HeartBeat, int64(cfg.RRARows)} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, int32(len(schema.DS))); err != nil {
		return nil, err
	}
	buf.Write(make([]byte, 4))
	if err := binary.Write(&buf, binary.LittleEndian, cfg.XFF); err != nil {
		return nil, err
	}

	for _, ds := range schema.DS {
		var name [dsNameLen]byte
		copy(name[:], ds.Name)
		buf.Write(name[:])
		buf.WriteByte(dsKindByte(ds.Kind))
		buf.Write(make([]byte, 7))
	}

	return buf.Bytes(), nil
}

// headerReadSize is large enough to contain fixedHeaderLen plus
// maxDataSources dsEntryLen entries with room to spare.
const headerReadSize = 4096

func readHeader(f *os.File) (fileHeader, error) {
	raw := make([]byte, headerReadSize)
	n, err := f.ReadAt(raw, 0)
	if err != nil && n < fixedHeaderLen {
		return fileHeader{}, fmt.Errorf("rrdfile: read header: %w", err)
	}
	raw = raw[:n]
	if n < fixedHeaderLen || string(raw[:8]) != magic {
		return fileHeader{}, fmt.Errorf("rrdfile: %s: not a valid ring file", f.Name())
	}

	r := bytes.NewReader(raw[16:]) // skip magic(8) + version(1) + pad(7)
	var hdr fileHeader
	var dsCount int32
	var pad4 [4]byte

	if err := binary.Read(r, binary.LittleEndian, &hdr.stepSize); err != nil {
		return fileHeader{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.heartBeat); err != nil {
		return fileHeader{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.rraRows); err != nil {
		return fileHeader{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &dsCount); err != nil {
		return fileHeader{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &pad4); err != nil {
		return fileHeader{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.xff); err != nil {
		return fileHeader{}, err
	}
	if dsCount < 0 || int(dsCount) > maxDataSources {
		return fileHeader{}, fmt.Errorf("rrdfile: %s: corrupt data source count %d", f.Name(), dsCount)
	}

	hdr.ds = make([]rrdcache.DataSource, dsCount)
	for i := range hdr.ds {
		var name [dsNameLen]byte
		if err := binary.Read(r, binary.LittleEndian, &name); err != nil {
			return fileHeader{}, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return fileHeader{}, err
		}
		if _, err := r.Seek(7, 1); err != nil {
			return fileHeader{}, err
		}
		hdr.ds[i] = rrdcache.DataSource{
			Name: strings.TrimRight(string(name[:]), "\x00"),
			Kind: dsKindFromByte(kindByte),
		}
	}

	return hdr, nil
}

type encodedRow struct {
	timestamp int64
	bytes     []byte
}

// encodeRow parses a "time:v0:v1:..." token produced by
// rrdcache.EncodeUpdate against hdr's data source kinds and renders
// it as timestamp||float64*N.
func encodeRow(hdr fileHeader, token string) (encodedRow, error) {
	parts := strings.Split(token, ":")
	if len(parts) != len(hdr.ds)+1 {
		return encodedRow{}, fmt.Errorf("rrdfile: token %q has %d fields, want %d", token, len(parts), len(hdr.ds)+1)
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return encodedRow{}, fmt.Errorf("rrdfile: bad timestamp in %q: %w", token, err)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, timestamp); err != nil {
		return encodedRow{}, err
	}

	for i, ds := range hdr.ds {
		raw := parts[i+1]
		var f float64
		switch ds.Kind {
		case rrdcache.Counter:
			u, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return encodedRow{}, fmt.Errorf("rrdfile: bad counter in %q: %w", token, err)
			}
			f = float64(u)
		case rrdcache.Gauge:
			g, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return encodedRow{}, fmt.Errorf("rrdfile: bad gauge in %q: %w", token, err)
			}
			f = g
		default:
			return encodedRow{}, fmt.Errorf("rrdfile: unsupported data source kind for %q", ds.Name)
		}
		if math.IsNaN(f) {
			f = 0
		}
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return encodedRow{}, err
		}
	}

	return encodedRow{timestamp: timestamp, bytes: buf.Bytes()}, nil
}
