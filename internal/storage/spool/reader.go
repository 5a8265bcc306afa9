package spool

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/xtxerr/rastercalc/internal/raster"
)

// RunReader iterates the records of a run file in order. Memory use is
// bounded by the buffer size plus one chunk.
type RunReader struct {
	path     string
	file     *os.File
	closeFn  func()
	br       *bufio.Reader
	dataType raster.DataType
	width    int

	chunk     []byte
	chunkCRC  uint32
	chunkLeft int   // records not yet consumed in chunk
	pos       int   // byte offset of the next record in chunk
	remaining int64 // records not yet consumed in the run

	value  float64
	err    error
	closed bool

	// Statistics
	stats ReaderStats
}

// ReaderStats holds run reader statistics.
type ReaderStats struct {
	ChunksRead    int64
	ChunksSkipped int64
	RecordsRead   int64
}

// OpenReader opens the run file at path. A bufSize of zero uses 64KB.
func OpenReader(path string, bufSize int) (*RunReader, error) {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run: %w", err)
	}

	var hb [headerSize]byte
	if _, err := io.ReadFull(f, hb[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	h, err := decodeHeader(hb[:])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("run %s: %w", path, err)
	}

	r := &RunReader{
		path:      path,
		file:      f,
		closeFn:   func() {},
		dataType:  h.dataType,
		width:     h.dataType.Size(),
		remaining: h.count,
	}

	var body io.Reader = f
	switch h.codec {
	case CodecLZ4:
		body = lz4.NewReader(f)
	case CodecZstd:
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		body = dec
		r.closeFn = dec.Close
	}
	r.br = bufio.NewReaderSize(body, bufSize)

	return r, nil
}

// Next advances to the next record.
// Returns false when the run is exhausted or an error occurred.
func (r *RunReader) Next() bool {
	if r.closed || r.err != nil || r.remaining == 0 {
		return false
	}

	if r.chunkLeft == 0 {
		if err := r.readChunk(); err != nil {
			r.err = err
			return false
		}
	}

	r.value = decodeValue(r.chunk[r.pos:], r.dataType)
	r.pos += r.width
	r.chunkLeft--
	r.remaining--
	r.stats.RecordsRead++
	return true
}

// Value returns the current record.
func (r *RunReader) Value() float64 {
	return r.value
}

// Skip discards up to n records without decoding them and returns the
// number skipped. Whole chunks are skipped without reading their payload.
func (r *RunReader) Skip(n int64) int64 {
	var skipped int64
	for n > 0 && r.err == nil && !r.closed && r.remaining > 0 {
		if r.chunkLeft > 0 {
			k := min(n, int64(r.chunkLeft))
			r.pos += int(k) * r.width
			r.chunkLeft -= int(k)
			r.remaining -= k
			n -= k
			skipped += k
			continue
		}

		length, records, err := r.readChunkHeader()
		if err != nil {
			r.err = err
			break
		}

		if int64(records) <= n {
			if _, err := r.br.Discard(int(length)); err != nil {
				r.err = fmt.Errorf("skip chunk: %w", err)
				break
			}
			r.stats.ChunksSkipped++
			r.remaining -= int64(records)
			n -= int64(records)
			skipped += int64(records)
			continue
		}

		if err := r.readChunkPayload(length, records); err != nil {
			r.err = err
			break
		}
	}
	return skipped
}

// Remaining returns the number of records not yet consumed.
func (r *RunReader) Remaining() int64 {
	return r.remaining
}

// Err returns the first error encountered while reading.
func (r *RunReader) Err() error {
	return r.err
}

// Close closes the reader. The run file is left in place.
func (r *RunReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.closeFn()
	return r.file.Close()
}

// Path returns the run file path.
func (r *RunReader) Path() string {
	return r.path
}

// Stats returns reader statistics.
func (r *RunReader) Stats() ReaderStats {
	return r.stats
}

func (r *RunReader) readChunk() error {
	length, records, err := r.readChunkHeader()
	if err != nil {
		return err
	}
	return r.readChunkPayload(length, records)
}

func (r *RunReader) readChunkHeader() (uint32, uint32, error) {
	var hdr [chunkHeaderSize]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, fmt.Errorf("read chunk header: %w", err)
	}

	length := binary.LittleEndian.Uint32(hdr[0:4])
	records := binary.LittleEndian.Uint32(hdr[8:12])

	// Sanity check length
	if length > maxChunkPayload || int(length) != int(records)*r.width || records == 0 {
		return 0, 0, fmt.Errorf("corrupt chunk header: length %d, records %d", length, records)
	}

	r.chunkCRC = binary.LittleEndian.Uint32(hdr[4:8])
	return length, records, nil
}

func (r *RunReader) readChunkPayload(length, records uint32) error {
	if cap(r.chunk) < int(length) {
		r.chunk = make([]byte, length)
	}
	r.chunk = r.chunk[:length]

	if _, err := io.ReadFull(r.br, r.chunk); err != nil {
		return fmt.Errorf("read chunk payload: %w", err)
	}

	if crc := crc32.ChecksumIEEE(r.chunk); crc != r.chunkCRC {
		return fmt.Errorf("CRC mismatch: expected %x, got %x", r.chunkCRC, crc)
	}

	r.pos = 0
	r.chunkLeft = int(records)
	r.stats.ChunksRead++
	return nil
}
