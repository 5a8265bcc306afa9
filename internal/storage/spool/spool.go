package spool

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/raster"
)

// FilePrefix and FileSuffix name run files: run-<uuid>.spool.
const (
	FilePrefix = "run-"
	FileSuffix = ".spool"
)

// Options configures a Spooler.
type Options struct {
	// Dir holds run files. It is created if missing.
	Dir string

	// DataType is the native datatype of spooled values.
	DataType raster.DataType

	// ChunkRecords is the number of records per chunk.
	// Default: 64K
	ChunkRecords int

	// BufferSize is the read and write buffer size per run.
	// Default: 64KB
	BufferSize int

	// Compression frames run bodies.
	Compression Codec

	// Logger defaults to the "spool" component logger.
	Logger *slog.Logger
}

// DefaultOptions returns default spool options for dir and dt.
func DefaultOptions(dir string, dt raster.DataType) Options {
	return Options{
		Dir:          dir,
		DataType:     dt,
		ChunkRecords: 64 * 1024,
		BufferSize:   64 * 1024,
		Compression:  CodecNone,
	}
}

// Stats holds spooler statistics.
type Stats struct {
	RunsCreated    int64
	RunsRemoved    int64
	RecordsWritten int64
	BytesWritten   int64
}

// Spooler sorts tiles of values and writes each one as a run file.
// It tracks every run it creates so Cleanup can remove leftovers.
type Spooler struct {
	opts  Options
	width int
	log   *slog.Logger

	mu   sync.Mutex
	runs map[*Run]struct{}

	runsCreated    atomic.Int64
	runsRemoved    atomic.Int64
	recordsWritten atomic.Int64
	bytesWritten   atomic.Int64
}

// New creates a spooler. It fails with ErrUnsupportedDatatype for datatypes
// that have no fixed-width encoding.
func New(opts Options) (*Spooler, error) {
	width, err := recordWidth(opts.DataType)
	if err != nil {
		return nil, err
	}

	def := DefaultOptions(opts.Dir, opts.DataType)
	if opts.ChunkRecords <= 0 {
		opts.ChunkRecords = def.ChunkRecords
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}

	// Ensure directory exists
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	return &Spooler{
		opts:  opts,
		width: width,
		log:   logging.Or(opts.Logger, "spool"),
		runs:  make(map[*Run]struct{}),
	}, nil
}

// DataType returns the datatype of spooled values.
func (s *Spooler) DataType() raster.DataType {
	return s.opts.DataType
}

// Dir returns the directory holding run files.
func (s *Spooler) Dir() string {
	return s.opts.Dir
}

// Spill sorts values in place and writes them as a new run.
// NaN values must already be excluded.
func (s *Spooler) Spill(ctx context.Context, values []float64) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.Sort(values)

	path := filepath.Join(s.opts.Dir, FilePrefix+uuid.NewString()+FileSuffix)
	run := &Run{
		path:     path,
		dataType: s.opts.DataType,
		count:    int64(len(values)),
		owner:    s,
	}
	if len(values) > 0 {
		// Round trip through the record encoding so Max matches what readers decode.
		run.max = decodeValue(appendValue(nil, s.opts.DataType, values[len(values)-1]), s.opts.DataType)
	}

	n, err := s.write(ctx, path, values)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write run %s: %w", path, err)
	}

	s.mu.Lock()
	s.runs[run] = struct{}{}
	s.mu.Unlock()

	s.runsCreated.Add(1)
	s.recordsWritten.Add(int64(len(values)))
	s.bytesWritten.Add(n)

	s.log.Debug("run written", "path", path, "records", len(values), "bytes", n)
	return run, nil
}

// write encodes values into a new file at path and returns its size.
func (s *Spooler) write(ctx context.Context, path string, values []float64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := header{dataType: s.opts.DataType, codec: s.opts.Compression, count: int64(len(values))}
	if _, err := f.Write(h.encode()); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	body, err := newBodyWriter(f, s.opts.Compression)
	if err != nil {
		return 0, err
	}

	w := bufio.NewWriterSize(body, s.opts.BufferSize)
	payload := make([]byte, 0, s.opts.ChunkRecords*s.width)
	var chunkHeader [chunkHeaderSize]byte

	for start := 0; start < len(values); start += s.opts.ChunkRecords {
		if err := ctx.Err(); err != nil {
			body.Close()
			return 0, err
		}

		end := min(start+s.opts.ChunkRecords, len(values))
		payload = payload[:0]
		for _, v := range values[start:end] {
			payload = appendValue(payload, s.opts.DataType, v)
		}

		binary.LittleEndian.PutUint32(chunkHeader[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(chunkHeader[4:8], crc32.ChecksumIEEE(payload))
		binary.LittleEndian.PutUint32(chunkHeader[8:12], uint32(end-start))

		if _, err := w.Write(chunkHeader[:]); err != nil {
			body.Close()
			return 0, err
		}
		if _, err := w.Write(payload); err != nil {
			body.Close()
			return 0, err
		}
	}

	if err := w.Flush(); err != nil {
		body.Close()
		return 0, fmt.Errorf("flush: %w", err)
	}
	if err := body.Close(); err != nil {
		return 0, fmt.Errorf("close body: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// Runs returns the runs created by this spooler that have not been removed.
func (s *Spooler) Runs() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]*Run, 0, len(s.runs))
	for r := range s.runs {
		runs = append(runs, r)
	}
	return runs
}

// Cleanup removes every run this spooler still tracks.
func (s *Spooler) Cleanup() error {
	var errs []error
	for _, r := range s.Runs() {
		if err := r.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup %d runs: %w", len(errs), errs[0])
	}
	return nil
}

// Stats returns spooler statistics.
func (s *Spooler) Stats() Stats {
	return Stats{
		RunsCreated:    s.runsCreated.Load(),
		RunsRemoved:    s.runsRemoved.Load(),
		RecordsWritten: s.recordsWritten.Load(),
		BytesWritten:   s.bytesWritten.Load(),
	}
}

func (s *Spooler) forget(r *Run) {
	s.mu.Lock()
	delete(s.runs, r)
	s.mu.Unlock()
	s.runsRemoved.Add(1)
}

// Run is one sorted run file. Remove is idempotent and safe to call from
// any path that holds the run.
type Run struct {
	path     string
	dataType raster.DataType
	count    int64
	max      float64
	owner    *Spooler

	once      sync.Once
	removeErr error
}

// Path returns the run file path.
func (r *Run) Path() string {
	return r.path
}

// DataType returns the datatype of the run's records.
func (r *Run) DataType() raster.DataType {
	return r.dataType
}

// Count returns the number of records in the run.
func (r *Run) Count() int64 {
	return r.count
}

// Max returns the largest record in the run as it decodes from disk.
// It is zero for an empty run.
func (r *Run) Max() float64 {
	return r.max
}

// Open opens the run for sequential reading.
func (r *Run) Open() (*RunReader, error) {
	bufSize := 0
	if r.owner != nil {
		bufSize = r.owner.opts.BufferSize
	}
	return OpenReader(r.path, bufSize)
}

// Remove deletes the run file. Only the first call has any effect.
func (r *Run) Remove() error {
	r.once.Do(func() {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			r.removeErr = err
		}
		if r.owner != nil {
			r.owner.forget(r)
		}
	})
	return r.removeErr
}

// bodyWriter is the (possibly compressing) writer for a run body.
type bodyWriter interface {
	io.Writer
	Close() error
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newBodyWriter(w io.Writer, codec Codec) (bodyWriter, error) {
	switch codec {
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nopCloser{w}, nil
	}
}
