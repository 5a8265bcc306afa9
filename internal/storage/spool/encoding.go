package spool

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/raster"
)

const (
	spoolMagic      = 0x52434C53504F4F4C // "RCLSPOOL"
	spoolVersion    = 1
	headerSize      = 24 // magic + version + dtype + codec + reserved + count
	chunkHeaderSize = 12 // length + crc + records
	maxChunkPayload = 64 * 1024 * 1024
)

// Codec frames the body of a run file.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	}
	return CodecNone, fmt.Errorf("unknown spool codec %q", s)
}

// recordWidth returns the encoded width of one value, or an error for
// datatypes that cannot be spooled.
func recordWidth(dt raster.DataType) (int, error) {
	switch dt {
	case raster.Byte, raster.Int16, raster.UInt16, raster.Int32, raster.UInt32,
		raster.Float32, raster.Float64:
		return dt.Size(), nil
	}
	return 0, fmt.Errorf("%w: %s", errors.ErrUnsupportedDatatype, dt)
}

// Supported reports whether values of dt can be spooled.
func Supported(dt raster.DataType) bool {
	_, err := recordWidth(dt)
	return err == nil
}

// appendValue appends v in the native encoding of dt.
func appendValue(buf []byte, dt raster.DataType, v float64) []byte {
	switch dt {
	case raster.Byte:
		return append(buf, uint8(dt.Clamp(v)))
	case raster.Int16:
		return binary.LittleEndian.AppendUint16(buf, uint16(int16(dt.Clamp(v))))
	case raster.UInt16:
		return binary.LittleEndian.AppendUint16(buf, uint16(dt.Clamp(v)))
	case raster.Int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(int32(dt.Clamp(v))))
	case raster.UInt32:
		return binary.LittleEndian.AppendUint32(buf, uint32(dt.Clamp(v)))
	case raster.Float32:
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	default:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
}

// decodeValue decodes one value of dt from the start of b.
func decodeValue(b []byte, dt raster.DataType) float64 {
	switch dt {
	case raster.Byte:
		return float64(b[0])
	case raster.Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case raster.UInt16:
		return float64(binary.LittleEndian.Uint16(b))
	case raster.Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case raster.UInt32:
		return float64(binary.LittleEndian.Uint32(b))
	case raster.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
}

// header is the fixed run file header.
type header struct {
	dataType raster.DataType
	codec    Codec
	count    int64
}

func (h header) encode() []byte {
	buf := make([]byte, 0, headerSize)
	buf = binary.LittleEndian.AppendUint64(buf, spoolMagic)
	buf = binary.LittleEndian.AppendUint32(buf, spoolVersion)
	buf = append(buf, byte(h.dataType), byte(h.codec), 0, 0)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.count))
	return buf
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, fmt.Errorf("header too short: %d bytes", len(b))
	}

	magic := binary.LittleEndian.Uint64(b[0:8])
	if magic != spoolMagic {
		return header{}, fmt.Errorf("invalid magic: expected %x, got %x", uint64(spoolMagic), magic)
	}

	version := binary.LittleEndian.Uint32(b[8:12])
	if version != spoolVersion {
		return header{}, fmt.Errorf("unsupported version: %d", version)
	}

	h := header{
		dataType: raster.DataType(b[12]),
		codec:    Codec(b[13]),
		count:    int64(binary.LittleEndian.Uint64(b[16:24])),
	}
	if _, err := recordWidth(h.dataType); err != nil {
		return header{}, err
	}
	if h.codec > CodecZstd {
		return header{}, fmt.Errorf("unknown codec %d", h.codec)
	}
	return h, nil
}
