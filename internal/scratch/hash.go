// Package scratch names files and directories in the scratch area.
//
// Names are derived from content hashes so repeated runs for the same
// target reuse, or safely overwrite, the same location.
package scratch

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"
	"math"
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// Hash Builder
// =============================================================================

// HashBuilder provides a fluent API for building content hashes.
//
// Usage:
//
//	key := scratch.NewHashBuilder().
//	    String(targetPath).
//	    String(projection).
//	    Float64(pixelSize.X).
//	    Hex()
//
// The hash is deterministic: same inputs always produce the same output.
// Order of operations matters.
type HashBuilder struct {
	h hash.Hash64
}

// NewHashBuilder creates a new hash builder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{h: fnv.New64a()}
}

// String adds a string value to the hash.
func (b *HashBuilder) String(s string) *HashBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0}) // Separator to avoid collisions
	return b
}

// Strings adds multiple strings to the hash, sorted.
func (b *HashBuilder) Strings(ss []string) *HashBuilder {
	sorted := make([]string, len(ss))
	copy(sorted, ss)
	sort.Strings(sorted)

	b.Int(len(sorted)) // Length prefix
	for _, s := range sorted {
		b.String(s)
	}
	return b
}

// Int adds an integer to the hash.
func (b *HashBuilder) Int(i int) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Uint64 adds a uint64 to the hash.
func (b *HashBuilder) Uint64(i uint64) *HashBuilder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	b.h.Write(buf[:])
	return b
}

// Float64 adds a float64 to the hash by its bit pattern.
func (b *HashBuilder) Float64(f float64) *HashBuilder {
	return b.Uint64(math.Float64bits(f))
}

// Bool adds a boolean to the hash.
func (b *HashBuilder) Bool(v bool) *HashBuilder {
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Build returns the final hash value.
func (b *HashBuilder) Build() uint64 {
	return b.h.Sum64()
}

// Hex returns the final hash as 16 hex digits.
func (b *HashBuilder) Hex() string {
	return fmt.Sprintf("%016x", b.Build())
}

// =============================================================================
// Scratch Paths
// =============================================================================

// HashString returns the hash of a single string.
func HashString(s string) uint64 {
	return NewHashBuilder().String(s).Build()
}

// Dir returns root/<prefix>-<key>.
func Dir(root, prefix, key string) string {
	return filepath.Join(root, prefix+"-"+key)
}

// FileName returns a deterministic file name for source, keeping its
// extension so drivers can still recognise the format. A URL query or
// fragment does not count as part of the extension.
func FileName(source string) string {
	trimmed := source
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	ext := filepath.Ext(trimmed)
	if len(ext) > 16 {
		ext = ""
	}
	return fmt.Sprintf("%016x%s", HashString(source), ext)
}
