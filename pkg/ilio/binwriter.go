// Package ilio provides the growable little-endian byte buffer the
// instruction emitter writes into. It mirrors the sticky-error BinWriter
// idiom used throughout the rest of the compiler: a write after an error has
// already occurred is a silent no-op, so callers can chain a long sequence
// of emissions and check Err once at the end.
package ilio

import (
	"encoding/binary"
	"math"
)

// BinWriter accumulates bytes for the instruction stream. Unlike a plain
// bytes.Buffer it remembers the first error it saw (buffer overflow is not
// possible here, but callers layer their own fallible encodings on top, e.g.
// the emitter records its first InvalidEmission here) and refuses every
// subsequent write.
type BinWriter struct {
	buf []byte
	Err error
}

// NewBufBinWriter returns a BinWriter with a small initial capacity; the
// underlying slice doubles whenever a write would overflow it.
func NewBufBinWriter() *BinWriter {
	return &BinWriter{buf: make([]byte, 0, 64)}
}

// Len returns the number of bytes written so far.
func (w *BinWriter) Len() int {
	return len(w.buf)
}

// Bytes returns the accumulated buffer. The returned slice aliases the
// writer's storage and must not be mutated.
func (w *BinWriter) Bytes() []byte {
	if w.Err != nil {
		return nil
	}
	return w.buf
}

// Error returns the sticky error, if any.
func (w *BinWriter) Error() error {
	return w.Err
}

func (w *BinWriter) grow(n int) {
	if cap(w.buf)-len(w.buf) >= n {
		return
	}
	newCap := cap(w.buf) * 2
	if newCap == 0 {
		newCap = 64
	}
	for newCap-len(w.buf) < n {
		newCap *= 2
	}
	nb := make([]byte, len(w.buf), newCap)
	copy(nb, w.buf)
	w.buf = nb
}

// WriteBytes appends b verbatim.
func (w *BinWriter) WriteBytes(b []byte) {
	if w.Err != nil {
		return
	}
	w.grow(len(b))
	w.buf = append(w.buf, b...)
}

// WriteB appends a single byte.
func (w *BinWriter) WriteB(b byte) {
	if w.Err != nil {
		return
	}
	w.grow(1)
	w.buf = append(w.buf, b)
}

// WriteU16LE appends v little-endian.
func (w *BinWriter) WriteU16LE(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.WriteBytes(b[:])
}

// WriteU16BE appends v big-endian.
func (w *BinWriter) WriteU16BE(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.WriteBytes(b[:])
}

// WriteU32LE appends v little-endian.
func (w *BinWriter) WriteU32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.WriteBytes(b[:])
}

// WriteU64LE appends v little-endian.
func (w *BinWriter) WriteU64LE(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.WriteBytes(b[:])
}

// WriteI32LE appends the two's-complement little-endian encoding of v.
func (w *BinWriter) WriteI32LE(v int32) {
	w.WriteU32LE(uint32(v))
}

// WriteI16LE appends the two's-complement little-endian encoding of v.
func (w *BinWriter) WriteI16LE(v int16) {
	w.WriteU16LE(uint16(v))
}

// WriteI64LE appends the two's-complement little-endian encoding of v.
func (w *BinWriter) WriteI64LE(v int64) {
	w.WriteU64LE(uint64(v))
}

// WriteR8LE appends the IEEE-754 double v as a little-endian integer, per
// the ldc.r8 encoding rule.
func (w *BinWriter) WriteR8LE(v float64) {
	w.WriteU64LE(math.Float64bits(v))
}

// PatchU16LE overwrites the two bytes at offset pos. Nothing in this module
// calls it: branch targets are always 4-byte per §4.1 and are patched with
// PatchI32LE.
func (w *BinWriter) PatchU16LE(pos int, v uint16) {
	if w.Err != nil || pos+2 > len(w.buf) {
		return
	}
	binary.LittleEndian.PutUint16(w.buf[pos:pos+2], v)
}

// PatchI32LE overwrites the four bytes at offset pos with v's two's
// complement little-endian encoding. Used to back-patch branch offsets once
// their target label is defined.
func (w *BinWriter) PatchI32LE(pos int, v int32) {
	if w.Err != nil || pos+4 > len(w.buf) {
		return
	}
	binary.LittleEndian.PutUint32(w.buf[pos:pos+4], uint32(v))
}

// PatchU32LE overwrites the four bytes at offset pos.
func (w *BinWriter) PatchU32LE(pos int, v uint32) {
	if w.Err != nil || pos+4 > len(w.buf) {
		return
	}
	binary.LittleEndian.PutUint32(w.buf[pos:pos+4], v)
}
