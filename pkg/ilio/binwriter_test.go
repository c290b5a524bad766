package ilio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteU64LE(t *testing.T) {
	val := uint64(0xbadc0de15a11dead)
	bin := []byte{0xad, 0xde, 0x11, 0x5a, 0xe1, 0x0d, 0xdc, 0xba}

	bw := NewBufBinWriter()
	bw.WriteU64LE(val)
	assert.Nil(t, bw.Error())
	assert.Equal(t, bin, bw.Bytes())
}

func TestWriteU32LE(t *testing.T) {
	val := uint32(0xdeadbeef)
	bin := []byte{0xef, 0xbe, 0xad, 0xde}

	bw := NewBufBinWriter()
	bw.WriteU32LE(val)
	assert.Nil(t, bw.Error())
	assert.Equal(t, bin, bw.Bytes())
}

func TestWriteU16LE(t *testing.T) {
	bw := NewBufBinWriter()
	bw.WriteU16LE(0xbabe)
	assert.Equal(t, []byte{0xbe, 0xba}, bw.Bytes())
}

func TestWriteU16BE(t *testing.T) {
	bw := NewBufBinWriter()
	bw.WriteU16BE(0xbabe)
	assert.Equal(t, []byte{0xba, 0xbe}, bw.Bytes())
}

func TestWriteR8LE(t *testing.T) {
	bw := NewBufBinWriter()
	bw.WriteR8LE(1.5)
	assert.Equal(t, 8, bw.Len())
}

func TestStickyErrorStopsWrites(t *testing.T) {
	bw := NewBufBinWriter()
	bw.WriteB(1)
	bw.Err = assertErr
	bw.WriteB(2)
	assert.Equal(t, 1, bw.Len())
}

func TestGrowthDoubles(t *testing.T) {
	bw := NewBufBinWriter()
	initial := cap(bw.buf)
	bw.WriteBytes(make([]byte, initial+1))
	assert.GreaterOrEqual(t, cap(bw.buf), initial*2)
}

func TestPatchI32LE(t *testing.T) {
	bw := NewBufBinWriter()
	bw.WriteI32LE(0)
	bw.PatchI32LE(0, -5)
	assert.Equal(t, int32(-5), int32(bw.Bytes()[0])|int32(bw.Bytes()[1])<<8|int32(bw.Bytes()[2])<<16|int32(bw.Bytes()[3])<<24)
}

var assertErr = &stickyErr{"boom"}

type stickyErr struct{ s string }

func (e *stickyErr) Error() string { return e.s }
