// Package emit provides the raw, stack-unaware primitives for writing
// opcodes and their operands to a byte stream. It knows the wire encoding
// (shortest-form selection, the 0xFE extended-opcode escape, little-endian
// operands) but nothing about evaluation-stack depth, labels or kinds; that
// bookkeeping belongs to package ilgen, which calls down into this one for
// every instruction it appends.
package emit

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ecmavm/engine/pkg/ilio"
	"github.com/ecmavm/engine/pkg/opcode"
)

// Opcode writes a single primary-range instruction with no operand.
func Opcode(w *ilio.BinWriter, op opcode.Opcode) {
	w.WriteB(byte(op))
}

// Opcodes writes a sequence of no-operand primary instructions; handy for
// idioms that always appear together (e.g. ROT, SETITEM in the teacher's own
// codegen).
func Opcodes(w *ilio.BinWriter, ops ...opcode.Opcode) {
	for _, op := range ops {
		Opcode(w, op)
	}
}

// Extended writes a two-byte extended-range instruction with no operand.
func Extended(w *ilio.BinWriter, op opcode.Opcode) {
	w.WriteB(opcode.ExtendedPrefix)
	w.WriteB(byte(op))
}

// Instruction writes op followed by the raw operand bytes b, with no
// interpretation of b's contents. Used for already-encoded operands such as
// a pre-built exception-clause parameter block.
func Instruction(w *ilio.BinWriter, op opcode.Opcode, b []byte) {
	Opcode(w, op)
	w.WriteBytes(b)
}

// Null emits LDNULL.
func Null(w *ilio.BinWriter) {
	Opcode(w, opcode.LDNULL)
}

// Bool emits the shortest integer push for a boolean (LDC_I4_0/LDC_I4_1);
// the runtime's boolean kind is carried as a 32-bit integer on the wire.
func Bool(w *ilio.BinWriter, v bool) {
	if v {
		Opcode(w, opcode.LDC_I4_1)
	} else {
		Opcode(w, opcode.LDC_I4_0)
	}
}

// Int32 emits an integer push using the shortest available form: the
// dedicated shortcut opcodes for v in [-1,8], the one-byte ldc.i4.s form for
// v in [-128,127], and the full four-byte ldc.i4 form otherwise.
func Int32(w *ilio.BinWriter, v int32) {
	switch {
	case v == -1:
		Opcode(w, opcode.LDC_I4_M1)
	case v >= 0 && v <= 8:
		Opcode(w, opcode.Opcode(int(opcode.LDC_I4_0)+int(v)))
	case v >= -128 && v <= 127:
		Opcode(w, opcode.LDC_I4_S)
		w.WriteB(byte(int8(v)))
	default:
		Opcode(w, opcode.LDC_I4)
		w.WriteI32LE(v)
	}
}

// Int64 emits an eight-byte integer push. int64 values never get a
// short-form encoding in this ISA: narrower literals are typed as Int32 by
// the front end and go through Int32 instead.
func Int64(w *ilio.BinWriter, v int64) {
	Opcode(w, opcode.LDC_I8)
	w.WriteI64LE(v)
}

// Double emits an eight-byte IEEE-754 push.
func Double(w *ilio.BinWriter, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		Opcode(w, opcode.LDC_R8)
		w.WriteR8LE(v)
		return
	}
	Opcode(w, opcode.LDC_R8)
	w.WriteR8LE(v)
}

// String emits a UTF-8 string push, choosing the one-byte-length form for
// strings up to 255 bytes and the four-byte-length form otherwise. This is
// the same shortest-encoding idea the teacher repo applies to byte arrays.
func String(w *ilio.BinWriter, s string) {
	b := []byte(s)
	if len(b) < 0x100 {
		Opcode(w, opcode.LDSTR_S)
		w.WriteB(byte(len(b)))
	} else {
		Opcode(w, opcode.LDSTR)
		w.WriteU32LE(uint32(len(b)))
	}
	w.WriteBytes(b)
}

// jumpFixupLen is the width, in bytes, of every branch operand. The design
// never emits a short (1-byte) branch form even when the offset would fit,
// to avoid the two-pass sizing problem that would otherwise be needed to
// decide between encodings before all labels are placed.
const jumpFixupLen = 4

// Jmp writes a branch instruction with a placeholder 4-byte operand and
// returns the offset of that operand within w, so the caller (the label
// manager) can either fill it in immediately (label already defined) or
// queue a fix-up (label still pending).
func Jmp(w *ilio.BinWriter, instr opcode.Opcode, placeholder int32) int {
	if !opcode.IsJump(instr) {
		w.Err = fmt.Errorf("emit: opcode %s is not a branch instruction", instr)
		return -1
	}
	Opcode(w, instr)
	pos := w.Len()
	w.WriteI32LE(placeholder)
	return pos
}

// Switch writes the SWITCH instruction: a two-byte case count followed by
// one 4-byte placeholder per case, mirroring Jmp's placeholder protocol. It
// returns the operand offsets of each case slot in order.
func Switch(w *ilio.BinWriter, n int) []int {
	Opcode(w, opcode.SWITCH)
	w.WriteU16LE(uint16(n))
	offs := make([]int, n)
	for i := 0; i < n; i++ {
		offs[i] = w.Len()
		w.WriteI32LE(0)
	}
	return offs
}

// RelativeOffset computes the signed relative displacement the runtime
// expects in a branch operand: target minus the offset of the instruction
// immediately following the operand.
func RelativeOffset(target, nextInstructionOffset int) int32 {
	return int32(target - nextInstructionOffset)
}

// DecodeI32LE reads a little-endian 4-byte operand back out, used by the
// disassembler and by round-trip tests.
func DecodeI32LE(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}
