// Package opcode defines the instruction set of the stack-machine runtime
// targeted by the compiler back end: one-byte primary opcodes and two-byte
// opcodes prefixed by the 0xFE escape byte, mirroring the encoding used by
// managed stack-machine runtimes (primary range 0x00-0xDD, extended range
// FE 00-FE DD).
package opcode

import "fmt"

// Opcode identifies a single primary-range instruction. Extended (FE-prefixed)
// instructions share this type; since both tables start counting from zero,
// the 0xFE prefix on the wire is what tells them apart, and ExtendedString/
// IsValidExtended are the extended-table counterparts of String/IsValid.
type Opcode byte

// Primary opcodes (single byte on the wire).
const (
	NOP Opcode = iota
	BREAK

	LDNULL
	LDC_I4_M1
	LDC_I4_0
	LDC_I4_1
	LDC_I4_2
	LDC_I4_3
	LDC_I4_4
	LDC_I4_5
	LDC_I4_6
	LDC_I4_7
	LDC_I4_8
	LDC_I4_S
	LDC_I4
	LDC_I8
	LDC_R8
	LDSTR_S
	LDSTR

	POP
	DUP

	LDLOC_0
	LDLOC_1
	LDLOC_2
	LDLOC_3
	LDLOC_S
	STLOC_0
	STLOC_1
	STLOC_2
	STLOC_3
	STLOC_S
	LDLOCA_S

	LDARG_0
	LDARG_1
	LDARG_2
	LDARG_3
	LDARG_S
	STARG_S
	LDARGA_S

	LDFLD
	STFLD
	LDSFLD
	STSFLD

	ADD
	SUB
	MUL
	DIV
	REM
	NEG

	AND
	OR
	XOR
	NOT
	SHL
	SHR
	SHR_UN

	CONV_I4
	CONV_U4
	CONV_R8
	BOX

	BR
	BRTRUE
	BRFALSE
	BEQ
	BNE_UN
	BGT
	BGE
	BLT
	BLE
	BGT_UN
	BGE_UN
	BLT_UN
	BLE_UN

	RET
	SWITCH

	NEWOBJ
	CALL
	CALLVIRT

	NEWARR
	LDELEM
	STELEM
	LDLEN

	THROW
	LEAVE
	ENDFINALLY

	SYSCALL

	opcodeCount
)

// Extended (0xFE-prefixed) opcodes.
const (
	CEQ Opcode = iota
	CGT
	CGT_UN
	CLT
	CLT_UN

	LDLOC
	STLOC
	LDLOCA

	LDARG
	STARG
	LDARGA

	ENDFILTER

	extendedCount
)

var primaryNames = [...]string{
	"nop", "break",
	"ldnull", "ldc.i4.m1", "ldc.i4.0", "ldc.i4.1", "ldc.i4.2", "ldc.i4.3",
	"ldc.i4.4", "ldc.i4.5", "ldc.i4.6", "ldc.i4.7", "ldc.i4.8",
	"ldc.i4.s", "ldc.i4", "ldc.i8", "ldc.r8", "ldstr.s", "ldstr",
	"pop", "dup",
	"ldloc.0", "ldloc.1", "ldloc.2", "ldloc.3", "ldloc.s",
	"stloc.0", "stloc.1", "stloc.2", "stloc.3", "stloc.s", "ldloca.s",
	"ldarg.0", "ldarg.1", "ldarg.2", "ldarg.3", "ldarg.s", "starg.s", "ldarga.s",
	"ldfld", "stfld", "ldsfld", "stsfld",
	"add", "sub", "mul", "div", "rem", "neg",
	"and", "or", "xor", "not", "shl", "shr", "shr.un",
	"conv.i4", "conv.u4", "conv.r8", "box",
	"br", "brtrue", "brfalse", "beq", "bne.un",
	"bgt", "bge", "blt", "ble", "bgt.un", "bge.un", "blt.un", "ble.un",
	"ret", "switch",
	"newobj", "call", "callvirt",
	"newarr", "ldelem", "stelem", "ldlen",
	"throw", "leave", "endfinally",
	"syscall",
}

var extendedNames = [...]string{
	"ceq", "cgt", "cgt.un", "clt", "clt.un",
	"ldloc", "stloc", "ldloca",
	"ldarg", "starg", "ldarga",
	"endfilter",
}

// String renders the primary opcode's mnemonic. Use ExtendedString for the
// FE-prefixed table.
func (o Opcode) String() string {
	if int(o) < len(primaryNames) {
		return primaryNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", byte(o))
}

// ExtendedString renders the FE-prefixed opcode's mnemonic.
func ExtendedString(o Opcode) string {
	if int(o) < len(extendedNames) {
		return "fe." + extendedNames[o]
	}
	return fmt.Sprintf("ExtendedOpcode(%d)", byte(o))
}

// ExtendedPrefix is the escape byte that introduces a two-byte opcode.
const ExtendedPrefix = 0xFE

// IsValid reports whether o is a known primary opcode.
func IsValid(o Opcode) bool {
	return o < opcodeCount
}

// IsValidExtended reports whether o is a known extended opcode.
func IsValidExtended(o Opcode) bool {
	return o < extendedCount
}

var jumpFamily = map[Opcode]bool{
	BR: true, BRTRUE: true, BRFALSE: true,
	BEQ: true, BNE_UN: true,
	BGT: true, BGE: true, BLT: true, BLE: true,
	BGT_UN: true, BGE_UN: true, BLT_UN: true, BLE_UN: true,
	LEAVE: true,
}

// IsJump reports whether o carries a 4-byte relative-offset operand,
// whether it is a conditional/unconditional branch or the exception-region
// exit instruction LEAVE.
func IsJump(o Opcode) bool {
	return jumpFamily[o]
}

var terminatorFamily = map[Opcode]bool{
	BR: true, RET: true, THROW: true, LEAVE: true, ENDFINALLY: true, SWITCH: false,
}

// IsTerminator reports whether o unconditionally ends the current control
// path, after which the evaluation stack is indeterminate until a label
// restores it (§4.2 of the design).
func IsTerminator(o Opcode) bool {
	return terminatorFamily[o]
}

// IsTerminatorExtended reports the same for the extended table (only
// ENDFILTER terminates).
func IsTerminatorExtended(o Opcode) bool {
	return o == ENDFILTER
}

// This package has no per-opcode stack-effect table; the emitter computes
// every instruction's effect itself, including the variable-arity ones
// (CALL, CALLVIRT, NEWOBJ, SWITCH) from the call-site signature.
