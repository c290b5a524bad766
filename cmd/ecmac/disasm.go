package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/ecmavm/engine/pkg/codegen"
	"github.com/ecmavm/engine/pkg/emit"
	"github.com/ecmavm/engine/pkg/opcode"
)

// disassemble renders r (and recursively its closures) as a human-readable
// instruction listing, using opcode.String/ExtendedString for mnemonics and
// decodeExceptionTable for the clause table, the way ecmac disasm's output
// is described in the design.
func disassemble(r codegen.Routine, label string) string {
	var b strings.Builder
	disassembleInto(&b, r, label, 0)
	return b.String()
}

func disassembleInto(b *strings.Builder, r codegen.Routine, label string, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%sroutine %s (id=%s, maxstack=%d)\n", indent, label, r.ID, r.MaxStack)

	locals := decodeLocalSignature(r.LocalSignature)
	if len(locals) > 0 {
		fmt.Fprintf(b, "%s  locals: %s\n", indent, strings.Join(locals, ", "))
	}

	code := r.Code
	pc := 0
	for pc < len(code) {
		start := pc
		op := opcode.Opcode(code[pc])
		pc++
		var mnemonic, operand string
		if op == opcode.Opcode(opcode.ExtendedPrefix) {
			ext := opcode.Opcode(code[pc])
			pc++
			mnemonic = opcode.ExtendedString(ext)
			pc, operand = decodeExtendedOperand(ext, code, pc)
		} else {
			mnemonic = op.String()
			pc, operand = decodePrimaryOperand(op, code, pc)
		}
		if operand != "" {
			fmt.Fprintf(b, "%s  %5d: %-12s %s\n", indent, start, mnemonic, operand)
		} else {
			fmt.Fprintf(b, "%s  %5d: %s\n", indent, start, mnemonic)
		}
	}

	clauses := decodeExceptionTable(r.ExceptionTable)
	for _, c := range clauses {
		fmt.Fprintf(b, "%s  handler: %s\n", indent, c)
	}

	for i, c := range r.Closures {
		disassembleInto(b, c, fmt.Sprintf("%s.closure[%d]", label, i), depth+1)
	}
}

func decodeLocalSignature(sig []byte) []string {
	if len(sig) < 2 {
		return nil
	}
	n := int(sig[0]) | int(sig[1])<<8
	out := make([]string, 0, n)
	for i := 0; i < n && 2+i < len(sig); i++ {
		out = append(out, kindName(sig[2+i]))
	}
	return out
}

// kindName mirrors pkg/kind.Kind.String without importing the checked-build
// stack-tracking package into a tool that only ever reads its byte output.
func kindName(k byte) string {
	switch k {
	case 0:
		return "Int32"
	case 1:
		return "Int64"
	case 2:
		return "NativeInt"
	case 3:
		return "Float"
	case 4:
		return "Object"
	case 5:
		return "ManagedPointer"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// decodePrimaryOperand consumes op's operand bytes (if any) starting at pc
// and returns the new pc plus a printable rendering of the operand.
func decodePrimaryOperand(op opcode.Opcode, code []byte, pc int) (int, string) {
	switch op {
	case opcode.LDC_I4_S, opcode.LDLOC_S, opcode.STLOC_S, opcode.LDLOCA_S,
		opcode.LDARG_S, opcode.STARG_S, opcode.LDARGA_S:
		if pc >= len(code) {
			return pc, "<truncated>"
		}
		v := code[pc]
		pc++
		if op == opcode.LDC_I4_S {
			return pc, fmt.Sprintf("%d", int8(v))
		}
		return pc, fmt.Sprintf("%d", v)
	case opcode.LDC_I4, opcode.BOX, opcode.LDFLD, opcode.STFLD,
		opcode.LDSFLD, opcode.STSFLD, opcode.NEWOBJ, opcode.CALL, opcode.CALLVIRT:
		if pc+4 > len(code) {
			return pc, "<truncated>"
		}
		v := emit.DecodeI32LE(code[pc : pc+4])
		pc += 4
		return pc, fmt.Sprintf("%d", v)
	case opcode.LDC_I8:
		if pc+8 > len(code) {
			return pc, "<truncated>"
		}
		v := int64(binary.LittleEndian.Uint64(code[pc : pc+8]))
		pc += 8
		return pc, fmt.Sprintf("%d", v)
	case opcode.LDC_R8:
		if pc+8 > len(code) {
			return pc, "<truncated>"
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(code[pc : pc+8]))
		pc += 8
		return pc, fmt.Sprintf("%g", v)
	case opcode.LDSTR_S:
		if pc >= len(code) {
			return pc, "<truncated>"
		}
		n := int(code[pc])
		pc++
		return decodeStringBody(code, pc, n)
	case opcode.LDSTR:
		if pc+4 > len(code) {
			return pc, "<truncated>"
		}
		n := int(binary.LittleEndian.Uint32(code[pc : pc+4]))
		pc += 4
		return decodeStringBody(code, pc, n)
	case opcode.SYSCALL:
		if pc >= len(code) {
			return pc, "<truncated>"
		}
		n := int(code[pc])
		pc++
		return decodeStringBody(code, pc, n)
	case opcode.BR, opcode.BRTRUE, opcode.BRFALSE,
		opcode.BEQ, opcode.BNE_UN,
		opcode.BGT, opcode.BGE, opcode.BLT, opcode.BLE,
		opcode.BGT_UN, opcode.BGE_UN, opcode.BLT_UN, opcode.BLE_UN,
		opcode.LEAVE:
		if pc+4 > len(code) {
			return pc, "<truncated>"
		}
		rel := emit.DecodeI32LE(code[pc : pc+4])
		target := pc + 4 + int(rel)
		pc += 4
		return pc, fmt.Sprintf("-> %d", target)
	case opcode.SWITCH:
		if pc+2 > len(code) {
			return pc, "<truncated>"
		}
		n := int(binary.LittleEndian.Uint16(code[pc : pc+2]))
		pc += 2
		targets := make([]string, 0, n)
		for i := 0; i < n; i++ {
			if pc+4 > len(code) {
				targets = append(targets, "<truncated>")
				break
			}
			rel := emit.DecodeI32LE(code[pc : pc+4])
			targets = append(targets, fmt.Sprintf("%d", pc+4+int(rel)))
			pc += 4
		}
		return pc, "[" + strings.Join(targets, ", ") + "]"
	default:
		return pc, ""
	}
}

func decodeExtendedOperand(op opcode.Opcode, code []byte, pc int) (int, string) {
	switch op {
	case opcode.LDLOC, opcode.STLOC, opcode.LDLOCA, opcode.LDARG, opcode.STARG, opcode.LDARGA:
		if pc+2 > len(code) {
			return pc, "<truncated>"
		}
		v := binary.LittleEndian.Uint16(code[pc : pc+2])
		pc += 2
		return pc, fmt.Sprintf("%d", v)
	default:
		return pc, ""
	}
}

func decodeStringBody(code []byte, pc, n int) (int, string) {
	if pc+n > len(code) {
		return pc, "<truncated>"
	}
	s := string(code[pc : pc+n])
	pc += n
	return pc, fmt.Sprintf("%q", s)
}

// exceptionClause is the decoded form of one 24-byte fat clause entry.
type exceptionClause struct {
	flags                              uint32
	tryOffset, tryLength                uint32
	handlerOffset, handlerLength        uint32
	classTokenOrFilterOffset            uint32
}

func (c exceptionClause) String() string {
	kind := "catch"
	extra := fmt.Sprintf("type=%d", int32(c.classTokenOrFilterOffset))
	switch c.flags {
	case 1:
		kind = "filter"
		extra = fmt.Sprintf("filter@%d", c.classTokenOrFilterOffset)
	case 2:
		kind = "finally"
		extra = ""
	case 4:
		kind = "fault"
		extra = ""
	}
	s := fmt.Sprintf("try[%d,%d) %s[%d,%d)", c.tryOffset, c.tryOffset+c.tryLength,
		kind, c.handlerOffset, c.handlerOffset+c.handlerLength)
	if extra != "" {
		s += " " + extra
	}
	return s
}

func decodeExceptionTable(b []byte) []exceptionClause {
	if len(b) < 4 {
		return nil
	}
	n := binary.LittleEndian.Uint32(b[:4])
	out := make([]exceptionClause, 0, n)
	pos := 4
	for i := uint32(0); i < n && pos+24 <= len(b); i++ {
		out = append(out, exceptionClause{
			flags:                     binary.LittleEndian.Uint32(b[pos : pos+4]),
			tryOffset:                 binary.LittleEndian.Uint32(b[pos+4 : pos+8]),
			tryLength:                 binary.LittleEndian.Uint32(b[pos+8 : pos+12]),
			handlerOffset:             binary.LittleEndian.Uint32(b[pos+12 : pos+16]),
			handlerLength:             binary.LittleEndian.Uint32(b[pos+16 : pos+20]),
			classTokenOrFilterOffset:  binary.LittleEndian.Uint32(b[pos+20 : pos+24]),
		})
		pos += 24
	}
	return out
}
