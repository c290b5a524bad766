// Package main implements ecmac, the compile/disasm/repl front end for the
// method generator. Grounded on the teacher's cli/vm/cli.go and
// cli/vm/vm.go: a urfave/cli command set plus a readline-backed REPL loop.
package main

import (
	"encoding/binary"
	"fmt"

	"github.com/ecmavm/engine/pkg/codegen"
	"github.com/ecmavm/engine/pkg/ilgen"
)

// ecbMagic tags a compiled-bytecode container so disasm can reject a file
// that isn't one before trying to parse it.
var ecbMagic = [4]byte{'E', 'C', 'B', '1'}

// writeECB encodes r, and recursively every closure it defines, in the .ecb
// wire format: a 4-byte magic only at the top level, then for each routine
// a length-prefixed ID, the max-stack count, length-prefixed code/local-
// signature/exception-table blobs, and a closure count followed by each
// closure in the same shape.
func writeECB(r codegen.Routine) []byte {
	buf := append([]byte{}, ecbMagic[:]...)
	return appendRoutine(buf, r)
}

func appendRoutine(buf []byte, r codegen.Routine) []byte {
	buf = appendBlob(buf, []byte(r.ID))
	buf = appendU32(buf, uint32(r.MaxStack))
	buf = appendBlob(buf, r.Code)
	buf = appendBlob(buf, r.LocalSignature)
	buf = appendBlob(buf, r.ExceptionTable)
	buf = appendU32(buf, uint32(len(r.Closures)))
	for _, c := range r.Closures {
		buf = appendRoutine(buf, c)
	}
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendBlob(buf []byte, b []byte) []byte {
	buf = appendU32(buf, uint32(len(b)))
	return append(buf, b...)
}

// ecbReader is a minimal forward-only cursor over a .ecb buffer. ilio's
// BinWriter has no reader counterpart (the emitter never needs to read its
// own output back), so this tiny local helper fills that one gap rather
// than pulling in a general-purpose binary-decoding dependency for it.
type ecbReader struct {
	buf []byte
	pos int
}

func (r *ecbReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("ecb: truncated at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *ecbReader) blob() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("ecb: truncated blob at offset %d", r.pos)
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *ecbReader) routine() (codegen.Routine, error) {
	id, err := r.blob()
	if err != nil {
		return codegen.Routine{}, err
	}
	maxStack, err := r.u32()
	if err != nil {
		return codegen.Routine{}, err
	}
	code, err := r.blob()
	if err != nil {
		return codegen.Routine{}, err
	}
	sig, err := r.blob()
	if err != nil {
		return codegen.Routine{}, err
	}
	exTable, err := r.blob()
	if err != nil {
		return codegen.Routine{}, err
	}
	closureCount, err := r.u32()
	if err != nil {
		return codegen.Routine{}, err
	}
	out := codegen.Routine{
		ID: string(id),
		Routine: ilgen.Routine{
			Code:           code,
			MaxStack:       int(maxStack),
			LocalSignature: sig,
			ExceptionTable: exTable,
		},
	}
	for i := uint32(0); i < closureCount; i++ {
		c, err := r.routine()
		if err != nil {
			return codegen.Routine{}, err
		}
		out.Closures = append(out.Closures, c)
	}
	return out, nil
}

// readECB parses a .ecb buffer back into a Routine tree.
func readECB(buf []byte) (codegen.Routine, error) {
	if len(buf) < 4 || [4]byte(buf[:4]) != ecbMagic {
		return codegen.Routine{}, fmt.Errorf("ecb: missing magic header")
	}
	r := &ecbReader{buf: buf, pos: 4}
	return r.routine()
}
