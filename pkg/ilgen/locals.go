package ilgen

import (
	"github.com/ecmavm/engine/pkg/emit"
	"github.com/ecmavm/engine/pkg/kind"
	"github.com/ecmavm/engine/pkg/opcode"
)

// maxSlotIndex bounds both the local and the argument table: the extended
// (FE-prefixed) load/store forms carry a two-byte slot index, so a table
// past this size has no encoding left to reach its tail.
const maxSlotIndex = 0xFFFF

// localTable holds the declared kind of every local and argument slot, in
// declaration order, so Load/Store can pick the shortest opcode form and
// (in checked builds) validate the value being stored.
type localTable struct {
	locals []kind.Kind
	args   []kind.Kind
}

func newLocalTable() *localTable {
	return &localTable{}
}

func (t *localTable) declare(slots *[]kind.Kind, k kind.Kind, overflow ErrKind) (int, error) {
	idx := len(*slots)
	if idx > maxSlotIndex {
		return 0, newErr(overflow, "slot table already holds %d entries", idx)
	}
	*slots = append(*slots, k)
	return idx, nil
}

// signature encodes the local table as a compact blob for the runtime
// loader: a two-byte count followed by one kind byte per slot, in
// declaration order. Arguments are not part of this blob; the loader
// derives argument count from the method's own parameter list.
func (t *localTable) signature() ([]byte, error) {
	if len(t.locals) > maxSlotIndex {
		return nil, newErr(TooManyLocals, "local table holds %d entries", len(t.locals))
	}
	w := make([]byte, 2, 2+len(t.locals))
	w[0] = byte(len(t.locals))
	w[1] = byte(len(t.locals) >> 8)
	for _, k := range t.locals {
		w = append(w, byte(k))
	}
	return w, nil
}

// DeclareLocal adds a new local slot of kind k and returns its index. Locals
// must be declared before any reference to their index; the method
// generator declares each one when its walk first reaches the construct
// that needs it (a var, a catch parameter, a with or switch temporary).
func (e *Emitter) DeclareLocal(k kind.Kind) (int, error) {
	if e.failed() {
		return 0, e.Err
	}
	idx, err := e.locals.declare(&e.locals.locals, k, TooManyLocals)
	if err != nil {
		e.fail(err)
		return 0, err
	}
	return idx, nil
}

// DeclareArgument adds a new argument slot of kind k and returns its index.
func (e *Emitter) DeclareArgument(k kind.Kind) (int, error) {
	if e.failed() {
		return 0, e.Err
	}
	idx, err := e.locals.declare(&e.locals.args, k, TooManyArguments)
	if err != nil {
		e.fail(err)
		return 0, err
	}
	return idx, nil
}

func (e *Emitter) localKind(index int) (kind.Kind, error) {
	if index < 0 || index >= len(e.locals.locals) {
		return 0, newErr(TooManyLocals, "local index %d was never declared", index)
	}
	return e.locals.locals[index], nil
}

func (e *Emitter) argKind(index int) (kind.Kind, error) {
	if index < 0 || index >= len(e.locals.args) {
		return 0, newErr(TooManyArguments, "argument index %d was never declared", index)
	}
	return e.locals.args[index], nil
}

// LoadLocal pushes the value of local slot index, choosing ldloc.0-3 for the
// first four slots, the one-byte ldloc.s form up to 255, and the two-byte
// extended ldloc form beyond that.
func (e *Emitter) LoadLocal(index int) error {
	if e.failed() {
		return e.Err
	}
	k, err := e.localKind(index)
	if err != nil {
		e.fail(err)
		return err
	}
	switch {
	case index <= 3:
		emit.Opcode(e.code, opcode.Opcode(int(opcode.LDLOC_0)+index))
	case index <= 0xFF:
		emit.Opcode(e.code, opcode.LDLOC_S)
		e.code.WriteB(byte(index))
	default:
		emit.Extended(e.code, opcode.LDLOC)
		e.code.WriteU16LE(uint16(index))
	}
	e.push(1, k)
	return nil
}

// StoreLocal pops the top value into local slot index, validating (in
// checked builds) that its kind matches the slot's declared kind.
func (e *Emitter) StoreLocal(index int) error {
	if e.failed() {
		return e.Err
	}
	k, err := e.localKind(index)
	if err != nil {
		e.fail(err)
		return err
	}
	e.pop(1, kind.Of(k))
	if e.failed() {
		return e.Err
	}
	switch {
	case index <= 3:
		emit.Opcode(e.code, opcode.Opcode(int(opcode.STLOC_0)+index))
	case index <= 0xFF:
		emit.Opcode(e.code, opcode.STLOC_S)
		e.code.WriteB(byte(index))
	default:
		emit.Extended(e.code, opcode.STLOC)
		e.code.WriteU16LE(uint16(index))
	}
	return nil
}

// LoadLocalAddress pushes a managed pointer to local slot index. There is no
// zero-operand shortcut for address-of, only the one- and two-byte forms.
func (e *Emitter) LoadLocalAddress(index int) error {
	if e.failed() {
		return e.Err
	}
	if _, err := e.localKind(index); err != nil {
		e.fail(err)
		return err
	}
	if index <= 0xFF {
		emit.Opcode(e.code, opcode.LDLOCA_S)
		e.code.WriteB(byte(index))
	} else {
		emit.Extended(e.code, opcode.LDLOCA)
		e.code.WriteU16LE(uint16(index))
	}
	e.push(1, kind.ManagedPointer)
	return nil
}

// LoadArgument pushes the value of argument slot index.
func (e *Emitter) LoadArgument(index int) error {
	if e.failed() {
		return e.Err
	}
	k, err := e.argKind(index)
	if err != nil {
		e.fail(err)
		return err
	}
	switch {
	case index <= 3:
		emit.Opcode(e.code, opcode.Opcode(int(opcode.LDARG_0)+index))
	case index <= 0xFF:
		emit.Opcode(e.code, opcode.LDARG_S)
		e.code.WriteB(byte(index))
	default:
		emit.Extended(e.code, opcode.LDARG)
		e.code.WriteU16LE(uint16(index))
	}
	e.push(1, k)
	return nil
}

// StoreArgument pops the top value into argument slot index. Unlike locals,
// arguments have no zero-operand store shortcut: storing to a parameter is
// rare enough in generated code that the teacher's ISA (and this one) only
// gives it the one- and two-byte forms.
func (e *Emitter) StoreArgument(index int) error {
	if e.failed() {
		return e.Err
	}
	k, err := e.argKind(index)
	if err != nil {
		e.fail(err)
		return err
	}
	e.pop(1, kind.Of(k))
	if e.failed() {
		return e.Err
	}
	if index <= 0xFF {
		emit.Opcode(e.code, opcode.STARG_S)
		e.code.WriteB(byte(index))
	} else {
		emit.Extended(e.code, opcode.STARG)
		e.code.WriteU16LE(uint16(index))
	}
	return nil
}

// LoadArgumentAddress pushes a managed pointer to argument slot index.
func (e *Emitter) LoadArgumentAddress(index int) error {
	if e.failed() {
		return e.Err
	}
	if _, err := e.argKind(index); err != nil {
		e.fail(err)
		return err
	}
	if index <= 0xFF {
		emit.Opcode(e.code, opcode.LDARGA_S)
		e.code.WriteB(byte(index))
	} else {
		emit.Extended(e.code, opcode.LDARGA)
		e.code.WriteU16LE(uint16(index))
	}
	e.push(1, kind.ManagedPointer)
	return nil
}
