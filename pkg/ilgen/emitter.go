// Package ilgen implements the compilation back end's instruction emitter:
// the stack-oriented bytecode assembler described in §4.1-§4.4 of the
// design. One Emitter is created per method being generated and is torn
// down once Complete hands its byte stream to the runtime loader.
package ilgen

import (
	"github.com/ecmavm/engine/pkg/emit"
	"github.com/ecmavm/engine/pkg/ilio"
	"github.com/ecmavm/engine/pkg/kind"
	"github.com/ecmavm/engine/pkg/opcode"
)

// Emitter assembles one method's byte stream, tracking evaluation-stack
// depth (and, in checked builds, operand kinds) as it goes so that a
// malformed emission sequence fails at compile time rather than corrupting
// the generated routine.
type Emitter struct {
	code   *ilio.BinWriter
	Checked bool

	stackDepth    int
	maxStack      int
	indeterminate bool
	kinds         []kind.Kind // only maintained when Checked

	locals    *localTable
	labels    []*label
	fixups    []fixup
	exception *exceptionBuilder

	// Err is the first error observed by any emitter call. Once set, every
	// subsequent call is a no-op; check it (or call Complete, which returns
	// it) once at the end of a code-generation pass.
	Err error
}

// New creates an Emitter over a fresh output buffer. checked enables the
// per-value kind stack used to catch operand-type mismatches in addition to
// the always-on depth counter; production builds may disable it to save the
// bookkeeping cost once a program is known to compile cleanly.
func New(checked bool) *Emitter {
	return &Emitter{
		code:      ilio.NewBufBinWriter(),
		Checked:   checked,
		locals:    newLocalTable(),
		exception: newExceptionBuilder(),
	}
}

// pc returns the offset of the next instruction to be written.
func (e *Emitter) pc() int {
	return e.code.Len()
}

func (e *Emitter) fail(err error) {
	if e.Err == nil {
		e.Err = err
	}
	if e.code.Err == nil {
		e.code.Err = err
	}
}

func (e *Emitter) failed() bool {
	return e.Err != nil
}

// StackDepth returns the current live depth of the evaluation stack. Tests
// use this to assert the invariants in §8 without reaching into private
// fields.
func (e *Emitter) StackDepth() int {
	return e.stackDepth
}

// MaxStack returns the running maximum depth observed so far; this is the
// value handed to the runtime loader at Complete.
func (e *Emitter) MaxStack() int {
	return e.maxStack
}

// Indeterminate reports whether the emitter is currently past an
// unconditional terminator and awaiting a label definition to restore the
// stack state (§4.2).
func (e *Emitter) Indeterminate() bool {
	return e.indeterminate
}

// push records n values of kind k landing on the evaluation stack.
func (e *Emitter) push(n int, k kind.Kind) {
	for i := 0; i < n; i++ {
		e.stackDepth++
		if e.Checked {
			e.kinds = append(e.kinds, k)
		}
	}
	if e.stackDepth > e.maxStack {
		e.maxStack = e.stackDepth
	}
}

// pop removes n values, asserting each (when Checked) is a member of
// accept. Underflow and kind mismatches both fail with InvalidEmission; the
// depth counter is authoritative even in unchecked builds.
func (e *Emitter) pop(n int, accept kind.Set) {
	if e.failed() {
		return
	}
	for i := 0; i < n; i++ {
		if e.stackDepth <= 0 {
			e.fail(newErr(StackUnderflow, "pop below zero at offset %d", e.pc()))
			return
		}
		e.stackDepth--
		if e.Checked {
			top := e.kinds[len(e.kinds)-1]
			e.kinds = e.kinds[:len(e.kinds)-1]
			if !accept.Has(top) {
				e.fail(kindMismatchErr(accept, top))
				return
			}
		}
	}
}

// resetStackTo forcibly sets the live stack state, used when a label
// definition restores state after an indeterminate region, and when
// entering catch/finally/fault clauses which start from a known state
// regardless of how the try block left the stack.
func (e *Emitter) resetStackTo(depth int, kinds []kind.Kind) {
	e.stackDepth = depth
	if e.Checked {
		e.kinds = append([]kind.Kind(nil), kinds...)
	}
	if depth > e.maxStack {
		e.maxStack = depth
	}
}

func (e *Emitter) snapshotKinds() []kind.Kind {
	if !e.Checked {
		return nil
	}
	return append([]kind.Kind(nil), e.kinds...)
}

// --- value pushes ---

// LoadNull pushes the null/undefined reference.
func (e *Emitter) LoadNull() {
	if e.failed() {
		return
	}
	emit.Null(e.code)
	e.push(1, kind.Object)
}

// LoadString pushes a string constant.
func (e *Emitter) LoadString(s string) {
	if e.failed() {
		return
	}
	emit.String(e.code, s)
	e.push(1, kind.Object)
}

// LoadInt32 pushes a 32-bit integer constant, using the shortest available
// encoding (§4.1: shortcut opcodes for [-1,8], one-byte form for
// [-128,127], full four-byte form otherwise).
func (e *Emitter) LoadInt32(v int32) {
	if e.failed() {
		return
	}
	emit.Int32(e.code, v)
	e.push(1, kind.Int32)
}

// LoadInt64 pushes a 64-bit integer constant.
func (e *Emitter) LoadInt64(v int64) {
	if e.failed() {
		return
	}
	emit.Int64(e.code, v)
	e.push(1, kind.Int64)
}

// LoadDouble pushes an IEEE-754 double constant.
func (e *Emitter) LoadDouble(v float64) {
	if e.failed() {
		return
	}
	emit.Double(e.code, v)
	e.push(1, kind.Float)
}

// Pop discards the top value, whatever its kind.
func (e *Emitter) Pop() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.POP)
	e.pop(1, kind.Any)
}

// Duplicate pushes a second copy of the top value, preserving its kind.
func (e *Emitter) Duplicate() {
	if e.failed() {
		return
	}
	var top kind.Kind
	if e.Checked {
		if len(e.kinds) == 0 {
			e.fail(newErr(StackUnderflow, "dup on empty stack at offset %d", e.pc()))
			return
		}
		top = e.kinds[len(e.kinds)-1]
	}
	emit.Opcode(e.code, opcode.DUP)
	e.push(1, top)
}

// --- arithmetic / bitwise / compare ---

func (e *Emitter) binaryNumeric(op opcode.Opcode) {
	if e.failed() {
		return
	}
	var a kind.Kind
	if e.Checked && len(e.kinds) >= 2 {
		a = e.kinds[len(e.kinds)-1]
		if b := e.kinds[len(e.kinds)-2]; b != a {
			e.fail(newErr(KindMismatch, "binary numeric op requires matching operand kinds, got %s and %s", b, a))
			return
		}
	}
	emit.Opcode(e.code, op)
	e.pop(2, kind.Numeric)
	e.push(1, a)
}

// Add emits a binary numeric add; both operands must share a kind, and the
// result carries that kind.
func (e *Emitter) Add() { e.binaryNumeric(opcode.ADD) }

// Subtract emits a binary numeric subtraction.
func (e *Emitter) Subtract() { e.binaryNumeric(opcode.SUB) }

// Multiply emits a binary numeric multiplication.
func (e *Emitter) Multiply() { e.binaryNumeric(opcode.MUL) }

// Divide emits a binary numeric division.
func (e *Emitter) Divide() { e.binaryNumeric(opcode.DIV) }

// Remainder emits a binary numeric remainder.
func (e *Emitter) Remainder() { e.binaryNumeric(opcode.REM) }

// Negate emits a unary numeric negation.
func (e *Emitter) Negate() {
	if e.failed() {
		return
	}
	var a kind.Kind
	if e.Checked && len(e.kinds) >= 1 {
		a = e.kinds[len(e.kinds)-1]
	}
	emit.Opcode(e.code, opcode.NEG)
	e.pop(1, kind.Numeric)
	e.push(1, a)
}

func (e *Emitter) binaryIntegral(op opcode.Opcode) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, op)
	e.pop(2, kind.Integral)
	e.push(1, kind.Int32)
}

// BitwiseAnd emits a 32-bit bitwise AND.
func (e *Emitter) BitwiseAnd() { e.binaryIntegral(opcode.AND) }

// BitwiseOr emits a 32-bit bitwise OR.
func (e *Emitter) BitwiseOr() { e.binaryIntegral(opcode.OR) }

// BitwiseXor emits a 32-bit bitwise XOR.
func (e *Emitter) BitwiseXor() { e.binaryIntegral(opcode.XOR) }

// BitwiseNot emits a 32-bit bitwise complement (unary).
func (e *Emitter) BitwiseNot() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.NOT)
	e.pop(1, kind.Integral)
	e.push(1, kind.Int32)
}

// ShiftLeft emits a 32-bit left shift.
func (e *Emitter) ShiftLeft() { e.binaryIntegral(opcode.SHL) }

// ShiftRight emits a 32-bit arithmetic right shift.
func (e *Emitter) ShiftRight() { e.binaryIntegral(opcode.SHR) }

// ShiftRightUnsigned emits a 32-bit logical right shift.
func (e *Emitter) ShiftRightUnsigned() { e.binaryIntegral(opcode.SHR_UN) }

func (e *Emitter) compare(op opcode.Opcode) {
	if e.failed() {
		return
	}
	emit.Extended(e.code, op)
	e.pop(2, kind.Numeric)
	e.push(1, kind.Int32)
}

// CompareEqual pushes 1 if the two popped operands are equal, else 0.
func (e *Emitter) CompareEqual() { e.compare(opcode.CEQ) }

// CompareGreaterThan pushes 1 if the second-popped operand (the one pushed
// first) is greater than the first-popped one.
func (e *Emitter) CompareGreaterThan() { e.compare(opcode.CGT) }

// CompareGreaterThanUnsigned is the unsigned-comparison variant.
func (e *Emitter) CompareGreaterThanUnsigned() { e.compare(opcode.CGT_UN) }

// CompareLessThan pushes 1 if the second-popped operand (the one pushed
// first) is less than the first-popped one.
func (e *Emitter) CompareLessThan() { e.compare(opcode.CLT) }

// CompareLessThanUnsigned is the unsigned-comparison variant.
func (e *Emitter) CompareLessThanUnsigned() { e.compare(opcode.CLT_UN) }

// --- conversions ---

// ConvertToInteger converts the top value to a 32-bit signed integer.
func (e *Emitter) ConvertToInteger() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.CONV_I4)
	e.pop(1, kind.Numeric)
	e.push(1, kind.Int32)
}

// ConvertToUnsignedInteger converts the top value to a 32-bit unsigned
// integer (still represented by kind.Int32 on the stack; signedness is a
// runtime-value concern, not a stack-shape one).
func (e *Emitter) ConvertToUnsignedInteger() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.CONV_U4)
	e.pop(1, kind.Numeric)
	e.push(1, kind.Int32)
}

// ConvertToDouble converts the top value to a double.
func (e *Emitter) ConvertToDouble() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.CONV_R8)
	e.pop(1, kind.Numeric)
	e.push(1, kind.Float)
}

// Box wraps a value-kind operand (Int32/Int64/Float) into a managed object,
// e.g. before returning a primitive from a method whose callers expect a
// boxed value. typeToken identifies the boxed representation to the
// runtime loader and is opaque to the emitter.
func (e *Emitter) Box(typeToken int32) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.BOX)
	e.code.WriteI32LE(typeToken)
	e.pop(1, kind.Numeric)
	e.push(1, kind.Object)
}

// --- misc ---

// Throw pops the exception object and marks the stack indeterminate: the
// only way execution reaches the next emitted instruction is through a
// label that was a registered catch/filter handler entry point.
func (e *Emitter) Throw() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.THROW)
	e.pop(1, kind.Of(kind.Object))
	e.indeterminate = true
}

// Breakpoint emits a debugger trap with no stack effect.
func (e *Emitter) Breakpoint() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.BREAK)
}

// NoOperation emits a no-op.
func (e *Emitter) NoOperation() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.NOP)
}

// Syscall emits a call into the host's narrow standard-library surface
// (§1's "runtime value domain" collaborator), identified by name. argCount
// values are popped and, if resultIsValue, one Object is pushed.
func (e *Emitter) Syscall(name string, argCount int, resultIsValue bool) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.SYSCALL)
	b := []byte(name)
	if len(b) == 0 || len(b) > 255 {
		e.fail(newErr(KindMismatch, "syscall name must be 1-255 bytes, got %d", len(b)))
		return
	}
	e.code.WriteB(byte(len(b)))
	e.code.WriteBytes(b)
	e.pop(argCount, kind.Any)
	if resultIsValue {
		e.push(1, kind.Object)
	}
}

// --- fields, elements, calls, return ---

// LoadField pops an object reference and pushes the value of its fieldToken
// member.
func (e *Emitter) LoadField(fieldToken int32) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.LDFLD)
	e.code.WriteI32LE(fieldToken)
	e.pop(1, kind.Of(kind.Object, kind.ManagedPointer))
	e.push(1, kind.Object)
}

// StoreField pops a value and an object reference and stores the value into
// the reference's fieldToken member.
func (e *Emitter) StoreField(fieldToken int32) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.STFLD)
	e.code.WriteI32LE(fieldToken)
	e.pop(1, kind.Any)
	e.pop(1, kind.Of(kind.Object, kind.ManagedPointer))
}

// LoadStaticField pushes the value of the global slot identified by
// fieldToken.
func (e *Emitter) LoadStaticField(fieldToken int32) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.LDSFLD)
	e.code.WriteI32LE(fieldToken)
	e.push(1, kind.Object)
}

// StoreStaticField pops a value and stores it into the global slot
// identified by fieldToken.
func (e *Emitter) StoreStaticField(fieldToken int32) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.STSFLD)
	e.code.WriteI32LE(fieldToken)
	e.pop(1, kind.Any)
}

// NewArray pops a length and pushes a freshly allocated array reference.
func (e *Emitter) NewArray() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.NEWARR)
	e.pop(1, kind.Of(kind.Int32, kind.NativeInt))
	e.push(1, kind.Object)
}

// LoadElement pops an index and an array reference and pushes the element.
func (e *Emitter) LoadElement() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.LDELEM)
	e.pop(1, kind.Of(kind.Int32, kind.NativeInt))
	e.pop(1, kind.Of(kind.Object))
	e.push(1, kind.Object)
}

// StoreElement pops a value, an index, and an array reference and stores
// the value at that index.
func (e *Emitter) StoreElement() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.STELEM)
	e.pop(1, kind.Any)
	e.pop(1, kind.Of(kind.Int32, kind.NativeInt))
	e.pop(1, kind.Of(kind.Object))
}

// LoadLength pops an array reference and pushes its length.
func (e *Emitter) LoadLength() {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.LDLEN)
	e.pop(1, kind.Of(kind.Object))
	e.push(1, kind.Int32)
}

// Call pops argCount arguments (and, unless isStatic, a receiver ahead of
// them) and pushes one result if resultIsValue. argCount and the
// receiver/result shape are determined by the callee's signature, which the
// method generator resolves and passes down; the emitter has no symbol
// table of its own.
func (e *Emitter) Call(methodToken int32, argCount int, isStatic, resultIsValue bool) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.CALL)
	e.code.WriteI32LE(methodToken)
	e.pop(argCount, kind.Any)
	if !isStatic {
		e.pop(1, kind.Of(kind.Object))
	}
	if resultIsValue {
		e.push(1, kind.Object)
	}
}

// CallVirtual is Call's dynamically-dispatched counterpart: the receiver is
// always present and is used to resolve the concrete method at run time.
func (e *Emitter) CallVirtual(methodToken int32, argCount int, resultIsValue bool) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.CALLVIRT)
	e.code.WriteI32LE(methodToken)
	e.pop(argCount, kind.Any)
	e.pop(1, kind.Of(kind.Object))
	if resultIsValue {
		e.push(1, kind.Object)
	}
}

// NewObject pops argCount constructor arguments and pushes the newly
// constructed object.
func (e *Emitter) NewObject(ctorToken int32, argCount int) {
	if e.failed() {
		return
	}
	emit.Opcode(e.code, opcode.NEWOBJ)
	e.code.WriteI32LE(ctorToken)
	e.pop(argCount, kind.Any)
	e.push(1, kind.Object)
}

// Return pops the method's result (if it has one) and emits the method
// terminator. The stack is indeterminate afterward, same as any other
// unconditional exit.
func (e *Emitter) Return(hasValue bool) {
	if e.failed() {
		return
	}
	if hasValue {
		e.pop(1, kind.Any)
	}
	emit.Opcode(e.code, opcode.RET)
	e.indeterminate = true
}

// Routine is the finalized artifact handed to the runtime loader.
type Routine struct {
	Code           []byte
	MaxStack       int
	LocalSignature []byte
	ExceptionTable []byte
}

// Complete finalizes the emitter: it resolves every pending branch fix-up,
// serializes the exception table, and returns the byte stream together with
// the bookkeeping the runtime loader needs. It fails if any exception
// region was left open, any label was never defined, or the evaluation
// stack was not empty (or exactly one value, for a value-returning method)
// at the end of the stream.
func (e *Emitter) Complete(methodReturnsValue bool) (Routine, error) {
	if e.Err != nil {
		return Routine{}, e.Err
	}
	if err := e.exception.checkClosed(); err != nil {
		return Routine{}, err
	}
	if err := e.resolveFixups(); err != nil {
		return Routine{}, err
	}
	wantDepth := 0
	if methodReturnsValue {
		wantDepth = 1
	}
	if !e.indeterminate && e.stackDepth != wantDepth {
		return Routine{}, newErr(StackMismatch, "stack depth %d at end of method, want %d", e.stackDepth, wantDepth)
	}
	sig, err := e.locals.signature()
	if err != nil {
		return Routine{}, err
	}
	return Routine{
		Code:           e.code.Bytes(),
		MaxStack:       e.maxStack,
		LocalSignature: sig,
		ExceptionTable: e.exception.serialize(),
	}, nil
}
