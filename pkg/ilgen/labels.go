package ilgen

import (
	"github.com/ecmavm/engine/pkg/emit"
	"github.com/ecmavm/engine/pkg/kind"
	"github.com/ecmavm/engine/pkg/opcode"
)

// LabelID identifies a label created by CreateLabel. It is only meaningful
// against the Emitter that created it.
type LabelID int

// label tracks one label's placement and the evaluation-stack state every
// branch to it (and its eventual definition site) must agree on.
type label struct {
	offset int // -1 until DefineLabel is called

	stateKnown bool
	depth      int
	kinds      []kind.Kind
}

// fixup is a branch operand whose target label was not yet defined at the
// time the branch was emitted; resolveFixups patches these once every label
// has a final offset.
type fixup struct {
	pos    int // offset of the 4-byte operand within the code buffer
	target LabelID
}

// CreateLabel allocates a new, as-yet-unplaced label. Labels must be
// defined exactly once via DefineLabel before Complete; a label that is
// branched to but never defined fails with UndefinedLabel.
func (e *Emitter) CreateLabel() LabelID {
	e.labels = append(e.labels, &label{offset: -1})
	return LabelID(len(e.labels) - 1)
}

func (e *Emitter) labelAt(l LabelID) (*label, error) {
	if int(l) < 0 || int(l) >= len(e.labels) {
		return nil, newErr(UndefinedLabel, "label %d was never created", l)
	}
	return e.labels[int(l)], nil
}

// recordOrCheckState unifies the two places a label's expected stack state
// can come from: the first branch site to reference it, or its definition
// site. Whichever happens first wins; everything after must agree exactly,
// per §4.2's "either restore or match" rule.
func (e *Emitter) recordOrCheckState(lb *label, depth int, kinds []kind.Kind) error {
	if !lb.stateKnown {
		lb.stateKnown = true
		lb.depth = depth
		lb.kinds = kinds
		return nil
	}
	if lb.depth != depth {
		return newErr(StackMismatch, "label stack depth %d disagrees with prior %d", depth, lb.depth)
	}
	if e.Checked {
		for i, k := range kinds {
			if lb.kinds[i] != k {
				return newErr(KindMismatch, "label stack slot %d is %s, previously %s", i, k, lb.kinds[i])
			}
		}
	}
	return nil
}

// DefineLabel marks the current emission position as l's target. If the
// stream is currently indeterminate (the last instruction emitted was an
// unconditional terminator), the live stack state is restored from l's
// recorded branch-site state, defaulting to empty if nothing has branched
// to it yet. Otherwise the live state must already agree with l's recorded
// state, and control falls through into it normally.
func (e *Emitter) DefineLabel(l LabelID) error {
	if e.failed() {
		return e.Err
	}
	lb, err := e.labelAt(l)
	if err != nil {
		e.fail(err)
		return err
	}
	if lb.offset != -1 {
		err := newErr(DoubleDefinedLabel, "label %d already defined at offset %d", int(l), lb.offset)
		e.fail(err)
		return err
	}
	if e.indeterminate {
		if lb.stateKnown {
			e.resetStackTo(lb.depth, lb.kinds)
		} else {
			lb.stateKnown = true
			lb.depth = 0
			e.resetStackTo(0, nil)
		}
		e.indeterminate = false
	} else if err := e.recordOrCheckState(lb, e.stackDepth, e.snapshotKinds()); err != nil {
		e.fail(err)
		return err
	}
	lb.offset = e.pc()
	return nil
}

// emitBranch is the shared implementation behind every Branch* method: it
// pops whatever operands op requires, records/checks the target label's
// expected entry state against the stack as it will be once those operands
// are gone, and either patches the offset immediately (label already
// defined) or queues a fix-up for resolveFixups.
func (e *Emitter) emitBranch(op opcode.Opcode, l LabelID) error {
	if e.failed() {
		return e.Err
	}
	if !opcode.IsJump(op) {
		err := newErr(KindMismatch, "opcode %s is not a branch instruction", op)
		e.fail(err)
		return err
	}
	lb, err := e.labelAt(l)
	if err != nil {
		e.fail(err)
		return err
	}

	switch op {
	case opcode.BR:
		// no operands
	case opcode.BRTRUE, opcode.BRFALSE:
		e.pop(1, kind.Any)
	case opcode.BEQ, opcode.BNE_UN:
		e.pop(2, kind.Any)
	default:
		e.pop(2, kind.Numeric)
	}
	if e.failed() {
		return e.Err
	}

	if err := e.recordOrCheckState(lb, e.stackDepth, e.snapshotKinds()); err != nil {
		e.fail(err)
		return err
	}

	pos := emit.Jmp(e.code, op, 0)
	if lb.offset == -1 {
		e.fixups = append(e.fixups, fixup{pos: pos, target: l})
	} else {
		e.code.PatchI32LE(pos, emit.RelativeOffset(lb.offset, pos+4))
	}
	if op == opcode.BR {
		e.indeterminate = true
	}
	return nil
}

// Branch emits an unconditional jump to l.
func (e *Emitter) Branch(l LabelID) error { return e.emitBranch(opcode.BR, l) }

// BranchIfTrue pops one value and jumps to l if it is truthy.
func (e *Emitter) BranchIfTrue(l LabelID) error { return e.emitBranch(opcode.BRTRUE, l) }

// BranchIfFalse pops one value and jumps to l if it is falsy.
func (e *Emitter) BranchIfFalse(l LabelID) error { return e.emitBranch(opcode.BRFALSE, l) }

// BranchIfEqual pops two values and jumps to l if they are equal.
func (e *Emitter) BranchIfEqual(l LabelID) error { return e.emitBranch(opcode.BEQ, l) }

// BranchIfNotEqual pops two values and jumps to l if they are not equal.
func (e *Emitter) BranchIfNotEqual(l LabelID) error { return e.emitBranch(opcode.BNE_UN, l) }

// BranchIfGreater pops two numeric values and jumps to l if the second
// popped (the one pushed first) compares greater than the top-of-stack.
func (e *Emitter) BranchIfGreater(l LabelID) error { return e.emitBranch(opcode.BGT, l) }

// BranchIfGreaterOrEqual is the >= variant of BranchIfGreater.
func (e *Emitter) BranchIfGreaterOrEqual(l LabelID) error { return e.emitBranch(opcode.BGE, l) }

// BranchIfLess pops two numeric values and jumps to l if the second popped
// (the one pushed first) compares less than the top-of-stack.
func (e *Emitter) BranchIfLess(l LabelID) error { return e.emitBranch(opcode.BLT, l) }

// BranchIfLessOrEqual is the <= variant of BranchIfLess.
func (e *Emitter) BranchIfLessOrEqual(l LabelID) error { return e.emitBranch(opcode.BLE, l) }

// BranchIfGreaterUnsigned is the unsigned-comparison variant of BranchIfGreater.
func (e *Emitter) BranchIfGreaterUnsigned(l LabelID) error { return e.emitBranch(opcode.BGT_UN, l) }

// BranchIfGreaterOrEqualUnsigned is the unsigned variant of BranchIfGreaterOrEqual.
func (e *Emitter) BranchIfGreaterOrEqualUnsigned(l LabelID) error {
	return e.emitBranch(opcode.BGE_UN, l)
}

// BranchIfLessUnsigned is the unsigned-comparison variant of BranchIfLess.
func (e *Emitter) BranchIfLessUnsigned(l LabelID) error { return e.emitBranch(opcode.BLT_UN, l) }

// BranchIfLessOrEqualUnsigned is the unsigned variant of BranchIfLessOrEqual.
func (e *Emitter) BranchIfLessOrEqualUnsigned(l LabelID) error {
	return e.emitBranch(opcode.BLE_UN, l)
}

// Switch pops a 32-bit selector and jumps to cases[selector], falling
// through to the next instruction if the selector is out of range.
func (e *Emitter) Switch(cases []LabelID) error {
	if e.failed() {
		return e.Err
	}
	e.pop(1, kind.Of(kind.Int32))
	if e.failed() {
		return e.Err
	}
	offs := emit.Switch(e.code, len(cases))
	for i, l := range cases {
		lb, err := e.labelAt(l)
		if err != nil {
			e.fail(err)
			return err
		}
		if err := e.recordOrCheckState(lb, e.stackDepth, e.snapshotKinds()); err != nil {
			e.fail(err)
			return err
		}
		pos := offs[i]
		if lb.offset == -1 {
			e.fixups = append(e.fixups, fixup{pos: pos, target: l})
		} else {
			e.code.PatchI32LE(pos, emit.RelativeOffset(lb.offset, pos+4))
		}
	}
	return nil
}

// resolveFixups patches every branch operand that was left pending because
// its target label was not yet defined when the branch was emitted. Any
// label still undefined at this point is a codegen bug: UndefinedLabel.
func (e *Emitter) resolveFixups() error {
	for _, f := range e.fixups {
		lb := e.labels[int(f.target)]
		if lb.offset == -1 {
			return newErr(UndefinedLabel, "label %d is branched to but never defined", int(f.target))
		}
		e.code.PatchI32LE(f.pos, emit.RelativeOffset(lb.offset, f.pos+4))
	}
	if e.code.Err != nil {
		return e.code.Err
	}
	for i, lb := range e.labels {
		if lb.offset == -1 && lb.stateKnown {
			return newErr(UndefinedLabel, "label %d is branched to but never defined", i)
		}
	}
	return nil
}
