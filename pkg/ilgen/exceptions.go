package ilgen

import (
	"github.com/ecmavm/engine/pkg/emit"
	"github.com/ecmavm/engine/pkg/kind"
	"github.com/ecmavm/engine/pkg/opcode"
)

// regionState tracks which phase of the try/catch/finally/filter/fault
// state machine (§4.4) a nested exception region is currently in.
type regionState int

const (
	stateTry regionState = iota
	stateCatch
	stateFinally
	stateFault
	stateFilterPredicate
	stateFilterHandler
)

type clauseKind int

const (
	clauseCatch clauseKind = iota
	clauseFilter
	clauseFinally
	clauseFault
)

// clause is one handler attached to a region: a catch(type), a
// filter/filter-handler pair, a finally, or a fault.
type clause struct {
	kind         clauseKind
	typeToken    int32
	filterOffset int
	handlerStart int
	handlerEnd   int
}

// region is one nested try block and the handlers attached to it.
type region struct {
	tryStart, tryEnd int
	clauses          []clause
	catchTypes       map[int32]bool
	hasFinally       bool
	hasFault         bool
	state            regionState
}

// exceptionBuilder owns the stack of currently-open regions (nested tries)
// and the completed ones, and knows how to serialize the finished set into
// the fat exception-clause table the runtime loader expects.
type exceptionBuilder struct {
	open      []*region
	completed []*region
}

func newExceptionBuilder() *exceptionBuilder {
	return &exceptionBuilder{}
}

func (b *exceptionBuilder) current() *region {
	if len(b.open) == 0 {
		return nil
	}
	return b.open[len(b.open)-1]
}

// checkClosed fails if any try region was left open at Complete.
func (b *exceptionBuilder) checkClosed() error {
	if len(b.open) > 0 {
		return newErr(UnclosedExceptionRegion, "%d exception region(s) still open at end of method", len(b.open))
	}
	return nil
}

// serialize encodes the completed regions as a 4-byte clause count followed
// by one 24-byte fat clause per handler: Flags, TryOffset, TryLength,
// HandlerOffset, HandlerLength, and ClassToken-or-FilterOffset, all
// little-endian uint32s.
func (b *exceptionBuilder) serialize() []byte {
	var n int
	for _, r := range b.completed {
		n += len(r.clauses)
	}
	out := make([]byte, 0, 4+24*n)
	out = append(out, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	put4 := func(v uint32) {
		out = append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	for _, r := range b.completed {
		for _, c := range r.clauses {
			var flags uint32
			var classOrFilter uint32
			switch c.kind {
			case clauseCatch:
				flags = 0
				classOrFilter = uint32(c.typeToken)
			case clauseFilter:
				flags = 1
				classOrFilter = uint32(c.filterOffset)
			case clauseFinally:
				flags = 2
			case clauseFault:
				flags = 4
			}
			put4(flags)
			put4(uint32(r.tryStart))
			put4(uint32(r.tryEnd - r.tryStart))
			put4(uint32(c.handlerStart))
			put4(uint32(c.handlerEnd - c.handlerStart))
			put4(classOrFilter)
		}
	}
	return out
}

// BeginExceptionBlock opens a new (possibly nested) try region at the
// current position.
func (e *Emitter) BeginExceptionBlock() error {
	if e.failed() {
		return e.Err
	}
	e.exception.open = append(e.exception.open, &region{
		tryStart:   e.pc(),
		catchTypes: map[int32]bool{},
		state:      stateTry,
	})
	return nil
}

func (e *Emitter) closeOpenPhase(r *region) {
	switch r.state {
	case stateTry:
		r.tryEnd = e.pc()
	default:
		last := &r.clauses[len(r.clauses)-1]
		last.handlerEnd = e.pc()
	}
}

// BeginCatchBlock closes whatever phase of the region is currently open
// (the try block itself, or a preceding catch) and opens a catch handler
// for typeToken. The evaluation stack is reset to hold exactly the caught
// exception object, since a catch handler's entry state never depends on
// where in the try block the exception was thrown.
func (e *Emitter) BeginCatchBlock(typeToken int32) error {
	if e.failed() {
		return e.Err
	}
	r := e.exception.current()
	if r == nil || r.state == stateFinally || r.state == stateFault || r.state == stateFilterPredicate {
		err := newErr(UnclosedExceptionRegion, "catch block is not valid in the current exception region state")
		e.fail(err)
		return err
	}
	if r.catchTypes[typeToken] {
		err := newErr(DuplicateCatch, "duplicate catch clause for type token %d", typeToken)
		e.fail(err)
		return err
	}
	e.closeOpenPhase(r)
	r.catchTypes[typeToken] = true
	r.clauses = append(r.clauses, clause{kind: clauseCatch, typeToken: typeToken, handlerStart: e.pc()})
	r.state = stateCatch
	e.resetStackTo(1, []kind.Kind{kind.Object})
	e.indeterminate = false
	return nil
}

// BeginFilterBlock opens a filter predicate: code that runs with the
// exception object on the stack and must conclude with EndFilter.
func (e *Emitter) BeginFilterBlock() error {
	if e.failed() {
		return e.Err
	}
	r := e.exception.current()
	if r == nil || r.state == stateFinally || r.state == stateFault || r.state == stateFilterPredicate {
		err := newErr(UnclosedExceptionRegion, "filter block is not valid in the current exception region state")
		e.fail(err)
		return err
	}
	e.closeOpenPhase(r)
	r.clauses = append(r.clauses, clause{kind: clauseFilter, filterOffset: e.pc()})
	r.state = stateFilterPredicate
	e.resetStackTo(1, []kind.Kind{kind.Object})
	e.indeterminate = false
	return nil
}

// EndFilter closes the filter predicate (popping its boolean verdict) and
// opens the filter's handler body, whose entry state is again exactly the
// caught exception object.
func (e *Emitter) EndFilter() error {
	if e.failed() {
		return e.Err
	}
	r := e.exception.current()
	if r == nil || r.state != stateFilterPredicate {
		err := newErr(MisplacedEndFilter, "endfilter outside a filter predicate")
		e.fail(err)
		return err
	}
	e.pop(1, kind.Of(kind.Int32))
	if e.failed() {
		return e.Err
	}
	emit.Extended(e.code, opcode.ENDFILTER)
	last := &r.clauses[len(r.clauses)-1]
	last.handlerStart = e.pc()
	r.state = stateFilterHandler
	e.resetStackTo(1, []kind.Kind{kind.Object})
	return nil
}

// BeginFinallyBlock closes whatever phase of the region is currently open
// and opens a finally handler, which runs on every path out of the try
// block (normal, exceptional, or via Leave) with an empty evaluation stack.
func (e *Emitter) BeginFinallyBlock() error {
	if e.failed() {
		return e.Err
	}
	r := e.exception.current()
	if r == nil || r.state == stateFinally || r.state == stateFault || r.state == stateFilterPredicate {
		err := newErr(UnclosedExceptionRegion, "finally block is not valid in the current exception region state")
		e.fail(err)
		return err
	}
	if r.hasFinally {
		err := newErr(DuplicateFinally, "try block already has a finally handler")
		e.fail(err)
		return err
	}
	e.closeOpenPhase(r)
	r.hasFinally = true
	r.clauses = append(r.clauses, clause{kind: clauseFinally, handlerStart: e.pc()})
	r.state = stateFinally
	e.resetStackTo(0, nil)
	e.indeterminate = false
	return nil
}

// BeginFaultBlock closes whatever phase of the region is currently open and
// opens a fault handler, which runs only on the exceptional exit path, with
// an empty evaluation stack.
func (e *Emitter) BeginFaultBlock() error {
	if e.failed() {
		return e.Err
	}
	r := e.exception.current()
	if r == nil || r.state == stateFinally || r.state == stateFault || r.state == stateFilterPredicate {
		err := newErr(UnclosedExceptionRegion, "fault block is not valid in the current exception region state")
		e.fail(err)
		return err
	}
	if r.hasFault {
		err := newErr(DuplicateFault, "try block already has a fault handler")
		e.fail(err)
		return err
	}
	e.closeOpenPhase(r)
	r.hasFault = true
	r.clauses = append(r.clauses, clause{kind: clauseFault, handlerStart: e.pc()})
	r.state = stateFault
	e.resetStackTo(0, nil)
	e.indeterminate = false
	return nil
}

// EndFinally emits the instruction that ends a finally or fault handler and
// returns control to the runtime's unwind machinery; nothing falls through
// past it in the normal sense, so the stack becomes indeterminate.
func (e *Emitter) EndFinally() error {
	if e.failed() {
		return e.Err
	}
	r := e.exception.current()
	if r == nil || (r.state != stateFinally && r.state != stateFault) {
		err := newErr(MisplacedEndFinally, "endfinally outside a finally or fault handler")
		e.fail(err)
		return err
	}
	emit.Opcode(e.code, opcode.ENDFINALLY)
	e.indeterminate = true
	return nil
}

// EndExceptionBlock closes the region's final open phase and requires that
// at least one handler (catch, filter, finally, or fault) was attached; a
// try block with no handler at all is meaningless and rejected as
// EmptyExceptionRegion. After this call the stack is indeterminate until a
// label merges the try block's various exit paths.
func (e *Emitter) EndExceptionBlock() error {
	if e.failed() {
		return e.Err
	}
	r := e.exception.current()
	if r == nil {
		err := newErr(UnclosedExceptionRegion, "end of exception block with no open try region")
		e.fail(err)
		return err
	}
	if r.state == stateFilterPredicate {
		err := newErr(UnclosedExceptionRegion, "filter predicate was never closed with EndFilter")
		e.fail(err)
		return err
	}
	if len(r.clauses) == 0 {
		err := newErr(EmptyExceptionRegion, "try block has no catch, filter, finally, or fault handler")
		e.fail(err)
		return err
	}
	e.closeOpenPhase(r)
	e.exception.open = e.exception.open[:len(e.exception.open)-1]
	e.exception.completed = append(e.exception.completed, r)
	e.indeterminate = true
	return nil
}

// Leave exits a try, catch, or filter-handler body to label l, unwinding
// through any enclosing finally/fault handlers as the runtime loader's
// generated unwind table directs. It requires an empty evaluation stack,
// matching the runtime's contract that no value survives a non-local exit
// from a protected region.
func (e *Emitter) Leave(l LabelID) error {
	if e.failed() {
		return e.Err
	}
	if e.stackDepth != 0 {
		err := newErr(StackMismatch, "leave requires an empty evaluation stack, have depth %d", e.stackDepth)
		e.fail(err)
		return err
	}
	lb, err := e.labelAt(l)
	if err != nil {
		e.fail(err)
		return err
	}
	if err := e.recordOrCheckState(lb, 0, nil); err != nil {
		e.fail(err)
		return err
	}
	pos := emit.Jmp(e.code, opcode.LEAVE, 0)
	if lb.offset == -1 {
		e.fixups = append(e.fixups, fixup{pos: pos, target: l})
	} else {
		e.code.PatchI32LE(pos, emit.RelativeOffset(lb.offset, pos+4))
	}
	e.indeterminate = true
	return nil
}
