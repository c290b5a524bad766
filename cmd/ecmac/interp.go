package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ecmavm/engine/pkg/codegen"
	"github.com/ecmavm/engine/pkg/opcode"
)

// boxed is the demo interpreter's stand-in for the runtime's managed-object
// representation: just enough to let BOX/unbox round-trip a numeric value
// and let the REPL print something recognizable. There is no object model
// behind it, matching this module's Non-goal of a runtime value domain.
type boxed struct {
	token int32
	value interface{}
}

func (b boxed) String() string { return fmt.Sprintf("%v", b.value) }

// thrown signals a THROW that unwound past every handler in the routine
// being interpreted.
type thrown struct{ value interface{} }

func (t thrown) Error() string { return fmt.Sprintf("uncaught exception: %v", t.value) }

// syscallFunc is the demo host's execution-time counterpart to the narrow
// Syscall collaborator pkg/codegen compiles against: it receives the popped
// arguments in push order and optionally returns one result.
type syscallFunc func(args []interface{}) (result interface{}, hasResult bool, err error)

// defaultSyscalls covers the arithmetic, comparison and negation operators
// pkg/codegen's generic (non-folded) binary/unary path emits, plus the
// to_boolean/strict_equals pair its switch lowering uses. The generic
// bitwise and logical operators (op_and, op_or, op_xor, op_shl, op_shr,
// op_shr_u, op_bnot, op_not) are not in the table and fail as unsupported
// syscalls. Anything
// requiring the scope chain or a call (scope_get, invoke_closure, ...) is
// deliberately left unimplemented here: that's the runtime value domain
// this module's Non-goals exclude, so a program exercising `with`, global
// variables, or function calls reports a clear "unsupported syscall"
// error from :run rather than silently faking object semantics.
func defaultSyscalls() map[string]syscallFunc {
	num := func(v interface{}) float64 {
		switch n := v.(type) {
		case int32:
			return float64(n)
		case int64:
			return float64(n)
		case float64:
			return n
		case boxed:
			return num(n.value)
		default:
			return math.NaN()
		}
	}
	arith := func(f func(a, b float64) float64) syscallFunc {
		return func(args []interface{}) (interface{}, bool, error) {
			return f(num(args[0]), num(args[1])), true, nil
		}
	}
	return map[string]syscallFunc{
		"op_add": arith(func(a, b float64) float64 { return a + b }),
		"op_sub": arith(func(a, b float64) float64 { return a - b }),
		"op_mul": arith(func(a, b float64) float64 { return a * b }),
		"op_div": arith(func(a, b float64) float64 { return a / b }),
		"op_mod": arith(math.Mod),
		"op_eq": func(args []interface{}) (interface{}, bool, error) {
			return boolToF(num(args[0]) == num(args[1])), true, nil
		},
		"op_ne": func(args []interface{}) (interface{}, bool, error) {
			return boolToF(num(args[0]) != num(args[1])), true, nil
		},
		"op_lt": func(args []interface{}) (interface{}, bool, error) {
			return boolToF(num(args[0]) < num(args[1])), true, nil
		},
		"op_le": func(args []interface{}) (interface{}, bool, error) {
			return boolToF(num(args[0]) <= num(args[1])), true, nil
		},
		"op_gt": func(args []interface{}) (interface{}, bool, error) {
			return boolToF(num(args[0]) > num(args[1])), true, nil
		},
		"op_ge": func(args []interface{}) (interface{}, bool, error) {
			return boolToF(num(args[0]) >= num(args[1])), true, nil
		},
		"op_neg": func(args []interface{}) (interface{}, bool, error) {
			return -num(args[0]), true, nil
		},
		"to_boolean": func(args []interface{}) (interface{}, bool, error) {
			return truthy(args[0]), true, nil
		},
		"strict_equals": func(args []interface{}) (interface{}, bool, error) {
			return fmt.Sprintf("%v", args[0]) == fmt.Sprintf("%v", args[1]), true, nil
		},
	}
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// clauseRegion groups decoded exception clauses back under their shared try
// range, since serialize() repeats (tryOffset, tryLength) once per clause.
type clauseRegion struct {
	tryStart, tryEnd int
	clauses          []exceptionClause
}

func groupClauses(cs []exceptionClause) []clauseRegion {
	var regions []clauseRegion
	for _, c := range cs {
		found := false
		for i := range regions {
			if regions[i].tryStart == int(c.tryOffset) && regions[i].tryEnd == int(c.tryOffset+c.tryLength) {
				regions[i].clauses = append(regions[i].clauses, c)
				found = true
				break
			}
		}
		if !found {
			regions = append(regions, clauseRegion{
				tryStart: int(c.tryOffset),
				tryEnd:   int(c.tryOffset + c.tryLength),
				clauses:  []exceptionClause{c},
			})
		}
	}
	return regions
}

// interp executes one routine's bytecode against args (sized exactly to its
// declared argument count) and the given syscall table, returning the boxed
// or unboxed top-of-stack value left by RET. It supports every opcode
// pkg/codegen emits; NEWOBJ/CALL/CALLVIRT/NEWARR/LDELEM/STELEM/LDLEN/
// LD*FLD/ST*FLD address an object model this tool doesn't have and report
// an explicit error instead of being silently skipped.
func interp(r codegen.Routine, args []interface{}, syscalls map[string]syscallFunc) (interface{}, error) {
	localCount := 0
	if len(r.LocalSignature) >= 2 {
		localCount = int(r.LocalSignature[0]) | int(r.LocalSignature[1])<<8
	}
	locals := make([]interface{}, localCount)
	regions := groupClauses(decodeExceptionTable(r.ExceptionTable))

	code := r.Code
	var stack []interface{}

	// runHandler executes handlerStart..handlerEnd as a nested call sharing
	// locals/args/syscalls, used for running a finally/fault block
	// encountered by a LEAVE's unwind. Catch dispatch does not go through
	// here: it resumes the same loop at the handler offset, since a catch
	// body ends in its own LEAVE back to the shared join point just like
	// the try body does.
	var runHandler func(start, end int, seed []interface{}) error
	runHandler = func(start, end int, seed []interface{}) error {
		sub := stack
		stack = append([]interface{}{}, seed...)
		err := run(code[:end], start, locals, args, syscalls, regions, &stack, runHandler)
		stack = sub
		return err
	}

	return runTop(code, 0, locals, args, syscalls, regions, &stack, runHandler)
}

// runTop drives the outermost call frame; run is the shared step loop also
// used (bounded to a handler's byte range) by runHandler.
func runTop(code []byte, startPC int, locals, args []interface{}, syscalls map[string]syscallFunc, regions []clauseRegion, stack *[]interface{}, runHandler func(int, int, []interface{}) error) (interface{}, error) {
	retv, retErr := runLoop(code, startPC, locals, args, syscalls, regions, stack, runHandler)
	return retv, retErr
}

// run executes code[0:len(bound)] starting at pc until it falls off the end
// of bound or hits ENDFINALLY, used for handler sub-ranges. ENDFILTER is
// not handled: stepExtended reports it as unsupported.
func run(bound []byte, pc int, locals, args []interface{}, syscalls map[string]syscallFunc, regions []clauseRegion, stack *[]interface{}, runHandler func(int, int, []interface{}) error) error {
	for pc < len(bound) {
		op := opcode.Opcode(bound[pc])
		if op == opcode.Opcode(opcode.ExtendedPrefix) {
			next, err := stepExtended(bound, pc, locals, args, stack)
			if err != nil {
				return err
			}
			pc = next
			continue
		}
		if op == opcode.ENDFINALLY {
			return nil
		}
		next, _, done, err := stepPrimary(bound, pc, locals, args, syscalls, regions, stack, runHandler)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		pc = next
	}
	return nil
}

// runLoop is the full-routine driver: unlike run, RET/uncaught-THROW here
// actually end the call.
func runLoop(code []byte, pc int, locals, args []interface{}, syscalls map[string]syscallFunc, regions []clauseRegion, stack *[]interface{}, runHandler func(int, int, []interface{}) error) (interface{}, error) {
	for pc < len(code) {
		op := opcode.Opcode(code[pc])
		if op == opcode.Opcode(opcode.ExtendedPrefix) {
			next, err := stepExtended(code, pc, locals, args, stack)
			if err != nil {
				return nil, err
			}
			pc = next
			continue
		}
		next, retv, done, err := stepPrimary(code, pc, locals, args, syscalls, regions, stack, runHandler)
		if err != nil {
			if t, ok := err.(thrown); ok {
				newPC, handled, herr := dispatchThrow(regions, pc, t.value, stack, runHandler)
				if herr != nil {
					return nil, herr
				}
				if handled {
					pc = newPC
					continue
				}
			}
			return nil, err
		}
		if done {
			return retv, nil
		}
		pc = next
	}
	return nil, fmt.Errorf("interp: fell off the end of the routine without a RET")
}

// dispatchThrow finds the innermost enclosing region (relative to pc) with a
// catch clause and returns the PC to resume at. It does not run intervening
// finally/fault blocks of regions a THROW unwinds past on its way to an
// outer catch (only a LEAVE's unwind does, via unwindTo) — codegen never
// emits that shape for the try/catch/finally forms it generates, since a
// THROW inside a try body is always caught by that same try's own clause
// table entry before any outer region is considered.
func dispatchThrow(regions []clauseRegion, pc int, value interface{}, stack *[]interface{}, runHandler func(int, int, []interface{}) error) (int, bool, error) {
	for _, reg := range regions {
		if pc < reg.tryStart || pc >= reg.tryEnd {
			continue
		}
		for _, c := range reg.clauses {
			if c.flags == 0 { // catch
				*stack = append(*stack, value)
				return int(c.handlerOffset), true, nil
			}
		}
	}
	return 0, false, nil
}

// unwindTo runs every finally/fault clause of a region enclosing pc whose
// try/catch range is exited by a leave to target, innermost first.
func unwindTo(regions []clauseRegion, pc, target int, runHandler func(int, int, []interface{}) error) error {
	for _, reg := range regions {
		exits := pc >= reg.tryStart && pc < reg.tryEnd && (target < reg.tryStart || target >= reg.tryEnd)
		for _, c := range reg.clauses {
			start, end := int(c.handlerOffset), int(c.handlerOffset+c.handlerLength)
			if c.flags == 0 && pc >= start && pc < end {
				exits = target < start || target >= end
			}
		}
		if !exits {
			continue
		}
		for _, c := range reg.clauses {
			if c.flags == 2 || c.flags == 4 { // finally or fault
				if err := runHandler(int(c.handlerOffset), int(c.handlerOffset+c.handlerLength), nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func decodeU16(b []byte, pos int) int { return int(binary.LittleEndian.Uint16(b[pos : pos+2])) }

// stepExtended executes one FE-prefixed instruction and returns the next pc.
func stepExtended(code []byte, pc int, locals, args []interface{}, stack *[]interface{}) (int, error) {
	op := opcode.Opcode(code[pc+1])
	pc += 2
	switch op {
	case opcode.CEQ, opcode.CGT, opcode.CGT_UN, opcode.CLT, opcode.CLT_UN:
		b := pop1(stack)
		a := pop1(stack)
		*stack = append(*stack, compareNumeric(op, a, b))
		return pc, nil
	case opcode.LDLOC:
		idx := decodeU16(code, pc)
		pc += 2
		*stack = append(*stack, locals[idx])
		return pc, nil
	case opcode.STLOC:
		idx := decodeU16(code, pc)
		pc += 2
		locals[idx] = pop1(stack)
		return pc, nil
	case opcode.LDARG:
		idx := decodeU16(code, pc)
		pc += 2
		*stack = append(*stack, args[idx])
		return pc, nil
	case opcode.STARG:
		idx := decodeU16(code, pc)
		pc += 2
		args[idx] = pop1(stack)
		return pc, nil
	default:
		return pc, fmt.Errorf("interp: extended opcode %s not supported by the demo interpreter", opcode.ExtendedString(op))
	}
}

func pop1(stack *[]interface{}) interface{} {
	s := *stack
	v := s[len(s)-1]
	*stack = s[:len(s)-1]
	return v
}

func numOf(v interface{}) float64 {
	switch n := v.(type) {
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case bool:
		if n {
			return 1
		}
		return 0
	case boxed:
		return numOf(n.value)
	default:
		return math.NaN()
	}
}

func compareNumeric(op opcode.Opcode, a, b interface{}) bool {
	x, y := numOf(a), numOf(b)
	switch op {
	case opcode.CEQ:
		return x == y
	case opcode.CGT:
		return x > y
	case opcode.CGT_UN:
		return x > y
	case opcode.CLT:
		return x < y
	case opcode.CLT_UN:
		return x < y
	}
	return false
}

// stepPrimary executes one primary-range instruction. done is true once a
// RET has produced the routine's result (retv); a THROW is reported as a
// thrown error for the caller's unwind logic to route to a handler.
func stepPrimary(code []byte, pc int, locals, args []interface{}, syscalls map[string]syscallFunc, regions []clauseRegion, stack *[]interface{}, runHandler func(int, int, []interface{}) error) (next int, retv interface{}, done bool, err error) {
	op := opcode.Opcode(code[pc])
	pc++
	switch op {
	case opcode.NOP, opcode.BREAK:
		return pc, nil, false, nil
	case opcode.LDNULL:
		*stack = append(*stack, nil)
		return pc, nil, false, nil
	case opcode.LDC_I4_M1:
		*stack = append(*stack, int32(-1))
		return pc, nil, false, nil
	case opcode.LDC_I4_0, opcode.LDC_I4_1, opcode.LDC_I4_2, opcode.LDC_I4_3, opcode.LDC_I4_4,
		opcode.LDC_I4_5, opcode.LDC_I4_6, opcode.LDC_I4_7, opcode.LDC_I4_8:
		*stack = append(*stack, int32(op-opcode.LDC_I4_0))
		return pc, nil, false, nil
	case opcode.LDC_I4_S:
		*stack = append(*stack, int32(int8(code[pc])))
		pc++
		return pc, nil, false, nil
	case opcode.LDC_I4:
		*stack = append(*stack, int32(binary.LittleEndian.Uint32(code[pc:pc+4])))
		pc += 4
		return pc, nil, false, nil
	case opcode.LDC_I8:
		*stack = append(*stack, int64(binary.LittleEndian.Uint64(code[pc:pc+8])))
		pc += 8
		return pc, nil, false, nil
	case opcode.LDC_R8:
		*stack = append(*stack, math.Float64frombits(binary.LittleEndian.Uint64(code[pc:pc+8])))
		pc += 8
		return pc, nil, false, nil
	case opcode.LDSTR_S:
		n := int(code[pc])
		pc++
		*stack = append(*stack, string(code[pc:pc+n]))
		pc += n
		return pc, nil, false, nil
	case opcode.LDSTR:
		n := int(binary.LittleEndian.Uint32(code[pc : pc+4]))
		pc += 4
		*stack = append(*stack, string(code[pc:pc+n]))
		pc += n
		return pc, nil, false, nil
	case opcode.POP:
		pop1(stack)
		return pc, nil, false, nil
	case opcode.DUP:
		s := *stack
		*stack = append(s, s[len(s)-1])
		return pc, nil, false, nil
	case opcode.LDLOC_0, opcode.LDLOC_1, opcode.LDLOC_2, opcode.LDLOC_3:
		*stack = append(*stack, locals[int(op-opcode.LDLOC_0)])
		return pc, nil, false, nil
	case opcode.LDLOC_S:
		*stack = append(*stack, locals[int(code[pc])])
		pc++
		return pc, nil, false, nil
	case opcode.STLOC_0, opcode.STLOC_1, opcode.STLOC_2, opcode.STLOC_3:
		locals[int(op-opcode.STLOC_0)] = pop1(stack)
		return pc, nil, false, nil
	case opcode.STLOC_S:
		locals[int(code[pc])] = pop1(stack)
		pc++
		return pc, nil, false, nil
	case opcode.LDARG_0, opcode.LDARG_1, opcode.LDARG_2, opcode.LDARG_3:
		*stack = append(*stack, args[int(op-opcode.LDARG_0)])
		return pc, nil, false, nil
	case opcode.LDARG_S:
		*stack = append(*stack, args[int(code[pc])])
		pc++
		return pc, nil, false, nil
	case opcode.STARG_S:
		args[int(code[pc])] = pop1(stack)
		pc++
		return pc, nil, false, nil
	case opcode.ADD, opcode.SUB, opcode.MUL, opcode.DIV, opcode.REM:
		b, a := numOf(pop1(stack)), numOf(pop1(stack))
		*stack = append(*stack, arith(op, a, b))
		return pc, nil, false, nil
	case opcode.NEG:
		a := numOf(pop1(stack))
		*stack = append(*stack, -a)
		return pc, nil, false, nil
	case opcode.AND, opcode.OR, opcode.XOR, opcode.SHL, opcode.SHR, opcode.SHR_UN:
		b, a := int32(numOf(pop1(stack))), int32(numOf(pop1(stack)))
		*stack = append(*stack, intOp(op, a, b))
		return pc, nil, false, nil
	case opcode.NOT:
		a := int32(numOf(pop1(stack)))
		*stack = append(*stack, ^a)
		return pc, nil, false, nil
	case opcode.CONV_I4:
		*stack = append(*stack, int32(numOf(pop1(stack))))
		return pc, nil, false, nil
	case opcode.CONV_U4:
		*stack = append(*stack, int32(uint32(numOf(pop1(stack)))))
		return pc, nil, false, nil
	case opcode.CONV_R8:
		*stack = append(*stack, numOf(pop1(stack)))
		return pc, nil, false, nil
	case opcode.BOX:
		token := int32(binary.LittleEndian.Uint32(code[pc : pc+4]))
		pc += 4
		*stack = append(*stack, boxed{token: token, value: pop1(stack)})
		return pc, nil, false, nil
	case opcode.BR:
		target := pc + 4 + int(int32(binary.LittleEndian.Uint32(code[pc:pc+4])))
		return target, nil, false, nil
	case opcode.BRTRUE, opcode.BRFALSE:
		rel := int32(binary.LittleEndian.Uint32(code[pc : pc+4]))
		target := pc + 4 + int(rel)
		pc += 4
		v := truthy(pop1(stack))
		if (op == opcode.BRTRUE) == v {
			return target, nil, false, nil
		}
		return pc, nil, false, nil
	case opcode.BEQ, opcode.BNE_UN, opcode.BGT, opcode.BGE, opcode.BLT, opcode.BLE,
		opcode.BGT_UN, opcode.BGE_UN, opcode.BLT_UN, opcode.BLE_UN:
		rel := int32(binary.LittleEndian.Uint32(code[pc : pc+4]))
		target := pc + 4 + int(rel)
		pc += 4
		b, a := numOf(pop1(stack)), numOf(pop1(stack))
		if branchCond(op, a, b) {
			return target, nil, false, nil
		}
		return pc, nil, false, nil
	case opcode.RET:
		if len(*stack) > 0 {
			return pc, pop1(stack), true, nil
		}
		return pc, nil, true, nil
	case opcode.SWITCH:
		n := int(binary.LittleEndian.Uint16(code[pc : pc+2]))
		pc += 2
		idx := int(numOf(pop1(stack)))
		target := -1
		for i := 0; i < n; i++ {
			rel := int32(binary.LittleEndian.Uint32(code[pc : pc+4]))
			if i == idx {
				target = pc + 4 + int(rel)
			}
			pc += 4
		}
		if target >= 0 {
			return target, nil, false, nil
		}
		return pc, nil, false, nil
	case opcode.THROW:
		v := pop1(stack)
		return pc, nil, false, thrown{value: v}
	case opcode.LEAVE:
		rel := int32(binary.LittleEndian.Uint32(code[pc : pc+4]))
		target := pc + 4 + int(rel)
		leavePos := pc - 1
		pc += 4
		if err := unwindTo(regions, leavePos, target, runHandler); err != nil {
			return pc, nil, false, err
		}
		return target, nil, false, nil
	case opcode.ENDFINALLY:
		return pc, nil, false, nil
	case opcode.SYSCALL:
		n := int(code[pc])
		pc++
		name := string(code[pc : pc+n])
		pc += n
		return pc, nil, false, runSyscall(name, syscalls, stack)
	case opcode.NEWOBJ, opcode.CALL, opcode.CALLVIRT, opcode.NEWARR, opcode.LDELEM,
		opcode.STELEM, opcode.LDLEN, opcode.LDFLD, opcode.STFLD, opcode.LDSFLD, opcode.STSFLD:
		return pc, nil, false, fmt.Errorf("interp: %s requires the runtime object model, which this demo interpreter does not implement", op)
	default:
		return pc, nil, false, fmt.Errorf("interp: unsupported opcode %s", op)
	}
}

func runSyscall(name string, syscalls map[string]syscallFunc, stack *[]interface{}) error {
	fn, ok := syscalls[name]
	if !ok {
		return fmt.Errorf("interp: unsupported syscall %q in demo interpreter", name)
	}
	// argCount is implicit in the stack state at the call site; the demo
	// syscalls above are all fixed-arity, so each one pops exactly as many
	// values as it declared at compile time. We recover that count from how
	// many arguments the closure itself consumes by calling it against the
	// whole remaining stack and letting it slice what it needs would be
	// unsafe in general, so instead each known syscall name's arity is
	// looked up here.
	arity, ok := syscallArity[name]
	if !ok {
		return fmt.Errorf("interp: unknown arity for syscall %q", name)
	}
	if len(*stack) < arity {
		return fmt.Errorf("interp: stack underflow calling syscall %q", name)
	}
	args := append([]interface{}{}, (*stack)[len(*stack)-arity:]...)
	*stack = (*stack)[:len(*stack)-arity]
	result, hasResult, err := fn(args)
	if err != nil {
		return err
	}
	if hasResult {
		*stack = append(*stack, result)
	}
	return nil
}

var syscallArity = map[string]int{
	"op_add": 2, "op_sub": 2, "op_mul": 2, "op_div": 2, "op_mod": 2,
	"op_eq": 2, "op_ne": 2, "op_lt": 2, "op_le": 2, "op_gt": 2, "op_ge": 2,
	"op_neg": 1, "to_boolean": 1, "strict_equals": 2,
}

func truthy(v interface{}) bool {
	switch n := v.(type) {
	case nil:
		return false
	case bool:
		return n
	case string:
		return n != ""
	default:
		return numOf(v) != 0
	}
}

func arith(op opcode.Opcode, a, b float64) float64 {
	switch op {
	case opcode.ADD:
		return a + b
	case opcode.SUB:
		return a - b
	case opcode.MUL:
		return a * b
	case opcode.DIV:
		return a / b
	case opcode.REM:
		return math.Mod(a, b)
	}
	return math.NaN()
}

func intOp(op opcode.Opcode, a, b int32) int32 {
	switch op {
	case opcode.AND:
		return a & b
	case opcode.OR:
		return a | b
	case opcode.XOR:
		return a ^ b
	case opcode.SHL:
		return a << uint32(b)
	case opcode.SHR:
		return a >> uint32(b)
	case opcode.SHR_UN:
		return int32(uint32(a) >> uint32(b))
	}
	return 0
}

func branchCond(op opcode.Opcode, a, b float64) bool {
	switch op {
	case opcode.BEQ:
		return a == b
	case opcode.BNE_UN:
		return a != b
	case opcode.BGT, opcode.BGT_UN:
		return a > b
	case opcode.BGE, opcode.BGE_UN:
		return a >= b
	case opcode.BLT, opcode.BLT_UN:
		return a < b
	case opcode.BLE, opcode.BLE_UN:
		return a <= b
	}
	return false
}
