// Package codegen is the method generator (design §4.6): the one place
// that walks a pkg/ast tree and drives pkg/ilgen and pkg/scope to produce a
// runnable Routine. It is a single central type-switch over the node types,
// following the teacher's own style of walking an externally-owned syntax
// tree rather than attaching a per-node generate-code method — spec §6
// frames this as an open question; this package resolves it in favor of
// the central switch.
package codegen

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecmavm/engine/pkg/ast"
	"github.com/ecmavm/engine/pkg/ilgen"
	"github.com/ecmavm/engine/pkg/kind"
	"github.com/ecmavm/engine/pkg/scope"
)

// Host is the narrow runtime collaborator this package depends on beyond
// pkg/scope.RuntimeHost: type tokens for the two boxed representations
// Box and BeginCatchBlock need. Everything else (object model, property
// storage, the operator and call implementations reached through Syscall)
// lives entirely on the other side of the Syscall boundary and is opaque
// to this package.
type Host interface {
	scope.RuntimeHost

	// NumberTypeToken identifies the boxed numeric representation to Box.
	NumberTypeToken() int32
	// ExceptionTypeToken identifies the type a catch clause without a
	// filter matches; this language has no catch-by-type, so every catch
	// clause uses the same token.
	ExceptionTypeToken() int32
}

// OptimizationInfo is Optimize's output: the annotations a later
// implementation of that pass would attach. No transformation happens
// here (spec's Non-goals exclude an AST optimizer), so today it only
// threads through the program's strict-mode flag and an opaque debug
// value a host-side symbol writer can stash without this package knowing
// its format.
type OptimizationInfo struct {
	StrictMode bool
	Debug      any
}

// Routine is one compiled method: the raw ilgen.Routine plus the
// correlation ID stamped on it and any closures it defines, each
// recursively a Routine of its own.
type Routine struct {
	ilgen.Routine
	ID       string
	Closures []Routine
}

// Generator is the method generator. One Generator can compile many
// programs; nothing about it is mutated by GenerateCode.
type Generator struct {
	Host    Host
	Log     *zap.Logger
	Checked bool
}

// New creates a Generator. A nil log is replaced with a no-op logger.
func New(host Host, log *zap.Logger, checked bool) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{Host: host, Log: log, Checked: checked}
}

// Parse accepts a pre-built program. The lexer/parser that would normally
// produce one is explicitly out of scope (design §1); this exists only so
// a caller can follow the reference Parse/Optimize/GenerateCode sequence.
func (g *Generator) Parse(p *ast.Program) *ast.Program { return p }

// Optimize is a deliberate no-op. No AST rewrite happens; it only packages
// the annotations a later optimizer pass would consume.
func (g *Generator) Optimize(p *ast.Program) (*ast.Program, OptimizationInfo) {
	return p, OptimizationInfo{StrictMode: p.Strict}
}

// GenerateCode compiles p into a Routine.
func (g *Generator) GenerateCode(p *ast.Program, info OptimizationInfo) (Routine, error) {
	id := uuid.New().String()
	log := g.Log.With(zap.String("compilation", id))
	log.Debug("generating code",
		zap.Int("params", len(p.Params)),
		zap.Bool("strict", info.StrictMode),
	)

	global := scope.NewGlobalScope(g.Host)
	chain := scope.NewChain(g.Host)
	routine, err := compileFunctionBody(g.Host, chain, log, g.Checked, global, id, p.Params, p.Body)
	if err != nil {
		log.Warn("code generation failed", zap.Error(err))
		return Routine{}, err
	}
	return routine, nil
}

// compileFunctionBody emits one routine: a function body (or the top-level
// program, whose enclosing scope is the global scope) closing over
// enclosing. chain is shared across every nested closure compiled from the
// same top-level GenerateCode call, so inline-cache site IDs stay unique
// across the whole compilation the way design §9 describes.
func compileFunctionBody(host Host, chain *scope.Chain, log *zap.Logger, checked bool, enclosing *scope.Scope, id string, params []string, body []ast.Stmt) (Routine, error) {
	e := ilgen.New(checked)
	fn := scope.NewDeclarativeScope(enclosing)
	c := &compiler{e: e, chain: chain, host: host, log: log}

	// Argument 0 is the current-scope handle threaded through every
	// generated routine (design §4.5/§9); the rest mirror the function's
	// declared parameters.
	if _, err := e.DeclareArgument(kind.Object); err != nil {
		return Routine{}, fmt.Errorf("codegen: declaring scope argument: %w", err)
	}
	for range params {
		if _, err := e.DeclareArgument(kind.Object); err != nil {
			return Routine{}, fmt.Errorf("codegen: declaring parameter argument: %w", err)
		}
	}
	// Copy each incoming argument into a declarative slot immediately, so
	// GenerateGet/GenerateSet only ever have to resolve names against
	// locals, never against the argument table.
	for i, name := range params {
		idx, err := fn.DeclareSlot(e, name, kind.Object)
		if err != nil {
			return Routine{}, fmt.Errorf("codegen: declaring parameter %q: %w", name, err)
		}
		if err := e.LoadArgument(i + 1); err != nil {
			return Routine{}, fmt.Errorf("codegen: loading parameter %q: %w", name, err)
		}
		if err := e.StoreLocal(idx); err != nil {
			return Routine{}, fmt.Errorf("codegen: storing parameter %q: %w", name, err)
		}
	}

	if err := c.genStmts(fn, body); err != nil {
		return Routine{}, err
	}

	// Every routine returns a value; fall through to an implicit `return
	// undefined;` if control reaches the end of the body without one.
	if !e.Indeterminate() {
		e.LoadNull()
		e.Return(true)
	}

	r, err := e.Complete(true)
	if err != nil {
		return Routine{}, err
	}
	return Routine{Routine: r, ID: id, Closures: c.closures}, nil
}

// loopCtx is pushed while compiling a WhileStmt so break/continue inside its
// body can find their targets.
type loopCtx struct {
	breakLabel    ilgen.LabelID
	continueLabel ilgen.LabelID
}

// compiler holds the state of one compileFunctionBody call. It is not
// reused across routines; each nested FunctionExpr gets its own compiler
// over its own Emitter, sharing only the chain (for inline-cache site IDs)
// and the host/log.
type compiler struct {
	e     *ilgen.Emitter
	chain *scope.Chain
	host  Host
	log   *zap.Logger

	loops    []loopCtx
	closures []Routine
}

func (c *compiler) genStmts(s *scope.Scope, stmts []ast.Stmt) error {
	for _, st := range stmts {
		if err := c.genStmt(s, st); err != nil {
			return err
		}
	}
	return nil
}

// nearestDeclarative walks up from s to the nearest declarative scope. Only
// one exists per function (design §4.5's single-pass, no block-scoping
// model matches the language's `var` semantics), so this is always the
// enclosing function's own scope, however many `with` object scopes sit
// between it and s.
func nearestDeclarative(s *scope.Scope) *scope.Scope {
	for cur := s; cur != nil; cur = cur.Parent() {
		if cur.Variant() == scope.Declarative {
			return cur
		}
	}
	return nil
}

func (c *compiler) genStmt(s *scope.Scope, st ast.Stmt) error {
	switch n := st.(type) {
	case *ast.ExprStmt:
		if err := c.genExpr(s, n.X); err != nil {
			return err
		}
		c.e.Pop()
		return c.e.Err

	case *ast.VarDecl:
		fn := nearestDeclarative(s)
		if fn == nil {
			return fmt.Errorf("codegen: var %q declared outside any declarative scope", n.Name)
		}
		idx, err := fn.DeclareSlot(c.e, n.Name, kind.Object)
		if err != nil {
			return fmt.Errorf("codegen: declaring var %q: %w", n.Name, err)
		}
		if n.Init == nil {
			return nil
		}
		if err := c.genExpr(s, n.Init); err != nil {
			return err
		}
		if err := c.e.StoreLocal(idx); err != nil {
			return err
		}
		return c.e.Err

	case *ast.BlockStmt:
		return c.genStmts(s, n.Body)

	case *ast.IfStmt:
		return c.genIf(s, n)

	case *ast.WhileStmt:
		return c.genWhile(s, n)

	case *ast.ReturnStmt:
		if n.Value == nil {
			c.e.LoadNull()
			c.e.Return(true)
			return c.e.Err
		}
		if err := c.genExpr(s, n.Value); err != nil {
			return err
		}
		c.e.Return(true)
		return c.e.Err

	case *ast.BreakStmt:
		if len(c.loops) == 0 {
			return fmt.Errorf("codegen: break outside a loop")
		}
		return c.e.Branch(c.loops[len(c.loops)-1].breakLabel)

	case *ast.ContinueStmt:
		// A switch pushes a context with no continue target (-1); skip past
		// it to the nearest enclosing loop.
		for i := len(c.loops) - 1; i >= 0; i-- {
			if c.loops[i].continueLabel >= 0 {
				return c.e.Branch(c.loops[i].continueLabel)
			}
		}
		return fmt.Errorf("codegen: continue outside a loop")

	case *ast.TryStmt:
		return c.genTry(s, n)

	case *ast.WithStmt:
		return c.genWith(s, n)

	case *ast.SwitchStmt:
		return c.genSwitch(s, n)

	default:
		return fmt.Errorf("codegen: unknown statement node %T", st)
	}
}

// genCondition compiles cond and branches to target if it is falsy. Every
// condition goes through the generic boxed path, even a bare numeric
// comparison that could in principle branch straight off the unboxed
// Int32 result: peepholing that is an AST-optimization concern, and no
// such pass is implemented (design Non-goals).
func (c *compiler) genCondition(s *scope.Scope, cond ast.Expr, falseTarget ilgen.LabelID) error {
	if err := c.genExpr(s, cond); err != nil {
		return err
	}
	return c.e.BranchIfFalse(falseTarget)
}

func (c *compiler) genIf(s *scope.Scope, n *ast.IfStmt) error {
	elseLabel := c.e.CreateLabel()
	doneLabel := c.e.CreateLabel()

	if err := c.genCondition(s, n.Cond, elseLabel); err != nil {
		return err
	}
	if err := c.genStmts(s, n.Then); err != nil {
		return err
	}
	if !c.e.Indeterminate() {
		if err := c.e.Branch(doneLabel); err != nil {
			return err
		}
	}
	if err := c.e.DefineLabel(elseLabel); err != nil {
		return err
	}
	if len(n.Else) > 0 {
		if err := c.genStmts(s, n.Else); err != nil {
			return err
		}
	}
	return c.e.DefineLabel(doneLabel)
}

func (c *compiler) genWhile(s *scope.Scope, n *ast.WhileStmt) error {
	top := c.e.CreateLabel()
	done := c.e.CreateLabel()

	if err := c.e.DefineLabel(top); err != nil {
		return err
	}
	if err := c.genCondition(s, n.Cond, done); err != nil {
		return err
	}

	c.loops = append(c.loops, loopCtx{breakLabel: done, continueLabel: top})
	err := c.genStmts(s, n.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err != nil {
		return err
	}

	if !c.e.Indeterminate() {
		if err := c.e.Branch(top); err != nil {
			return err
		}
	}
	return c.e.DefineLabel(done)
}

// genTry compiles a try/catch/finally region onto a shared join point that
// every non-exceptional exit path (the try block falling through, the
// catch body falling through) leaves to; Leave's unwind semantics run any
// attached finally along the way regardless of which path is taken.
func (c *compiler) genTry(s *scope.Scope, n *ast.TryStmt) error {
	if len(n.Catch) == 0 && len(n.Finally) == 0 {
		return fmt.Errorf("codegen: try statement needs a catch or finally clause")
	}
	join := c.e.CreateLabel()

	if err := c.e.BeginExceptionBlock(); err != nil {
		return err
	}
	if err := c.genStmts(s, n.Try); err != nil {
		return err
	}
	if !c.e.Indeterminate() {
		if err := c.e.Leave(join); err != nil {
			return err
		}
	}

	if len(n.Catch) > 0 {
		if err := c.e.BeginCatchBlock(c.host.ExceptionTypeToken()); err != nil {
			return err
		}
		catchScope := scope.NewDeclarativeScope(s)
		if n.CatchParam != "" {
			idx, err := catchScope.DeclareSlot(c.e, n.CatchParam, kind.Object)
			if err != nil {
				return err
			}
			if err := c.e.StoreLocal(idx); err != nil {
				return err
			}
		} else {
			c.e.Pop()
		}
		if err := c.genStmts(catchScope, n.Catch); err != nil {
			return err
		}
		if !c.e.Indeterminate() {
			if err := c.e.Leave(join); err != nil {
				return err
			}
		}
	}

	if len(n.Finally) > 0 {
		if err := c.e.BeginFinallyBlock(); err != nil {
			return err
		}
		if err := c.genStmts(s, n.Finally); err != nil {
			return err
		}
		if err := c.e.EndFinally(); err != nil {
			return err
		}
	}

	if err := c.e.EndExceptionBlock(); err != nil {
		return err
	}
	return c.e.DefineLabel(join)
}

// genWith saves the live scope argument, replaces it with a new object
// scope wrapping Obj for the duration of Body, and restores it afterward.
// Nothing in pkg/scope models the restore step (CreateScope only knows how
// to push a new scope on), so it is done here with a dedicated local.
func (c *compiler) genWith(s *scope.Scope, n *ast.WithStmt) error {
	saved, err := c.e.DeclareLocal(kind.Object)
	if err != nil {
		return err
	}
	if err := c.e.LoadArgument(0); err != nil {
		return err
	}
	if err := c.e.StoreLocal(saved); err != nil {
		return err
	}

	withScope := scope.NewObjectScope(s, c.host, true)
	if err := withScope.CreateScope(c.e, 0, func() error { return c.genExpr(s, n.Obj) }); err != nil {
		return err
	}

	if err := c.genStmts(withScope, n.Body); err != nil {
		return err
	}

	// Skip the restore if the body already left the stream indeterminate
	// (every path out of it returned or threw): the bytes would never run.
	if !c.e.Indeterminate() {
		if err := c.e.LoadLocal(saved); err != nil {
			return err
		}
		if err := c.e.StoreArgument(0); err != nil {
			return err
		}
	}
	return nil
}

// genSwitch lowers a switch to a linear cascade of strict-equality tests
// against the discriminant, one per non-default case, falling through to
// the default case (or past the switch, if there is none) when nothing
// matches. Case bodies are laid out in source order with no branch
// inserted between them, so fallthrough between cases works the same way
// it does in the emitted bytecode of a hand-written switch. The emitter's
// own dense-jump-table Switch primitive is left for discriminants known at
// compile time to be small contiguous integers, which a source-level
// switch's arbitrary case expressions generally are not.
func (c *compiler) genSwitch(s *scope.Scope, n *ast.SwitchStmt) error {
	disc, err := c.e.DeclareLocal(kind.Object)
	if err != nil {
		return err
	}
	if err := c.genExpr(s, n.Discriminant); err != nil {
		return err
	}
	if err := c.e.StoreLocal(disc); err != nil {
		return err
	}

	end := c.e.CreateLabel()
	labels := make([]ilgen.LabelID, len(n.Cases))
	defaultIdx := -1
	for i, cs := range n.Cases {
		labels[i] = c.e.CreateLabel()
		if cs.Test == nil {
			defaultIdx = i
		}
	}

	for i, cs := range n.Cases {
		if cs.Test == nil {
			continue
		}
		if err := c.e.LoadLocal(disc); err != nil {
			return err
		}
		if err := c.genExpr(s, cs.Test); err != nil {
			return err
		}
		c.e.Syscall("strict_equals", 2, true)
		c.e.Syscall("to_boolean", 1, true)
		if err := c.e.BranchIfTrue(labels[i]); err != nil {
			return err
		}
	}
	if defaultIdx >= 0 {
		if err := c.e.Branch(labels[defaultIdx]); err != nil {
			return err
		}
	} else if err := c.e.Branch(end); err != nil {
		return err
	}

	c.loops = append(c.loops, loopCtx{breakLabel: end, continueLabel: -1})
	for i, cs := range n.Cases {
		if err := c.e.DefineLabel(labels[i]); err != nil {
			return err
		}
		if err := c.genStmts(s, cs.Body); err != nil {
			c.loops = c.loops[:len(c.loops)-1]
			return err
		}
	}
	c.loops = c.loops[:len(c.loops)-1]

	return c.e.DefineLabel(end)
}

// --- expressions ---

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (c *compiler) genExpr(s *scope.Scope, e ast.Expr) error {
	switch n := e.(type) {
	case *ast.IntLiteral:
		c.e.LoadInt32(n.Value)
		c.e.Box(c.host.NumberTypeToken())
		return c.e.Err

	case *ast.LongLiteral:
		c.e.LoadInt64(n.Value)
		c.e.Box(c.host.NumberTypeToken())
		return c.e.Err

	case *ast.DoubleLiteral:
		c.e.LoadDouble(n.Value)
		c.e.Box(c.host.NumberTypeToken())
		return c.e.Err

	case *ast.BoolLiteral:
		c.e.LoadInt32(boolToI32(n.Value))
		c.e.Box(c.host.NumberTypeToken())
		return c.e.Err

	case *ast.StringLiteral:
		c.e.LoadString(n.Value)
		return c.e.Err

	case *ast.NullLiteral:
		c.e.LoadNull()
		return c.e.Err

	case *ast.Identifier:
		return c.chain.GenerateGet(c.e, s, n.Name)

	case *ast.AssignExpr:
		if err := c.genExpr(s, n.Value); err != nil {
			return err
		}
		c.e.Duplicate()
		return c.chain.GenerateSet(c.e, s, n.Name)

	case *ast.BinaryExpr:
		return c.genBinary(s, n)

	case *ast.UnaryExpr:
		return c.genUnary(s, n)

	case *ast.CallExpr:
		return c.genCall(s, n)

	case *ast.FunctionExpr:
		return c.genFunctionExpr(s, n)

	default:
		return fmt.Errorf("codegen: unknown expression node %T", e)
	}
}

// numericKindOf reports the unboxed stack kind e would leave if compiled
// directly by genNumeric, without ever producing a boxed Object in
// between. It is independent of ast.Expr.ResultKind: that query describes
// the value an expression conceptually yields, while this one encodes
// exactly what the emitter's own numeric operations require and produce
// (bitwise/shift always want and yield Int32, a comparison's two operands
// need only share a kind to yield one, and so on) — the two intentionally
// diverge for operators whose runtime kind isn't simply "whatever the
// operand already was".
func numericKindOf(e ast.Expr) (kind.Kind, bool) {
	switch n := e.(type) {
	case *ast.IntLiteral:
		return kind.Int32, true
	case *ast.LongLiteral:
		return kind.Int64, true
	case *ast.DoubleLiteral:
		return kind.Float, true
	case *ast.BoolLiteral:
		return kind.Int32, true
	case *ast.UnaryExpr:
		k, ok := numericKindOf(n.Operand)
		if !ok {
			return 0, false
		}
		switch n.Op {
		case "-":
			return k, true
		case "~":
			if k != kind.Int32 {
				return 0, false
			}
			return kind.Int32, true
		case "!":
			return kind.Int32, true
		}
		return 0, false
	case *ast.BinaryExpr:
		lk, lok := numericKindOf(n.Left)
		rk, rok := numericKindOf(n.Right)
		if !lok || !rok {
			return 0, false
		}
		switch n.Op {
		case "+", "-", "*", "/", "%":
			if lk == rk {
				return lk, true
			}
		case "&", "|", "^", "<<", ">>", ">>>":
			if lk == kind.Int32 && rk == kind.Int32 {
				return kind.Int32, true
			}
		case "==", "!=", "<", "<=", ">", ">=":
			if lk == rk {
				return kind.Int32, true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// genNumeric compiles e directly onto the unboxed numeric stack; the
// caller must already know (via numericKindOf) that e folds this way.
func (c *compiler) genNumeric(s *scope.Scope, e ast.Expr) error {
	switch n := e.(type) {
	case *ast.IntLiteral:
		c.e.LoadInt32(n.Value)
		return c.e.Err
	case *ast.LongLiteral:
		c.e.LoadInt64(n.Value)
		return c.e.Err
	case *ast.DoubleLiteral:
		c.e.LoadDouble(n.Value)
		return c.e.Err
	case *ast.BoolLiteral:
		c.e.LoadInt32(boolToI32(n.Value))
		return c.e.Err
	case *ast.UnaryExpr:
		if err := c.genNumeric(s, n.Operand); err != nil {
			return err
		}
		return c.emitNumericUnary(n.Op)
	case *ast.BinaryExpr:
		if err := c.genNumeric(s, n.Left); err != nil {
			return err
		}
		if err := c.genNumeric(s, n.Right); err != nil {
			return err
		}
		return c.emitNumericBinary(n.Op)
	default:
		return fmt.Errorf("codegen: %T is not foldable to a numeric stack value", e)
	}
}

func (c *compiler) emitNumericBinary(op string) error {
	switch op {
	case "+":
		c.e.Add()
	case "-":
		c.e.Subtract()
	case "*":
		c.e.Multiply()
	case "/":
		c.e.Divide()
	case "%":
		c.e.Remainder()
	case "&":
		c.e.BitwiseAnd()
	case "|":
		c.e.BitwiseOr()
	case "^":
		c.e.BitwiseXor()
	case "<<":
		c.e.ShiftLeft()
	case ">>":
		c.e.ShiftRight()
	case ">>>":
		c.e.ShiftRightUnsigned()
	case "==":
		c.e.CompareEqual()
	case "!=":
		c.e.CompareEqual()
		c.e.LoadInt32(0)
		c.e.CompareEqual()
	case "<":
		c.e.CompareLessThan()
	case "<=":
		c.e.CompareGreaterThan()
		c.e.LoadInt32(0)
		c.e.CompareEqual()
	case ">":
		c.e.CompareGreaterThan()
	case ">=":
		c.e.CompareLessThan()
		c.e.LoadInt32(0)
		c.e.CompareEqual()
	default:
		return fmt.Errorf("codegen: unsupported binary operator %q", op)
	}
	return c.e.Err
}

func (c *compiler) emitNumericUnary(op string) error {
	switch op {
	case "-":
		c.e.Negate()
	case "~":
		c.e.BitwiseNot()
	case "!":
		c.e.LoadInt32(0)
		c.e.CompareEqual()
	default:
		return fmt.Errorf("codegen: unsupported unary operator %q", op)
	}
	return c.e.Err
}

func binarySyscallName(op string) string {
	switch op {
	case "+":
		return "op_add"
	case "-":
		return "op_sub"
	case "*":
		return "op_mul"
	case "/":
		return "op_div"
	case "%":
		return "op_mod"
	case "&":
		return "op_and"
	case "|":
		return "op_or"
	case "^":
		return "op_xor"
	case "<<":
		return "op_shl"
	case ">>":
		return "op_shr"
	case ">>>":
		return "op_shr_u"
	case "==":
		return "op_eq"
	case "!=":
		return "op_ne"
	case "<":
		return "op_lt"
	case "<=":
		return "op_le"
	case ">":
		return "op_gt"
	case ">=":
		return "op_ge"
	default:
		return "op_unknown"
	}
}

func unarySyscallName(op string) string {
	switch op {
	case "-":
		return "op_neg"
	case "~":
		return "op_bnot"
	case "!":
		return "op_not"
	default:
		return "op_unknown"
	}
}

// genBinary takes the unboxed fast path when both operands and the
// operator fold to a known numeric stack kind, and the generic
// polymorphic-operator Syscall otherwise.
func (c *compiler) genBinary(s *scope.Scope, n *ast.BinaryExpr) error {
	if _, ok := numericKindOf(n); ok {
		if err := c.genNumeric(s, n); err != nil {
			return err
		}
		c.e.Box(c.host.NumberTypeToken())
		return c.e.Err
	}
	if err := c.genExpr(s, n.Left); err != nil {
		return err
	}
	if err := c.genExpr(s, n.Right); err != nil {
		return err
	}
	c.e.Syscall(binarySyscallName(n.Op), 2, true)
	return c.e.Err
}

func (c *compiler) genUnary(s *scope.Scope, n *ast.UnaryExpr) error {
	if _, ok := numericKindOf(n); ok {
		if err := c.genNumeric(s, n); err != nil {
			return err
		}
		c.e.Box(c.host.NumberTypeToken())
		return c.e.Err
	}
	if err := c.genExpr(s, n.Operand); err != nil {
		return err
	}
	c.e.Syscall(unarySyscallName(n.Op), 1, true)
	return c.e.Err
}

// genCall resolves the implicit `this` for the live scope chain, then the
// callee value, then each argument, and dispatches through a single
// Syscall: the emitter's own CALL/CALLVIRT forms address a fixed method
// token, which has no counterpart for a first-class function value popped
// off the stack, so an indirect call goes through the same host boundary
// every other runtime operation does.
func (c *compiler) genCall(s *scope.Scope, n *ast.CallExpr) error {
	if err := c.e.LoadArgument(0); err != nil {
		return err
	}
	c.e.Syscall("implicit_receiver", 1, true)
	if err := c.genExpr(s, n.Callee); err != nil {
		return err
	}
	for _, a := range n.Args {
		if err := c.genExpr(s, a); err != nil {
			return err
		}
	}
	c.e.Syscall("invoke_closure", len(n.Args)+2, true)
	return c.e.Err
}

// genFunctionExpr compiles Body as its own routine, capturing the
// enclosing scope chain by index rather than a back-pointer (design §9):
// the closure only needs to remember which entry of its defining routine's
// Closures table it came from, and the current scope argument at the
// moment it's created.
func (c *compiler) genFunctionExpr(s *scope.Scope, n *ast.FunctionExpr) error {
	inner, err := compileFunctionBody(c.host, c.chain, c.log, c.e.Checked, s, uuid.New().String(), n.Params, n.Body)
	if err != nil {
		return fmt.Errorf("codegen: compiling function %q: %w", n.Name, err)
	}
	idx := len(c.closures)
	c.closures = append(c.closures, inner)

	if err := c.e.LoadArgument(0); err != nil {
		return err
	}
	c.e.LoadInt32(int32(idx))
	c.e.Syscall("make_closure", 2, true)
	return c.e.Err
}
