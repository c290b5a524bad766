package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmavm/engine/pkg/ast"
)

// fakeHost is the narrowest possible Host: every property name maps to its
// own token deterministically, so tests can assert on generated code shape
// without a real runtime behind it.
type fakeHost struct {
	tokens map[string]int32
}

func newFakeHost() *fakeHost { return &fakeHost{tokens: map[string]int32{}} }

func (h *fakeHost) PropertyToken(name string) int32 {
	if t, ok := h.tokens[name]; ok {
		return t
	}
	t := int32(len(h.tokens) + 1)
	h.tokens[name] = t
	return t
}

func (h *fakeHost) NumberTypeToken() int32    { return 100 }
func (h *fakeHost) ExceptionTypeToken() int32 { return 200 }

func compile(t *testing.T, body []ast.Stmt, params ...string) Routine {
	t.Helper()
	g := New(newFakeHost(), nil, true)
	p := &ast.Program{Params: params, Body: body}
	r, err := g.GenerateCode(p, OptimizationInfo{})
	require.NoError(t, err)
	return r
}

// E1 analogue: `return 1+2;` folds to the unboxed numeric fast path, then
// boxes once for the return.
func TestReturnConstantSum(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.ReturnStmt{Value: &ast.BinaryExpr{Op: "+", Left: &ast.IntLiteral{Value: 1}, Right: &ast.IntLiteral{Value: 2}}},
	})
	assert.NotEmpty(t, r.Code)
	assert.NotEmpty(t, r.ID)
}

// A function with declared parameters copies each argument into a
// declarative slot before the body runs.
func TestParametersCopiedToLocals(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.ReturnStmt{Value: &ast.Identifier{Name: "x"}},
	}, "x")
	assert.NotEmpty(t, r.Code)
}

// A body with no explicit return still produces a valid routine: codegen
// appends an implicit `return null;`.
func TestImplicitReturn(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}},
	})
	assert.NotEmpty(t, r.Code)
}

// var x = 1; if (x) { x = 2; } else { x = 3; } return x;
func TestIfElseAssignsThroughScope(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.VarDecl{Name: "x", Init: &ast.IntLiteral{Value: 1}},
		&ast.IfStmt{
			Cond: &ast.Identifier{Name: "x"},
			Then: []ast.Stmt{&ast.ExprStmt{X: &ast.AssignExpr{Name: "x", Value: &ast.IntLiteral{Value: 2}}}},
			Else: []ast.Stmt{&ast.ExprStmt{X: &ast.AssignExpr{Name: "x", Value: &ast.IntLiteral{Value: 3}}}},
		},
		&ast.ReturnStmt{Value: &ast.Identifier{Name: "x"}},
	})
	assert.NotEmpty(t, r.Code)
}

// A while loop whose body breaks out early.
func TestWhileLoopWithBreak(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.VarDecl{Name: "i", Init: &ast.IntLiteral{Value: 0}},
		&ast.WhileStmt{
			Cond: &ast.Identifier{Name: "i"},
			Body: []ast.Stmt{
				&ast.IfStmt{
					Cond: &ast.Identifier{Name: "i"},
					Then: []ast.Stmt{&ast.BreakStmt{}},
				},
				&ast.ExprStmt{X: &ast.AssignExpr{Name: "i", Value: &ast.Identifier{Name: "i"}}},
			},
		},
		&ast.ReturnStmt{Value: &ast.Identifier{Name: "i"}},
	})
	assert.NotEmpty(t, r.Code)
}

// try { 1; } catch (e) { return e; } finally { 1; } — every exit
// path leaves to the same join label.
func TestTryCatchFinally(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.TryStmt{
			Try:        []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
			CatchParam: "e",
			Catch:      []ast.Stmt{&ast.ReturnStmt{Value: &ast.Identifier{Name: "e"}}},
			Finally:    []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
		},
		&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}},
	})
	assert.NotEmpty(t, r.Code)
}

// try { } finally { } with no catch clause is still legal.
func TestTryFinallyOnly(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.TryStmt{
			Try:     []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
			Finally: []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
		},
	})
	assert.NotEmpty(t, r.Code)
}

// A try statement with neither catch nor finally is rejected before any
// bytes are emitted.
func TestTryWithNeitherClauseIsRejected(t *testing.T) {
	_, err := New(newFakeHost(), nil, true).GenerateCode(&ast.Program{
		Body: []ast.Stmt{&ast.TryStmt{Try: []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}}}},
	}, OptimizationInfo{})
	require.Error(t, err)
}

// with (obj) { x = 1; } restores the saved scope argument afterward.
func TestWithStatementRestoresScope(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.WithStmt{
			Obj:  &ast.Identifier{Name: "obj"},
			Body: []ast.Stmt{&ast.ExprStmt{X: &ast.AssignExpr{Name: "x", Value: &ast.IntLiteral{Value: 1}}}},
		},
		&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}},
	}, "obj")
	assert.NotEmpty(t, r.Code)
}

// switch (x) { case 1: return 1; case 2: return 2; default: return 0; }
func TestSwitchCascade(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.SwitchStmt{
			Discriminant: &ast.Identifier{Name: "x"},
			Cases: []ast.SwitchCase{
				{Test: &ast.IntLiteral{Value: 1}, Body: []ast.Stmt{&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 1}}}},
				{Test: &ast.IntLiteral{Value: 2}, Body: []ast.Stmt{&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 2}}}},
				{Test: nil, Body: []ast.Stmt{&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}}}},
			},
		},
	}, "x")
	assert.NotEmpty(t, r.Code)
}

// A switch statement nested in a loop: `continue` must still reach the
// loop's continue target, not the switch.
func TestContinueInsideNestedSwitch(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.VarDecl{Name: "i", Init: &ast.IntLiteral{Value: 0}},
		&ast.WhileStmt{
			Cond: &ast.Identifier{Name: "i"},
			Body: []ast.Stmt{
				&ast.SwitchStmt{
					Discriminant: &ast.Identifier{Name: "i"},
					Cases: []ast.SwitchCase{
						{Test: &ast.IntLiteral{Value: 1}, Body: []ast.Stmt{&ast.ContinueStmt{}}},
					},
				},
			},
		},
		&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}},
	})
	assert.NotEmpty(t, r.Code)
}

// A call expression resolves the implicit receiver, the callee, and each
// argument through the generic Syscall path.
func TestCallExpression(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: &ast.Identifier{Name: "f"},
			Args:   []ast.Expr{&ast.IntLiteral{Value: 1}, &ast.StringLiteral{Value: "a"}},
		}},
		&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}},
	})
	assert.NotEmpty(t, r.Code)
}

// A function expression compiles its body as a nested closure routine,
// recorded on the parent's Closures slice.
func TestFunctionExpressionProducesClosure(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.VarDecl{
			Name: "f",
			Init: &ast.FunctionExpr{
				Name:   "inner",
				Params: []string{"y"},
				Body:   []ast.Stmt{&ast.ReturnStmt{Value: &ast.Identifier{Name: "y"}}},
			},
		},
		&ast.ReturnStmt{Value: &ast.Identifier{Name: "f"}},
	})
	require.Len(t, r.Closures, 1)
	assert.NotEmpty(t, r.Closures[0].Code)
	assert.NotEmpty(t, r.Closures[0].ID)
	assert.NotEqual(t, r.ID, r.Closures[0].ID)
}

// Comparison and bitwise operators both fold through the unboxed fast path
// when both operands are int literals.
func TestBitwiseAndComparisonFolding(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.ReturnStmt{Value: &ast.BinaryExpr{
			Op:   "!=",
			Left: &ast.BinaryExpr{Op: "&", Left: &ast.IntLiteral{Value: 6}, Right: &ast.IntLiteral{Value: 3}},
			Right: &ast.IntLiteral{Value: 0},
		}},
	})
	assert.NotEmpty(t, r.Code)
}

// A binary expression with mismatched literal kinds falls back to the
// generic polymorphic Syscall path instead of folding.
func TestMixedKindBinaryFallsBackToSyscall(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.ReturnStmt{Value: &ast.BinaryExpr{
			Op:    "+",
			Left:  &ast.IntLiteral{Value: 1},
			Right: &ast.DoubleLiteral{Value: 2.5},
		}},
	})
	assert.NotEmpty(t, r.Code)
}

func TestLogicalNotFolds(t *testing.T) {
	r := compile(t, []ast.Stmt{
		&ast.ReturnStmt{Value: &ast.UnaryExpr{Op: "!", Operand: &ast.BoolLiteral{Value: true}}},
	})
	assert.NotEmpty(t, r.Code)
}
