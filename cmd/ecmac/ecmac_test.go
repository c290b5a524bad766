package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmavm/engine/pkg/ast"
	"github.com/ecmavm/engine/pkg/codegen"
)

func compileDemo(t *testing.T, body []ast.Stmt, params ...string) codegen.Routine {
	t.Helper()
	g := codegen.New(newDemoHost(), nil, true)
	r, err := g.GenerateCode(&ast.Program{Params: params, Body: body}, codegen.OptimizationInfo{})
	require.NoError(t, err)
	return r
}

// Writing a routine out as a .ecb container and reading it back must
// reproduce every byte of its code, local signature, and exception table.
func TestECBRoundTrip(t *testing.T) {
	r := compileDemo(t, []ast.Stmt{
		&ast.TryStmt{
			Try:        []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
			CatchParam: "e",
			Catch:      []ast.Stmt{&ast.ReturnStmt{Value: &ast.Identifier{Name: "e"}}},
			Finally:    []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
		},
		&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}},
	})

	buf := writeECB(r)
	got, err := readECB(buf)
	require.NoError(t, err)

	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.MaxStack, got.MaxStack)
	assert.Equal(t, r.Code, got.Code)
	assert.Equal(t, r.LocalSignature, got.LocalSignature)
	assert.Equal(t, r.ExceptionTable, got.ExceptionTable)
	assert.Len(t, got.Closures, len(r.Closures))
}

// A closure-bearing routine round-trips its nested routines too.
func TestECBRoundTripWithClosure(t *testing.T) {
	r := compileDemo(t, []ast.Stmt{
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

	got, err := readECB(writeECB(r))
	require.NoError(t, err)
	require.Len(t, got.Closures, 1)
	assert.Equal(t, r.Closures[0].ID, got.Closures[0].ID)
	assert.Equal(t, r.Closures[0].Code, got.Closures[0].Code)
}

// readECB must reject a buffer that doesn't start with the magic header.
func TestReadECBRejectsMissingMagic(t *testing.T) {
	_, err := readECB([]byte("not an ecb file"))
	assert.Error(t, err)
}

// The disassembler must mention every opcode a straight-line arithmetic
// routine emits, and the handler line for its try/catch/finally region.
func TestDisassembleListsOpcodesAndHandler(t *testing.T) {
	r := compileDemo(t, []ast.Stmt{
		&ast.TryStmt{
			Try:        []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
			CatchParam: "e",
			Catch:      []ast.Stmt{&ast.ReturnStmt{Value: &ast.Identifier{Name: "e"}}},
			Finally:    []ast.Stmt{&ast.ExprStmt{X: &ast.IntLiteral{Value: 1}}},
		},
		&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}},
	})
	out := disassemble(r, "main")
	assert.Contains(t, out, "routine main")
	assert.Contains(t, out, "handler: try[")
}

// Interpreting a routine that only adds two literals exercises the demo
// arithmetic syscalls end to end.
func TestInterpRunsArithmeticSyscall(t *testing.T) {
	r := compileDemo(t, []ast.Stmt{
		&ast.ReturnStmt{Value: &ast.BinaryExpr{
			Op:    "+",
			Left:  &ast.IntLiteral{Value: 1},
			Right: &ast.DoubleLiteral{Value: 2.5},
		}},
	})
	result, err := interp(r, []interface{}{nil}, defaultSyscalls())
	require.NoError(t, err)
	assert.EqualValues(t, 3.5, numOf(result))
}

// A syscall this demo interpreter doesn't implement (anything touching the
// scope chain or object model) must fail clearly rather than silently no-op.
func TestInterpRejectsUnsupportedSyscall(t *testing.T) {
	r := compileDemo(t, []ast.Stmt{
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: &ast.Identifier{Name: "f"},
			Args:   []ast.Expr{&ast.IntLiteral{Value: 1}},
		}},
		&ast.ReturnStmt{Value: &ast.IntLiteral{Value: 0}},
	})
	_, err := interp(r, []interface{}{nil}, defaultSyscalls())
	assert.Error(t, err)
}
