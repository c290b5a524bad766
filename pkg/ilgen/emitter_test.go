package ilgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmavm/engine/pkg/kind"
)

// E1: `return 1+2` — the simplest possible routine.
func TestReturnConstantSum(t *testing.T) {
	e := New(true)
	e.LoadInt32(1)
	e.LoadInt32(2)
	e.Add()
	e.Return(true)

	r, err := e.Complete(true)
	require.NoError(t, err)
	assert.Equal(t, 2, r.MaxStack)
	assert.NotEmpty(t, r.Code)
}

// E2: a while loop, whose back-edge branch targets a label defined earlier
// in the stream (so the branch is resolved immediately, not via fix-up).
func TestWhileLoopBackEdge(t *testing.T) {
	e := New(true)
	top := e.CreateLabel()
	done := e.CreateLabel()

	require.NoError(t, e.DefineLabel(top))
	e.LoadInt32(0) // stand-in for the loop condition
	require.NoError(t, e.BranchIfFalse(done))
	e.LoadInt32(1)
	e.Pop()
	require.NoError(t, e.Branch(top))

	require.NoError(t, e.DefineLabel(done))
	e.Return(false)

	_, err := e.Complete(false)
	require.NoError(t, err)
}

// E3: a try/catch/finally region whose try and catch bodies both leave to
// a shared join point.
func TestTryCatchFinally(t *testing.T) {
	e := New(true)
	join := e.CreateLabel()

	require.NoError(t, e.BeginExceptionBlock())
	e.LoadInt32(1)
	e.Pop()
	require.NoError(t, e.Leave(join))

	require.NoError(t, e.BeginCatchBlock(42))
	e.Pop() // discard the caught exception object
	require.NoError(t, e.Leave(join))

	require.NoError(t, e.BeginFinallyBlock())
	require.NoError(t, e.EndFinally())

	require.NoError(t, e.EndExceptionBlock())
	require.NoError(t, e.DefineLabel(join))
	e.Return(false)

	_, err := e.Complete(false)
	require.NoError(t, err)
}

// E6: a switch over a small dense set of cases, each branching to a shared
// exit label.
func TestSwitchTable(t *testing.T) {
	e := New(true)
	exit := e.CreateLabel()
	c0 := e.CreateLabel()
	c1 := e.CreateLabel()

	e.LoadInt32(0) // selector
	require.NoError(t, e.Switch([]LabelID{c0, c1}))
	require.NoError(t, e.Branch(exit)) // default path

	require.NoError(t, e.DefineLabel(c0))
	require.NoError(t, e.Branch(exit))

	require.NoError(t, e.DefineLabel(c1))
	require.NoError(t, e.Branch(exit))

	require.NoError(t, e.DefineLabel(exit))
	e.Return(false)

	_, err := e.Complete(false)
	require.NoError(t, err)
}

func TestStackUnderflowIsRejected(t *testing.T) {
	e := New(true)
	e.Add()
	require.Error(t, e.Err)
	assert.True(t, IsKind(e.Err, StackUnderflow))
}

func TestKindMismatchIsRejected(t *testing.T) {
	e := New(true)
	e.LoadInt32(1)
	e.LoadDouble(2.5)
	e.Add()
	require.Error(t, e.Err)
	assert.True(t, IsKind(e.Err, KindMismatch))
}

func TestUndefinedLabelIsRejected(t *testing.T) {
	e := New(true)
	dead := e.CreateLabel()
	require.NoError(t, e.Branch(dead))
	e.Return(false)

	_, err := e.Complete(false)
	require.Error(t, err)
	assert.True(t, IsKind(err, UndefinedLabel))
}

func TestDoubleDefinedLabelIsRejected(t *testing.T) {
	e := New(true)
	l := e.CreateLabel()
	require.NoError(t, e.DefineLabel(l))
	e.Return(false)
	err := e.DefineLabel(l)
	require.Error(t, err)
	assert.True(t, IsKind(err, DoubleDefinedLabel))
}

func TestDuplicateCatchIsRejected(t *testing.T) {
	e := New(true)
	require.NoError(t, e.BeginExceptionBlock())
	e.Return(false) // leaves stack indeterminate, fine inside try
	require.NoError(t, e.BeginCatchBlock(7))
	e.Pop()
	e.Return(false)
	err := e.BeginCatchBlock(7)
	require.Error(t, err)
	assert.True(t, IsKind(err, DuplicateCatch))
}

func TestEmptyExceptionRegionIsRejected(t *testing.T) {
	e := New(true)
	require.NoError(t, e.BeginExceptionBlock())
	err := e.EndExceptionBlock()
	require.Error(t, err)
	assert.True(t, IsKind(err, EmptyExceptionRegion))
}

func TestMisplacedEndFinallyIsRejected(t *testing.T) {
	e := New(true)
	err := e.EndFinally()
	require.Error(t, err)
	assert.True(t, IsKind(err, MisplacedEndFinally))
}

func TestLocalShortestEncoding(t *testing.T) {
	e := New(true)
	for i := 0; i < 5; i++ {
		_, err := e.DeclareLocal(kind.Int32)
		require.NoError(t, err)
	}
	e.LoadInt32(0)
	require.NoError(t, e.StoreLocal(0)) // 0-3 shortcut
	e.LoadInt32(0)
	require.NoError(t, e.StoreLocal(4)) // .s form
	require.NoError(t, e.LoadLocal(0))
	require.NoError(t, e.LoadLocal(4))
	e.Return(true)

	r, err := e.Complete(true)
	require.NoError(t, err)
	assert.NotEmpty(t, r.LocalSignature)
}

func TestTooManyLocalsIsRejected(t *testing.T) {
	e := New(false)
	e.locals.locals = make([]kind.Kind, maxSlotIndex+1)
	_, err := e.DeclareLocal(kind.Int32)
	require.Error(t, err)
	assert.True(t, IsKind(err, TooManyLocals))
}
