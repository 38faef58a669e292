package eval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"smplc/internal/eval"
	"smplc/internal/ir"
)

func newCFG(vars ...string) *ir.CFG {
	c := ir.NewCFG()
	c.Vars = vars
	c.Create()
	for _, v := range vars {
		c.AddSymbol(v, ir.Uninitialized)
	}
	return c
}

func TestComputeFoldsConstants(t *testing.T) {
	c := newCFG()
	x := eval.Compute(c, ir.ADD, eval.ConstResult(2), eval.ConstResult(3), nil)
	assert.Equal(t, eval.CONST, x.Kind)
	assert.Equal(t, 5, x.Value)
}

func TestComputeIntegerDivision(t *testing.T) {
	c := newCFG()
	x := eval.Compute(c, ir.DIV, eval.ConstResult(7), eval.ConstResult(2), nil)
	assert.Equal(t, eval.CONST, x.Kind)
	assert.Equal(t, 3, x.Value)
}

func TestComputeEmitsInstructionForVarPlusVar(t *testing.T) {
	c := newCFG("x", "y")
	xID := c.AddInstructionNoCSE(ir.READ, 0, 0)
	yID := c.AddInstructionNoCSE(ir.READ, 0, 0)

	x := eval.Compute(c, ir.ADD, eval.VarResult(xID, "x"), eval.VarResult(yID, "y"), nil)
	assert.Equal(t, eval.VAR, x.Kind)

	instr, err := c.FindInstruction(x.Address)
	assert.NoError(t, err)
	assert.Equal(t, ir.ADD, instr.Op)
	assert.Equal(t, xID, instr.A)
	assert.Equal(t, yID, instr.B)
}

func TestComputeSubstitutesUninitializedVariable(t *testing.T) {
	c := newCFG("x")
	var warning string
	x := eval.Compute(c, ir.ADD, eval.VarResult(ir.Uninitialized, "x"), eval.ConstResult(1), func(msg string) {
		warning = msg
	})
	assert.Equal(t, eval.CONST, x.Kind)
	assert.Equal(t, 1, x.Value)
	assert.NotEmpty(t, warning)
}

func TestComputeCSEHitsOnRepeatedAddition(t *testing.T) {
	c := newCFG("x")
	xID := c.AddInstructionNoCSE(ir.READ, 0, 0)

	first := eval.Compute(c, ir.ADD, eval.VarResult(xID, "x"), eval.ConstResult(1), nil)
	second := eval.Compute(c, ir.ADD, eval.VarResult(xID, "x"), eval.ConstResult(1), nil)
	assert.Equal(t, first.Address, second.Address)
}
