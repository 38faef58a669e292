package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"smplc/internal/ir"
)

func TestAddConstInstructionDeduplicates(t *testing.T) {
	c := ir.NewCFG()
	c.Create()

	a := c.AddConstInstruction(4)
	b := c.AddConstInstruction(4)
	assert.Equal(t, a, b)

	d := c.AddConstInstruction(5)
	assert.NotEqual(t, a, d)
}

func TestAddInstructionCSEHit(t *testing.T) {
	c := ir.NewCFG()
	c.Create()

	x := c.AddInstructionNoCSE(ir.READ, 0, 0)
	y := c.AddInstructionNoCSE(ir.READ, 0, 0)

	first := c.AddInstruction(ir.ADD, x, y)
	second := c.AddInstruction(ir.ADD, x, y)
	assert.Equal(t, first, second, "identical ADD operands should hit the dominating chain")
}

func TestKillInvalidatesDominatingChain(t *testing.T) {
	c := ir.NewCFG()
	c.Create()

	adda := c.AddInstruction(ir.ADDA, 1, 2)
	assert.Equal(t, 0, c.FindDomInstruction(ir.ADDA, 3, 4), "different operands should miss regardless")

	hit := c.FindDomInstruction(ir.ADDA, 1, 2)
	assert.Equal(t, adda, hit)

	c.AddKillInstruction(1)
	assert.Equal(t, 0, c.FindDomInstruction(ir.ADDA, 1, 2), "a kill in front of the chain must invalidate the lookup")
}

func TestAddIfBranchWiresFallAndJoin(t *testing.T) {
	c := ir.NewCFG()
	c.Create()
	head := c.Current

	fall, join := c.AddIfBranch(head)

	assert.Same(t, fall, head.Children[0])
	assert.Same(t, join, head.Children[1])
	assert.Same(t, head, fall.Parents[0])
	assert.Same(t, join, fall.Children[0])
	assert.Same(t, fall, join.Parents[0])
	assert.Same(t, head, join.Parents[1])
	assert.Equal(t, ir.FALL, fall.Type)
	assert.Equal(t, ir.JOIN, join.Type)
	assert.Len(t, c.OpenJoins(), 1)
	assert.Same(t, join, c.OpenJoins()[0])
}

func TestAddWhileBranchWiresBackEdge(t *testing.T) {
	c := ir.NewCFG()
	c.Create()
	head := c.Current

	join, fall, follow := c.AddWhileBranch(head)

	assert.Same(t, join, head.Children[0])
	assert.Same(t, fall, join.Children[0])
	assert.Same(t, follow, join.Children[1])
	assert.Same(t, join, fall.Children[0], "fall must loop back to join")
	assert.Same(t, head, join.Parents[0])
	assert.Same(t, fall, join.Parents[1])
	assert.Equal(t, ir.WHILE_JOIN, join.Type)
}

func TestChangeSymbolReinstatesInvariantCopy(t *testing.T) {
	c := ir.NewCFG()
	c.Vars = []string{"i", "s"}
	c.Create()

	invariant := c.AddInstructionNoCSE(ir.CONST, 10, 0)
	variant := c.AddInstructionNoCSE(ir.ADD, invariant, invariant)

	block := c.Current
	block.SymTable["s"] = variant
	block.VarTable["i"] = 0 // i is invariant in this loop
	block.UsedVarTable["s"] = []string{"i"}

	instr, err := c.FindInstruction(variant)
	assert.NoError(t, err)

	added := c.ChangeSymbol(instr, block, invariant, 999)
	assert.True(t, added, "an invariant-using instruction must get a reinstated copy")
	assert.NotEqual(t, variant, block.SymTable["s"], "s should now point at the new copy")
}

func TestWalkVisitsWhileJoinExactlyOnce(t *testing.T) {
	c := ir.NewCFG()
	c.Create()
	head := c.Current
	join, _, _ := c.AddWhileBranch(head)

	counts := map[int]int{}
	c.Walk(func(b *ir.Block) bool {
		counts[b.ID]++
		return true
	})

	assert.Equal(t, 1, counts[join.ID], "while-join is reachable from both head and fall but must be visited once")
}
