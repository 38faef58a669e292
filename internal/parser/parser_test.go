package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smplc/internal/ir"
	"smplc/internal/lexer"
	"smplc/internal/parser"
)

func parseProgram(t *testing.T, src string) (*parser.Parser, *ir.CFG) {
	t.Helper()
	toks, err := lexer.All("test.smpl", src)
	require.NoError(t, err)
	p := parser.New("test.smpl", toks)
	return p, p.Parse()
}

func mustFind(t *testing.T, cfg *ir.CFG, id int) *ir.Instruction {
	t.Helper()
	in, err := cfg.FindInstruction(id)
	require.NoError(t, err)
	return in
}

func findOp(t *testing.T, cfg *ir.CFG, ids []int, op ir.Op) *ir.Instruction {
	t.Helper()
	var found *ir.Instruction
	for _, id := range ids {
		in := mustFind(t, cfg, id)
		if in.Op == op {
			found = in
		}
	}
	return found
}

func countOp(t *testing.T, cfg *ir.CFG, ids []int, op ir.Op) int {
	t.Helper()
	n := 0
	for _, id := range ids {
		if mustFind(t, cfg, id).Op == op {
			n++
		}
	}
	return n
}

func TestConstantFoldingProducesNoArithmetic(t *testing.T) {
	p, cfg := parseProgram(t, `main { let x <- 2+3*4; }.`)
	require.False(t, p.Errored())

	require.Len(t, cfg.Root.Instructions, 1, "2+3*4 must fold entirely at parse time")
	folded := mustFind(t, cfg, cfg.Root.Instructions[0])
	assert.Equal(t, ir.CONST, folded.Op)
	assert.Equal(t, 14, folded.A)

	head := cfg.Root.Children[0]
	for _, op := range []ir.Op{ir.ADD, ir.SUB, ir.MUL, ir.DIV} {
		assert.Zero(t, countOp(t, cfg, head.Instructions, op))
	}
	assert.Equal(t, folded.ID, head.SymTable["x"])
}

func TestCSEHitDedupsConstantAcrossFoldedAssignments(t *testing.T) {
	// a is itself bound to a literal, so both occurrences of `a+1` fold to
	// the same compile-time constant rather than emitting a shared ADD --
	// the dedup shows up on the CONST instead.
	p, cfg := parseProgram(t, `main var a,b,c; { let a <- 1; let b <- a+1; let c <- a+1; }.`)
	require.False(t, p.Errored())

	head := cfg.Root.Children[0]
	assert.Equal(t, head.SymTable["b"], head.SymTable["c"])

	two := mustFind(t, cfg, head.SymTable["b"])
	assert.Equal(t, ir.CONST, two.Op)
	assert.Equal(t, 2, two.A)
}

func TestCSEHitReusesAddInstruction(t *testing.T) {
	// a is opaque (an InputNum result) so a+1 cannot fold away, exercising
	// the dominating-chain CSE hit on a real ADD instruction.
	p, cfg := parseProgram(t, `main var a,b,c; { let a <- call InputNum(); let b <- a+1; let c <- a+1; }.`)
	require.False(t, p.Errored())

	head := cfg.Root.Children[0]
	assert.Equal(t, 1, countOp(t, cfg, head.Instructions, ir.ADD), "second a+1 must reuse the first ADD")
	assert.Equal(t, head.SymTable["b"], head.SymTable["c"])
}

func TestIfElseInsertsPhi(t *testing.T) {
	p, cfg := parseProgram(t, `main var x; { let x <- 1; if x < 5 then let x <- 2 else let x <- 3 fi; call OutputNum(x); }.`)
	require.False(t, p.Errored())

	head := cfg.Root.Children[0]
	n := len(head.Instructions)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, ir.CMP, mustFind(t, cfg, head.Instructions[n-2]).Op)
	assert.Equal(t, ir.BGE, mustFind(t, cfg, head.Instructions[n-1]).Op)

	fall := head.Children[0]
	branch := head.Children[1]
	join := branch.Children[0]
	require.Equal(t, ir.JOIN, join.Type)

	two := mustFind(t, cfg, fall.SymTable["x"])
	assert.Equal(t, ir.CONST, two.Op)
	assert.Equal(t, 2, two.A)

	three := mustFind(t, cfg, branch.SymTable["x"])
	assert.Equal(t, ir.CONST, three.Op)
	assert.Equal(t, 3, three.A)

	phi := mustFind(t, cfg, join.SymTable["x"])
	assert.Equal(t, ir.PHI, phi.Op)
	assert.Equal(t, fall.SymTable["x"], phi.A)
	assert.Equal(t, branch.SymTable["x"], phi.B)

	write := findOp(t, cfg, join.Instructions, ir.WRITE)
	require.NotNil(t, write)
	assert.Equal(t, phi.ID, write.A)
}

func TestWhileLoopInsertsPhiAndPropagatesRename(t *testing.T) {
	p, cfg := parseProgram(t, `main var i; { let i <- 0; while i < 10 do let i <- i+1 od; }.`)
	require.False(t, p.Errored())

	head := cfg.Root.Children[0]
	join := head.Children[0]
	require.Equal(t, ir.WHILE_JOIN, join.Type)
	require.NotEmpty(t, join.Instructions)

	phi := mustFind(t, cfg, join.Instructions[0])
	assert.Equal(t, ir.PHI, phi.Op, "the phi must sit at the very front of the while-join")

	zero := mustFind(t, cfg, phi.A)
	assert.Equal(t, ir.CONST, zero.Op)
	assert.Equal(t, 0, zero.A)

	cmp := findOp(t, cfg, join.Instructions, ir.CMP)
	require.NotNil(t, cmp)
	assert.Equal(t, phi.ID, cmp.A, "the loop guard must read the phi, not the pre-loop 0")

	fall := join.Children[0]
	add := findOp(t, cfg, fall.Instructions, ir.ADD)
	require.NotNil(t, add, "i+1 must survive as a real instruction since i is loop-variant")
	assert.Equal(t, phi.ID, add.A, "rename propagation must rewrite the stale pre-loop operand")
}

func TestLoopInvariantOperandPreserved(t *testing.T) {
	p, cfg := parseProgram(t, `main var i,j; { let i <- 0; let j <- 5; while i < 10 do let i <- i+j od; }.`)
	require.False(t, p.Errored())

	head := cfg.Root.Children[0]
	join := head.Children[0]
	fall := join.Children[0]

	phi := mustFind(t, cfg, join.Instructions[0])
	require.Equal(t, ir.PHI, phi.Op)

	add := findOp(t, cfg, fall.Instructions, ir.ADD)
	require.NotNil(t, add)
	assert.Equal(t, phi.ID, add.A, "i advances to the phi")

	j := mustFind(t, cfg, add.B)
	assert.Equal(t, ir.CONST, j.Op)
	assert.Equal(t, 5, j.A, "j is loop-invariant, so its constant binding is left untouched")
}

func TestArrayKillInvalidatesCrossBranchLoad(t *testing.T) {
	p, cfg := parseProgram(t, `main var i; array[10] A; { let i <- 0; let A[i] <- 7; if i < 1 then let A[i] <- 8 else let i <- i+1 fi; let i <- A[i]; }.`)
	require.False(t, p.Errored())

	head := cfg.Root.Children[0]
	preStore := findOp(t, cfg, head.Instructions, ir.STORE)
	require.NotNil(t, preStore)
	preAdda := mustFind(t, cfg, preStore.A)

	branch := head.Children[1]
	join := branch.Children[0]
	require.Equal(t, ir.JOIN, join.Type)

	require.NotEmpty(t, join.Instructions)
	assert.Equal(t, ir.KILL, mustFind(t, cfg, join.Instructions[0]).Op, "the kill must dominate everything the join adds")

	load := findOp(t, cfg, join.Instructions, ir.LOAD)
	require.NotNil(t, load, "A[i] after the join must still be materialized")
	postAdda := mustFind(t, cfg, load.A)
	assert.Equal(t, ir.ADDA, postAdda.Op)
	assert.NotEqual(t, preAdda.ID, postAdda.ID, "the kill must force a fresh address computation, not the pre-branch one")
}

func TestUninitializedVariableSubstitutesZeroAndWarns(t *testing.T) {
	p, cfg := parseProgram(t, `main var x,y; { let y <- x+1; }.`)
	require.False(t, p.Errored())
	require.NotEmpty(t, p.Diagnostics())

	head := cfg.Root.Children[0]
	folded := mustFind(t, cfg, head.SymTable["y"])
	assert.Equal(t, ir.CONST, folded.Op)
	assert.Equal(t, 1, folded.A)
}

func TestEveryConstLiteralAppearsOnce(t *testing.T) {
	_, cfg := parseProgram(t, `main var a,b; { let a <- 5; let b <- 5; }.`)
	assert.Equal(t, 1, countOp(t, cfg, cfg.Root.Instructions, ir.CONST))
}

func TestSyntaxErrorSetsErrored(t *testing.T) {
	p, _ := parseProgram(t, `main { let 5 <- 1; }.`)
	assert.True(t, p.Errored())
	assert.NotEmpty(t, p.Diagnostics())
}
