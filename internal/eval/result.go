// Package eval implements expression evaluation for the recursive-descent
// parser: constant folding across CONST/VAR operands, on-the-fly CSE
// dispatch (AddInstruction vs AddInstructionNoCSE based on loop-variance),
// and the uninitialized-variable substitution warning.
package eval

import "smplc/internal/ir"

// Kind identifies what a Result actually holds.
type Kind int

const (
	CONST Kind = iota
	VAR
	FUNC
)

// Result is the value an expression subtree evaluates to: either a folded
// constant, the instruction id holding a runtime value, or the id of a
// function call's result.
type Result struct {
	Kind      Kind
	Value     int      // valid when Kind == CONST
	Address   int      // valid when Kind == VAR: instruction id
	Function  int      // valid when Kind == FUNC: instruction id of the call
	Variables []string // names read while producing this Result, for UsedVarTable
}

// ConstResult builds a Result holding a folded literal.
func ConstResult(value int) Result { return Result{Kind: CONST, Value: value} }

// VarResult builds a Result referring to a live instruction, recording
// which source variable it came from.
func VarResult(address int, name string) Result {
	r := Result{Kind: VAR, Address: address}
	if name != "" {
		r.Variables = []string{name}
	}
	return r
}

// Compute implements the parser's E/T dispatch: given a binary opcode and
// its two already-evaluated operands, it either folds a constant result,
// resolves an uninitialized variable to 0 (reporting warn), or emits the
// live instruction -- using AddInstructionNoCSE when any operand variable
// is currently marked variant in the current block's VarTable, since CSE
// would otherwise reuse a stale computation from before the loop iterated.
// The same variance check gates constant folding itself: a variant name
// whose binding happens to be CONST on this textual pass is still folded
// away only when no loop can later invalidate that binding.
//
// Division is integer division (Go's truncating /), a deliberate
// departure from true division: smpl has no floating-point type, so a
// division instruction's result must itself be representable as an
// operand to the next instruction.
func Compute(c *ir.CFG, op ir.Op, a, b Result, warn func(string)) Result {
	x := Result{Variables: append(append([]string{}, a.Variables...), b.Variables...)}

	switch {
	case a.Kind == CONST && b.Kind == CONST:
		x.Kind = CONST
		x.Value = fold(op, a.Value, b.Value)

	case a.Kind == VAR && b.Kind == CONST:
		a = resolveUninitialized(c, a, warn)
		instr, err := c.FindInstruction(a.Address)
		if err == nil && instr.Op == ir.CONST && !anyVariant(c, x.Variables) {
			x.Kind = CONST
			x.Value = fold(op, instr.A, b.Value)
			return x
		}
		x.Kind = VAR
		constAddr := c.AddConstInstruction(b.Value)
		x.Address = emit(c, op, a.Address, constAddr, a.Variables)

	case a.Kind == CONST && b.Kind == VAR:
		b = resolveUninitialized(c, b, warn)
		instr, err := c.FindInstruction(b.Address)
		if err == nil && instr.Op == ir.CONST && !anyVariant(c, x.Variables) {
			x.Kind = CONST
			x.Value = fold(op, a.Value, instr.A)
			return x
		}
		x.Kind = VAR
		constAddr := c.AddConstInstruction(a.Value)
		x.Address = emit(c, op, constAddr, b.Address, b.Variables)

	case a.Kind == VAR && b.Kind == VAR:
		a = resolveUninitialized(c, a, warn)
		b = resolveUninitialized(c, b, warn)
		ai, aerr := c.FindInstruction(a.Address)
		bi, berr := c.FindInstruction(b.Address)
		if aerr == nil && berr == nil && ai.Op == ir.CONST && bi.Op == ir.CONST && !anyVariant(c, x.Variables) {
			x.Kind = CONST
			x.Value = fold(op, ai.A, bi.A)
			return x
		}
		x.Kind = VAR
		x.Address = emit(c, op, a.Address, b.Address, x.Variables)
	}

	return x
}

func fold(op ir.Op, a, b int) int {
	switch op {
	case ir.ADD:
		return a + b
	case ir.SUB:
		return a - b
	case ir.MUL:
		return a * b
	case ir.DIV:
		return a / b
	default:
		return 0
	}
}

// emit chooses AddInstruction vs AddInstructionNoCSE: if any variable this
// operand read from is currently loop-variant, the emitted instruction must
// not be reused from an earlier, now-stale iteration.
func emit(c *ir.CFG, op ir.Op, a, b int, variables []string) int {
	if anyVariant(c, variables) {
		return c.AddInstructionNoCSE(op, a, b)
	}
	return c.AddInstruction(op, a, b)
}

// anyVariant reports whether any of the given names is marked variant in
// the current block. A variable's current binding may happen to resolve to
// a CONST instruction while still being loop-variant (its value is only
// constant on this textual pass, not across iterations) -- folding it away
// here would erase the reference rename propagation later needs to rewrite.
func anyVariant(c *ir.CFG, variables []string) bool {
	for _, v := range variables {
		if c.Current.VarTable[v] == 1 {
			return true
		}
	}
	return false
}

// resolveUninitialized substitutes CONST 0 for a VAR result whose address
// is the symbol table's "uninitialized" sentinel, reporting a warning.
func resolveUninitialized(c *ir.CFG, r Result, warn func(string)) Result {
	if r.Address != ir.Uninitialized {
		return r
	}
	zero := c.AddConstInstruction(0)
	if warn != nil {
		warn("use of uninitialized variable, substituting 0")
	}
	r.Address = zero
	return r
}
