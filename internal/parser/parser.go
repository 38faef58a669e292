// Package parser implements the recursive-descent front end: it consumes a
// token.Token stream and drives internal/ir.CFG and internal/eval.Compute to
// build the SSA block tree for a complete smpl program. There is no
// backtracking beyond the one-token lookahead (check/peek) the helpers
// below provide, and no error recovery -- a syntax or semantic error sets
// a sticky flag, after which Statement parses no further statements. The
// production already in progress and Parse's closing checks still run to
// their end, and each check that fails there records its own diagnostic.
package parser

import (
	"fmt"
	"strconv"

	"smplc/internal/diag"
	"smplc/internal/eval"
	"smplc/internal/ir"
	"smplc/token"
)

// baseSentinel stands in for the array base pointer ("#BASE" in the
// original front end): a symbolic operand that a code generator would
// eventually resolve to a real address, never itself materialized as a
// CONST. Array base addresses and -1/uninitialized/array markers are small
// negative integers, and source literals are never negative (the grammar
// has no unary minus), so this is a collision-free synthetic namespace.
const baseSentinel = -1

// arrayAddress is the synthetic CONST value standing in for "<name>_adr".
// Only one array declaration is allowed per program (see Parse), so a
// single fixed value is enough -- no per-name allocation is needed.
const arrayAddress = -2

// Parser holds the token cursor and the CFG being built.
type Parser struct {
	filename string
	tokens   []token.Token
	current  int

	cfg *ir.CFG

	arrayName string
	hasArray  bool

	errored     bool
	diagnostics []diag.Diagnostic
}

// New builds a Parser over a complete, EOF-terminated token stream.
func New(filename string, tokens []token.Token) *Parser {
	return &Parser{
		filename: filename,
		tokens:   tokens,
		cfg:      ir.NewCFG(),
	}
}

// CFG returns the block tree built so far (valid even after an error, per
// the "no recovery" failure semantics -- partial output stays inspectable).
func (p *Parser) CFG() *ir.CFG { return p.cfg }

// Errored reports whether a syntax or semantic error was recorded.
func (p *Parser) Errored() bool { return p.errored }

// Diagnostics returns every diagnostic collected during parsing, in order.
func (p *Parser) Diagnostics() []diag.Diagnostic { return p.diagnostics }

// Parse consumes the entire program and returns the finished CFG.
func (p *Parser) Parse() *ir.CFG {
	p.consume(token.MAIN, "expected 'main' to start the program")

	if p.check(token.VAR) {
		p.advance()
		for !p.errored {
			name := p.consume(token.IDENT, "expected identifier in variable declaration")
			p.cfg.Vars = append(p.cfg.Vars, name.Literal)
			if p.match(token.COMMA) {
				continue
			}
			p.consume(token.SEMI, "expected ';' after variable declaration")
			break
		}
	}

	if !p.errored && p.check(token.ARRAY) {
		p.advance()
		p.consume(token.LBRACKET, "expected '[' after 'array'")
		p.consume(token.INT, "array needs an initial size")
		p.consume(token.RBRACKET, "expected ']' after array size")
		name := p.consume(token.IDENT, "array has no name")
		if !p.errored {
			p.hasArray = true
			p.arrayName = name.Literal
			p.cfg.Vars = append(p.cfg.Vars, p.arrayName)
		}
		p.consume(token.SEMI, "expected ';' after array declaration")
	}

	p.cfg.Create()
	for _, v := range p.cfg.Vars {
		p.cfg.AddSymbol(v, ir.Uninitialized)
	}
	if p.hasArray {
		p.cfg.AddSymbol(p.arrayName, ir.ArraySymbol)
		p.cfg.AddConstInstruction(4)
		p.cfg.AddConstInstruction(arrayAddress)
	}

	p.consume(token.LBRACE, "expected '{'")
	p.Statement()
	p.consume(token.RBRACE, "expected '}'")
	p.consume(token.PERIOD, "expected '.' to end the program")
	p.cfg.AddEndInstruction()

	return p.cfg
}

// Statement parses zero or more statements up to (but not including) the
// closing '}', 'else', 'fi' or 'od' that ends the enclosing block.
func (p *Parser) Statement() {
	for !p.errored && !p.check(token.RBRACE) {
		for p.check(token.SEMI) {
			p.advance()
		}
		switch {
		case p.check(token.RBRACE):
			return
		case p.check(token.LET):
			p.Assignment()
		case p.check(token.CALL):
			p.Function()
		case p.check(token.IF):
			p.If()
		case p.check(token.WHILE):
			p.While()
		case p.check(token.ELSE), p.check(token.FI), p.check(token.OD):
			return
		default:
			p.errorAt(diag.Syntax, fmt.Sprintf("unexpected token %q at start of statement", p.peek().Literal))
			return
		}
	}
}

// E parses an additive expression: T ((+|-) T)*.
func (p *Parser) E() eval.Result {
	x := p.T()
	for p.check(token.PLUS) || p.check(token.MINUS) {
		op := ir.ADD
		if p.check(token.MINUS) {
			op = ir.SUB
		}
		p.advance()
		y := p.T()
		x = eval.Compute(p.cfg, op, x, y, p.warn)
	}
	return x
}

// T parses a multiplicative term: F ((*|/) F)*.
func (p *Parser) T() eval.Result {
	x := p.F()
	for p.check(token.TIMES) || p.check(token.DIV) {
		op := ir.MUL
		if p.check(token.DIV) {
			op = ir.DIV
		}
		p.advance()
		y := p.F()
		x = eval.Compute(p.cfg, op, x, y, p.warn)
	}
	return x
}

// F parses a factor: a parenthesized expression, a literal, a call, an
// array subscript, or a plain variable reference.
func (p *Parser) F() eval.Result {
	switch {
	case p.check(token.LPAREN):
		p.advance()
		x := p.E()
		p.consume(token.RPAREN, "expected ')' to close expression")
		return x

	case p.check(token.INT):
		tok := p.advance()
		v, _ := strconv.Atoi(tok.Literal)
		return eval.ConstResult(v)

	case p.check(token.CALL):
		addr := p.Function()
		return eval.Result{Kind: eval.FUNC, Function: addr}

	case p.check(token.IDENT):
		name := p.peek().Literal
		if p.cfg.Lookup(name) == ir.ArraySymbol {
			p.advance()
			p.consume(token.LBRACKET, "expected '[' after array name")
			index, ok := p.arrayIndex()
			p.consume(token.RBRACKET, "expected ']' after array index")
			if !ok {
				return eval.Result{}
			}
			return eval.VarResult(p.Load(name, index), "")
		}
		p.advance()
		return eval.VarResult(p.cfg.Lookup(name), name)

	default:
		p.errorAt(diag.Syntax, fmt.Sprintf("unexpected token %q in expression", p.peek().Literal))
		return eval.Result{}
	}
}

// arrayIndex parses a subscript, restricted to a bare identifier or a
// number literal: an arbitrary expression would let one array access
// dominate another through an index whose value the dominating-chain CSE
// can't reason about.
func (p *Parser) arrayIndex() (int, bool) {
	switch {
	case p.check(token.IDENT):
		return p.cfg.Lookup(p.advance().Literal), true
	case p.check(token.INT):
		tok := p.advance()
		v, _ := strconv.Atoi(tok.Literal)
		return p.cfg.AddConstInstruction(v), true
	default:
		p.errorAt(diag.Syntax, "array subscript must be an identifier or a number literal")
		return 0, false
	}
}

// Assignment parses `let designator <- expr`.
func (p *Parser) Assignment() {
	p.consume(token.LET, "expected 'let'")
	if !p.check(token.IDENT) {
		p.errorAt(diag.Syntax, "let needs a designator")
		return
	}
	name := p.advance().Literal
	if p.inWhileBody() {
		p.cfg.Current.VarTable[name] = 1
	}

	index := 0
	if p.check(token.LBRACKET) {
		p.advance()
		idx, ok := p.arrayIndex()
		index = idx
		p.consume(token.RBRACKET, "expected ']' after array index")
		if !ok {
			return
		}
	}
	p.consume(token.BECOMES, "expected '<-' in assignment")
	y := p.E()
	p.cfg.Current.UsedVarTable[name] = append([]string{}, y.Variables...)

	switch y.Kind {
	case eval.CONST:
		id := p.cfg.AddConstInstruction(y.Value)
		if p.cfg.Lookup(name) == ir.ArraySymbol {
			p.Store(name, index, id)
		} else {
			p.cfg.AddSymbol(name, id)
		}
		if len(p.cfg.OpenJoins()) > 0 {
			p.Phi(name)
		}
	case eval.VAR:
		if p.cfg.Lookup(name) == ir.ArraySymbol {
			p.Store(name, index, y.Address)
		} else {
			p.cfg.AddSymbol(name, y.Address)
		}
		if len(p.cfg.OpenJoins()) > 0 {
			p.Phi(name)
		}
	case eval.FUNC:
		p.cfg.AddSymbol(name, y.Function)
		if len(p.cfg.OpenJoins()) > 0 {
			p.Phi(name)
		}
	}
}

// inWhileBody reports whether parsing is currently nested inside at least
// one while loop's body, per open join type -- an if/else alone never makes
// an assignment variant.
func (p *Parser) inWhileBody() bool {
	for _, j := range p.cfg.OpenJoins() {
		if j.Type == ir.WHILE_JOIN {
			return true
		}
	}
	return false
}

// Phi is the rename-propagation entry point, invoked once per assignment
// while at least one join is open. It dispatches on what kind of join sits
// innermost: array writes invalidate via KILL, while-loops get rename
// propagation across the loop body, if/else joins get a two-operand phi.
func (p *Parser) Phi(name string) {
	if len(p.cfg.OpenJoins()) == 0 {
		return
	}
	origBlock := p.cfg.Current
	join := p.cfg.OpenJoins()[0]
	newValue := origBlock.SymTable[name]
	p.cfg.SetCurrent(join)

	switch {
	case newValue == ir.ArraySymbol:
		p.phiArray(join)
	case join.Type == ir.WHILE_JOIN:
		p.phiWhile(join, origBlock, name, newValue)
	default:
		p.phiIf(join, name, newValue, origBlock)
	}

	p.cfg.SetCurrent(origBlock)
}

// phiArray invalidates the join's LOAD/STORE dominating chain for the
// array and reissues any already-emitted instruction that consumed a now
// stale load or store.
func (p *Parser) phiArray(join *ir.Block) {
	p.cfg.AddKillInstruction(arrayAddress)

	ids := append([]int{}, join.Instructions...)
	for _, id := range ids {
		instr, err := p.cfg.FindInstruction(id)
		if err != nil {
			continue
		}
		instr.A = p.reissueStaleOperand(instr.A, join, id)
		instr.B = p.reissueStaleOperand(instr.B, join, id)
	}
}

func (p *Parser) reissueStaleOperand(operand int, join *ir.Block, consumer int) int {
	ref, err := p.cfg.FindInstruction(operand)
	if err != nil {
		return operand
	}
	idx := indexOfInstruction(join, consumer)
	if idx < 0 {
		return operand
	}
	switch ref.Op {
	case ir.LOAD:
		return p.RebuildLoad(operand, join, idx)
	case ir.STORE:
		return p.RebuildStore(operand, join, idx)
	default:
		return operand
	}
}

func indexOfInstruction(b *ir.Block, id int) int {
	for i, v := range b.Instructions {
		if v == id {
			return i
		}
	}
	return -1
}

// phiWhile implements the while-loop case: insert a phi at the join's
// current cursor, rewrite every use of the pre-loop binding within the
// loop body to the phi result, and propagate that rewrite outward to any
// enclosing open join whose phi for the same name still has the pre-loop
// binding as its second operand.
func (p *Parser) phiWhile(join, origBlock *ir.Block, name string, newValue int) {
	if join.SymTable[name] == origBlock.SymTable[name] {
		return
	}
	if join.SymTable[name] == ir.Uninitialized {
		return
	}
	origValue := join.SymTable[name]

	var phiInstr int
	if join.WhilePhiIdx == 0 {
		phiInstr = p.cfg.InsertPhiAtFront(origValue, newValue)
	} else {
		phiInstr = p.cfg.InsertPhiAtIndex(origValue, newValue, join.WhilePhiIdx)
	}
	join.WhilePhiIdx++

	p.cfg.AddSymbol(name, phiInstr)
	p.cfg.ChangeAllSymbols(join, origValue, phiInstr)

	for _, outer := range p.cfg.OpenJoins() {
		if outer.ID == join.ID {
			continue
		}
		if outer.SymTable[name] == ir.Uninitialized {
			continue
		}
		mapped, err := p.cfg.FindInstruction(outer.SymTable[name])
		if err != nil || mapped.Op != ir.PHI || mapped.B != origValue {
			continue
		}
		mapped.B = phiInstr
		p.cfg.ChangeAllSymbols(outer, mapped.ID, phiInstr)
	}
}

// phiIf implements the if/else case for the innermost open join: a local
// (still-uninitialized-in-the-join) name gets no phi, a name already bound
// to a phi just gets its second operand updated, and anything else gets a
// fresh two-operand phi.
func (p *Parser) phiIf(join *ir.Block, name string, newValue int, origBlock *ir.Block) {
	if join.SymTable[name] == origBlock.SymTable[name] {
		return
	}
	if join.SymTable[name] == ir.Uninitialized {
		return
	}
	if existing, err := p.cfg.FindInstruction(join.SymTable[name]); err == nil && existing.Op == ir.PHI {
		existing.B = newValue
		return
	}
	origValue := join.SymTable[name]
	phiInstr := p.cfg.AddPhiInstruction(newValue, origValue)
	p.cfg.AddSymbol(name, phiInstr)
}

// Function parses `call name(args?)`, the only three recognized built-ins.
func (p *Parser) Function() int {
	p.consume(token.CALL, "expected 'call'")
	switch p.peek().Type {
	case token.IDENT, token.INPUTNUM, token.OUTPUTNUM, token.OUTPUTNEWLINE:
	default:
		p.errorAt(diag.Syntax, "expected a function name after 'call'")
		return 0
	}
	name := p.advance()
	p.consume(token.LPAREN, "expected '(' after function name")

	id := 0
	switch name.Type {
	case token.INPUTNUM:
		id = p.cfg.AddReadInstruction()
	case token.OUTPUTNUM:
		var arg eval.Result
		if !p.check(token.RPAREN) {
			arg = p.E()
		}
		if arg.Kind == eval.CONST {
			id = p.cfg.AddWriteInstruction(p.cfg.AddConstInstruction(arg.Value))
		} else {
			id = p.cfg.AddWriteInstruction(arg.Address)
		}
	case token.OUTPUTNEWLINE:
		id = p.cfg.AddWriteNLInstruction()
	default:
		p.errorAt(diag.Semantic, fmt.Sprintf("unknown built-in function %q", name.Literal))
	}
	p.consume(token.RPAREN, "expected ')' after function arguments")
	return id
}

// materialize turns an already-evaluated Result into an operand id,
// creating the backing CONST if needed.
func (p *Parser) materialize(r eval.Result) int {
	if r.Kind == eval.CONST {
		return p.cfg.AddConstInstruction(r.Value)
	}
	return r.Address
}

// relOp consumes the current token as a relational operator, reporting the
// branch opcode that fires when the comparison is false.
func (p *Parser) relOp() ir.Op {
	op, ok := ir.OppositeBranch(string(p.peek().Type))
	if !ok {
		p.errorAt(diag.Syntax, fmt.Sprintf("expected a relational operator, got %q", p.peek().Literal))
	}
	p.advance()
	return op
}

// If parses `if expr relOp expr then stmts [else stmts] fi ;`.
func (p *Parser) If() {
	p.consume(token.IF, "expected 'if'")
	a := p.E()
	op := p.relOp()
	b := p.E()
	cmpID := p.cfg.AddInstruction(ir.CMP, p.materialize(a), p.materialize(b))
	p.consume(token.THEN, "expected 'then'")
	relOpID := p.cfg.AddInstruction(op, cmpID, 0)

	oldBlock := p.cfg.Current
	fall, join := p.cfg.AddIfBranch(p.cfg.Current)
	branch := join

	p.cfg.SetCurrent(fall)
	p.Statement()
	braID := p.cfg.AddInstruction(ir.BRA, 0, 0)

	if p.check(token.ELSE) {
		branch = p.cfg.AddElseBranch(oldBlock, fall, p.cfg.Current, p.cfg.OpenJoins()[0])
		p.advance()
		p.cfg.SetCurrent(branch)
		p.Statement()
		if len(branch.Instructions) == 0 {
			p.cfg.AddEmptyInstruction()
		}
	}

	if p.check(token.FI) {
		if len(branch.Instructions) == 0 {
			p.cfg.SetCurrent(branch)
			p.cfg.AddEmptyInstruction()
		}
		p.advance()
		p.consume(token.SEMI, "expected ';' after 'fi'")
	} else {
		p.errorAt(diag.Syntax, "expected 'fi' to close if statement")
	}

	p.cfg.SetCurrent(join)
	if len(join.Instructions) == 0 {
		p.cfg.WaitOn(join, braID, 0)
	} else if braInstr, err := p.cfg.FindInstruction(braID); err == nil {
		braInstr.A = join.Instructions[0]
	}
	if relOpInstr, err := p.cfg.FindInstruction(relOpID); err == nil && len(branch.Instructions) > 0 {
		relOpInstr.B = branch.Instructions[0]
	}
	p.cfg.PopJoin()
}

// While parses `while expr relOp expr do stmts od ;`.
func (p *Parser) While() {
	p.consume(token.WHILE, "expected 'while'")
	a := p.E()
	op := p.relOp()
	b := p.E()
	idA, idB := p.materialize(a), p.materialize(b)
	p.consume(token.DO, "expected 'do'")

	join, fall, follow := p.cfg.AddWhileBranch(p.cfg.Current)

	p.cfg.SetCurrent(join)
	cmpID := p.cfg.AddInstruction(ir.CMP, idA, idB)
	relOpID := p.cfg.AddInstruction(op, cmpID, 0)

	p.cfg.SetCurrent(fall)
	p.Statement()

	if p.check(token.OD) {
		p.advance()
		p.consume(token.SEMI, "expected ';' after 'od'")
		p.cfg.AddInstruction(ir.BRA, join.Instructions[0], 0)
	} else {
		p.errorAt(diag.Syntax, "expected 'od' to close while loop")
	}

	p.cfg.SetCurrent(follow)
	p.cfg.WaitOn(follow, relOpID, 1)
	for name, id := range join.SymTable {
		follow.SymTable[name] = id
	}

	p.cfg.PopJoin()
}

// elemSize is the shared #4 element-size constant every array index
// computation multiplies by.
func (p *Parser) elemSize() int { return p.cfg.AddConstInstruction(4) }

// mulIndex computes index*#4, reusing a dominating instance if one exists.
func (p *Parser) mulIndex(index int) int {
	elem := p.elemSize()
	if mul := p.cfg.FindDomInstruction(ir.MUL, index, elem); mul != 0 {
		return mul
	}
	return p.cfg.AddInstruction(ir.MUL, index, elem)
}

// baseSum computes #BASE+<arr>_adr, reusing a dominating instance if one
// exists.
func (p *Parser) baseSum() int {
	adr := p.cfg.AddConstInstruction(arrayAddress)
	if add := p.cfg.FindDomInstruction(ir.ADD, baseSentinel, adr); add != 0 {
		return add
	}
	return p.cfg.AddInstruction(ir.ADD, baseSentinel, adr)
}

// Store emits arr[index] <- val via the MUL/ADD/ADDA/STORE idiom, reusing
// the ADDA if one already dominates and only emitting a new STORE when the
// stored value actually differs from the last one.
func (p *Parser) Store(arr string, index, val int) int {
	mul := p.mulIndex(index)
	add := p.baseSum()
	adda := p.cfg.FindDomInstruction(ir.ADDA, mul, add)
	if adda == 0 {
		adda = p.cfg.AddInstruction(ir.ADDA, mul, add)
		return p.cfg.AddInstruction(ir.STORE, adda, val)
	}
	storeID, err := p.cfg.FindLoadOrStoreInstruction(adda)
	if err != nil {
		return p.cfg.AddInstruction(ir.STORE, adda, val)
	}
	storeInstr, err := p.cfg.FindInstruction(storeID)
	if err != nil || storeInstr.B != val {
		return p.cfg.AddInstruction(ir.STORE, adda, val)
	}
	return storeID
}

// Load emits arr[index] via the MUL/ADD/ADDA/LOAD idiom, reusing the ADDA
// and the LOAD itself whenever both already dominate.
func (p *Parser) Load(arr string, index int) int {
	mul := p.mulIndex(index)
	add := p.baseSum()
	adda := p.cfg.FindDomInstruction(ir.ADDA, mul, add)
	if adda == 0 {
		adda = p.cfg.AddInstruction(ir.ADDA, mul, add)
		return p.cfg.AddInstruction(ir.LOAD, adda, 0)
	}
	loadID, err := p.cfg.FindLoadOrStoreInstruction(adda)
	if err != nil {
		return p.cfg.AddInstruction(ir.LOAD, adda, 0)
	}
	return loadID
}

// RebuildStore re-synthesizes a MUL/ADD/ADDA/STORE quadruple at idx in
// block, bypassing CSE -- used after a KILL invalidates the original.
func (p *Parser) RebuildStore(oldStore int, block *ir.Block, idx int) int {
	storeCmd, err := p.cfg.FindInstruction(oldStore)
	if err != nil {
		return oldStore
	}
	adda, err := p.cfg.FindInstruction(storeCmd.A)
	if err != nil {
		return oldStore
	}
	mul, err := p.cfg.FindInstruction(adda.A)
	if err != nil {
		return oldStore
	}
	add, err := p.cfg.FindInstruction(adda.B)
	if err != nil {
		return oldStore
	}
	val := storeCmd.B

	orig := p.cfg.Current
	p.cfg.SetCurrent(block)
	newMul := p.cfg.AddInstructionAtIndex(idx, ir.MUL, mul.A, mul.B)
	newAdd := p.cfg.AddInstructionAtIndex(idx+1, ir.ADD, baseSentinel, add.B)
	newAdda := p.cfg.AddInstructionAtIndex(idx+2, ir.ADDA, newMul, newAdd)
	newStore := p.cfg.AddInstructionAtIndex(idx+3, ir.STORE, newAdda, val)
	p.cfg.SetCurrent(orig)
	return newStore
}

// RebuildLoad re-synthesizes a MUL/ADD/ADDA/LOAD quadruple at idx in block,
// bypassing CSE -- used after a KILL invalidates the original.
func (p *Parser) RebuildLoad(oldLoad int, block *ir.Block, idx int) int {
	loadCmd, err := p.cfg.FindInstruction(oldLoad)
	if err != nil {
		return oldLoad
	}
	adda, err := p.cfg.FindInstruction(loadCmd.A)
	if err != nil {
		return oldLoad
	}
	mul, err := p.cfg.FindInstruction(adda.A)
	if err != nil {
		return oldLoad
	}
	add, err := p.cfg.FindInstruction(adda.B)
	if err != nil {
		return oldLoad
	}

	orig := p.cfg.Current
	p.cfg.SetCurrent(block)
	newMul := p.cfg.AddInstructionAtIndex(idx, ir.MUL, mul.A, mul.B)
	newAdd := p.cfg.AddInstructionAtIndex(idx+1, ir.ADD, baseSentinel, add.B)
	newAdda := p.cfg.AddInstructionAtIndex(idx+2, ir.ADDA, newMul, newAdd)
	newLoad := p.cfg.AddInstructionAtIndex(idx+3, ir.LOAD, newAdda, 0)
	p.cfg.SetCurrent(orig)
	return newLoad
}

func (p *Parser) warn(msg string) {
	p.diagnostics = append(p.diagnostics, diag.Diagnostic{Kind: diag.Warning, Message: msg, Pos: p.peek().Pos})
}

func (p *Parser) errorAt(kind diag.Kind, msg string) {
	p.errored = true
	p.diagnostics = append(p.diagnostics, diag.Diagnostic{Kind: kind, Message: msg, Pos: p.peek().Pos})
}
