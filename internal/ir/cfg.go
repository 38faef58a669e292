// Package ir implements the SSA intermediate representation: an
// append-only Instruction Pool and the Block Tree (CFG) that threads
// instructions into basic blocks, performs on-the-fly common-subexpression
// elimination via per-block dominating-instruction chains, and carries the
// rename-propagation machinery phi insertion needs.
package ir

import "github.com/pkg/errors"

// CFG is the Block Tree: the global instruction Pool, the id allocator for
// blocks, the program's declared variable names, and the stack of open
// join blocks (innermost branch first) that Phi insertion consults.
type CFG struct {
	Pool    *Pool
	Vars    []string
	Root    *Block
	Current *Block

	nextBlockID int
	joinBlocks  []*Block // stack, index 0 = innermost open join
}

// NewCFG returns an empty CFG over a fresh instruction Pool.
func NewCFG() *CFG {
	return &CFG{Pool: NewPool()}
}

// Create allocates the root block (holds only CONSTs) and the first real
// block beneath it, and makes the latter current.
func (c *CFG) Create() {
	c.Root = c.addRoot()
	c.Current = c.addBlock(c.Root)
}

func (c *CFG) allocBlock() *Block {
	b := newBlock(c.nextBlockID)
	c.nextBlockID++
	return b
}

func (c *CFG) addRoot() *Block {
	b := c.allocBlock()
	for _, op := range []Op{CONST, ADD, SUB, MUL, DIV, CMP, LOAD} {
		b.domInstructions[op] = nil
	}
	resetVariance(b, c.Vars)
	c.Current = b
	return b
}

func (c *CFG) addBlock(parent *Block) *Block {
	b := c.allocBlock()
	parent.Children[0] = b
	b.Parents[0] = parent
	b.SymTable = cloneSymTable(parent.SymTable)
	b.domInstructions = cloneDomInstructions(parent.domInstructions)
	b.DomBlock = parent
	resetVariance(b, c.Vars)
	c.Current = b
	return b
}

// SetCurrent switches the block new instructions are emitted into.
func (c *CFG) SetCurrent(b *Block) { c.Current = b }

// Lookup returns the instruction id bound to var in the current block's
// symbol table.
func (c *CFG) Lookup(name string) int { return c.Current.SymTable[name] }

// AddSymbol binds name to id in the current block's symbol table.
func (c *CFG) AddSymbol(name string, id int) { c.Current.SymTable[name] = id }

// FindInstruction resolves an instruction id to its pool entry.
func (c *CFG) FindInstruction(id int) (*Instruction, error) { return c.Pool.Find(id) }

// FindDomInstruction walks the current block's dominating chain for op,
// looking for a prior instruction with identical operands. A KILL
// encountered first invalidates the chain for that search (the array it
// guards may have changed), so the search stops and reports no match.
func (c *CFG) FindDomInstruction(op Op, a, b int) int {
	if !isDomTracked(op) {
		return 0
	}
	for _, id := range c.Current.domInstructions[domChain(op)] {
		instr, err := c.FindInstruction(id)
		if err != nil {
			continue
		}
		if instr.Op == KILL {
			return 0
		}
		if instr.Op == op && instr.A == a && instr.B == b {
			return instr.ID
		}
	}
	return 0
}

// FindLoadOrStoreInstruction returns the LOAD or STORE that immediately
// follows an ADDA in the global pool -- the two are always emitted back to
// back, so this is a cheap way to recover "the load/store that already
// reads this address" once the ADDA itself hits in FindDomInstruction.
func (c *CFG) FindLoadOrStoreInstruction(adda int) (int, error) {
	in, err := c.FindInstruction(adda)
	if err != nil {
		return 0, err
	}
	if in.next == nil {
		return 0, errors.Errorf("ir: adda %d has no following load/store", adda)
	}
	return in.next.ID, nil
}

func (c *CFG) insert(b *Block, id int) {
	instr, err := c.FindInstruction(id)
	if err != nil {
		return
	}
	if isDomTracked(instr.Op) {
		key := domChain(instr.Op)
		b.domInstructions[key] = append([]int{id}, b.domInstructions[key]...)
	}
	if b.waitingOn.InstrID > 0 {
		c.linkBlock(id, b)
	}
}

// InsertInstruction appends id to block's instruction list, updates its
// dominating chain if the opcode is CSE-tracked, and resolves any pending
// forward-branch backpatch waiting on block's first instruction.
func (c *CFG) InsertInstruction(b *Block, id int) {
	b.appendInstruction(id)
	c.insert(b, id)
}

// InsertInstructionAtFront is InsertInstruction but at index 0 -- used for
// KILLs (must dominate everything after them) and the first phi inserted
// into a while-loop's join block.
func (c *CFG) InsertInstructionAtFront(b *Block, id int) {
	b.prependInstruction(id)
	c.insert(b, id)
}

// InsertInstructionAtIndex inserts id at a specific position, used by
// RebuildLoad/RebuildStore to re-synthesize a MUL/ADD/ADDA/LOAD|STORE
// quadruple at the point a KILL invalidated the old one, and by
// InsertPhiAtIndex to keep a while-join's phis contiguous. Unlike the other
// two inserts, this never resolves a waiting_on backpatch -- both callers
// insert into blocks that already hold instructions.
func (c *CFG) InsertInstructionAtIndex(b *Block, id, idx int) {
	b.insertInstructionAt(id, idx)
	instr, err := c.FindInstruction(id)
	if err != nil {
		return
	}
	if isDomTracked(instr.Op) {
		key := domChain(instr.Op)
		b.domInstructions[key] = append([]int{id}, b.domInstructions[key]...)
	}
}

func (c *CFG) linkBlock(id int, b *Block) {
	instr, err := c.FindInstruction(b.waitingOn.InstrID)
	if err != nil {
		return
	}
	if b.waitingOn.Slot == 0 {
		instr.A = id
	} else {
		instr.B = id
	}
	b.waitingOn = waiting{}
}

// WaitOn records that block's pending instruction slot should be linked to
// this block's first emitted instruction id, once known.
func (c *CFG) WaitOn(b *Block, instrID, slot int) { b.waitingOn = waiting{InstrID: instrID, Slot: slot} }

// AddConstInstruction returns the id of the CONST instruction holding
// value, creating and inserting it into the root block if this is the
// first use of that literal.
func (c *CFG) AddConstInstruction(value int) int {
	if id := c.FindConst(value); id != 0 {
		return id
	}
	in := c.Pool.Add(CONST, value, 0)
	c.InsertInstruction(c.Root, in.ID)
	return in.ID
}

// FindConst looks for an existing CONST(value) in the root block.
func (c *CFG) FindConst(value int) int {
	for _, id := range c.Root.Instructions {
		instr, err := c.FindInstruction(id)
		if err == nil && instr.Op == CONST && instr.A == value {
			return id
		}
	}
	return 0
}

// AddInstruction emits op(a, b) into the current block, reusing a prior
// dominating instruction with identical operands if one exists.
func (c *CFG) AddInstruction(op Op, a, b int) int {
	if id := c.FindDomInstruction(op, a, b); id != 0 {
		return id
	}
	in := c.Pool.Add(op, a, b)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

// AddInstructionNoCSE always emits a fresh instruction, bypassing the
// dominating-chain lookup -- used when an operand is loop-variant and
// reusing an earlier computation would be unsound.
func (c *CFG) AddInstructionNoCSE(op Op, a, b int) int {
	in := c.Pool.Add(op, a, b)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

// AddInstructionAtIndex emits a fresh instruction at a specific position in
// the current block, used by the quadruple-rebuild helpers.
func (c *CFG) AddInstructionAtIndex(index int, op Op, a, b int) int {
	in := c.Pool.Add(op, a, b)
	c.InsertInstructionAtIndex(c.Current, in.ID, index)
	return in.ID
}

func (c *CFG) AddReadInstruction() int {
	in := c.Pool.Add(READ, 0, 0)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

func (c *CFG) AddEndInstruction() int {
	in := c.Pool.Add(END, 0, 0)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

func (c *CFG) AddWriteInstruction(output int) int {
	in := c.Pool.Add(WRITE, output, 0)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

func (c *CFG) AddWriteNLInstruction() int {
	in := c.Pool.Add(WRITENL, 0, 0)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

func (c *CFG) AddPhiInstruction(a, b int) int {
	in := c.Pool.Add(PHI, a, b)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

// InsertPhiAtFront inserts a new phi(a, b) at the front of the current
// block's instruction list -- the first phi inserted into a while-loop's
// join block.
func (c *CFG) InsertPhiAtFront(a, b int) int {
	in := c.Pool.Add(PHI, a, b)
	c.InsertInstructionAtFront(c.Current, in.ID)
	return in.ID
}

// InsertPhiAtIndex inserts a new phi(a, b) at a specific index -- every
// phi after the first one inserted into a while-loop's join block, so that
// phis stay contiguous at the front.
func (c *CFG) InsertPhiAtIndex(a, b, idx int) int {
	in := c.Pool.Add(PHI, a, b)
	c.InsertInstructionAtIndex(c.Current, in.ID, idx)
	return in.ID
}

func (c *CFG) AddEmptyInstruction() int {
	in := c.Pool.Add(EMPTY, 0, 0)
	c.InsertInstruction(c.Current, in.ID)
	return in.ID
}

// AddKillInstruction prepends a KILL(arrayValue) to the current block,
// invalidating every later dominating LOAD/STORE lookup for that array. KILL
// is not itself a CSE-tracked opcode (isDomTracked excludes it, since a kill
// produces no reusable value) so it is pushed onto the LOAD chain here by
// hand rather than through the generic insert path.
func (c *CFG) AddKillInstruction(arrayValue int) int {
	in := c.Pool.Add(KILL, arrayValue, 0)
	c.InsertInstructionAtFront(c.Current, in.ID)
	c.Current.domInstructions[LOAD] = append([]int{in.ID}, c.Current.domInstructions[LOAD]...)
	return in.ID
}

// AddIfBranch creates the FALL and JOIN blocks for an if-statement rooted
// at block, rewiring any block that already followed block through the new
// join, and pushes join onto the open-join stack.
func (c *CFG) AddIfBranch(block *Block) (fall, join *Block) {
	after := block.Children[0]

	fall = c.allocBlock()
	fall.SymTable = cloneSymTable(block.SymTable)
	fall.domInstructions = cloneDomInstructions(block.domInstructions)
	fall.DomBlock = block
	resetVariance(fall, c.Vars)
	fall.Type = FALL

	join = c.allocBlock()
	join.SymTable = cloneSymTable(block.SymTable)
	join.domInstructions = cloneDomInstructions(block.domInstructions)
	join.DomBlock = block
	resetVariance(join, c.Vars)
	join.Type = JOIN

	block.setChildren(fall, join)
	fall.setParent(block)
	fall.setChild(join)
	join.setParents(fall, block)

	c.joinBlocks = append([]*Block{join}, c.joinBlocks...)

	if after != nil {
		join.setChild(after)
		if after.Parents[0] == block {
			after.setParent(join)
		} else {
			after.setParents(after.Parents[0], join)
		}
	}
	return fall, join
}

// AddElseBranch creates the else-branch sibling block for an if/else whose
// then-arm already produced topFall/botFall and join.
func (c *CFG) AddElseBranch(block, topFall, botFall, join *Block) *Block {
	branch := c.allocBlock()
	branch.SymTable = cloneSymTable(block.SymTable)
	branch.domInstructions = cloneDomInstructions(block.domInstructions)
	branch.DomBlock = block
	branch.Type = BRANCH
	resetVariance(branch, c.Vars)

	branch.setParent(block)
	branch.setChild(join)
	block.setChildren(topFall, branch)
	join.setParents(botFall, branch)
	return branch
}

// AddWhileBranch creates the WHILE_JOIN/FALL/FOLLOW blocks for a while
// loop rooted at block and pushes the join onto the open-join stack.
func (c *CFG) AddWhileBranch(block *Block) (join, fall, follow *Block) {
	after := block.Children[0]

	join = c.allocBlock()
	join.SymTable = cloneSymTable(block.SymTable)
	join.domInstructions = cloneDomInstructions(block.domInstructions)
	join.DomBlock = block
	join.Type = WHILE_JOIN
	resetVariance(join, c.Vars)

	fall = c.allocBlock()
	fall.SymTable = cloneSymTable(block.SymTable)
	fall.domInstructions = cloneDomInstructions(block.domInstructions)
	fall.DomBlock = join
	fall.Type = FALL
	resetVariance(fall, c.Vars)

	follow = c.allocBlock()
	follow.SymTable = cloneSymTable(block.SymTable)
	follow.domInstructions = cloneDomInstructions(block.domInstructions)
	follow.DomBlock = join
	follow.Type = FOLLOW
	resetVariance(follow, c.Vars)

	block.setChild(join)
	fall.setParent(join)
	join.setChildren(fall, follow)
	follow.setParent(join)
	fall.setChild(join)
	join.setParents(block, fall)

	c.joinBlocks = append([]*Block{join}, c.joinBlocks...)

	if after != nil {
		follow.setChild(after)
		if after.Parents[0] == block {
			after.setParent(follow)
		} else {
			after.setParents(after.Parents[0], follow)
		}
	}
	return join, fall, follow
}

// OpenJoins returns the stack of currently-open join blocks, innermost
// first -- the same list Phi insertion walks.
func (c *CFG) OpenJoins() []*Block { return c.joinBlocks }

// PopJoin removes the innermost open join, called once a branch or loop's
// closing keyword (fi/od) has been consumed.
func (c *CFG) PopJoin() {
	if len(c.joinBlocks) > 0 {
		c.joinBlocks = c.joinBlocks[1:]
	}
}

// ChangeAllSymbols rewrites every instruction from block's while_phi_idx
// onward, then walks block's dominated region (its two children, BFS via a
// front-pop, back-push worklist), rewriting operand old_value to new_value
// wherever it appears. A JOIN is entered only the second time it is reached
// (its other predecessor may still be unvisited); the walk never enters a
// WHILE_JOIN.
func (c *CFG) ChangeAllSymbols(block *Block, oldValue, newValue int) {
	for i, id := range block.Instructions {
		if i < block.WhilePhiIdx {
			continue
		}
		instr, err := c.FindInstruction(id)
		if err != nil {
			continue
		}
		c.ChangeSymbol(instr, block, oldValue, newValue)
	}

	seenJoin := map[int]bool{}
	stack := []*Block{}
	for _, child := range block.Children {
		if child != nil {
			stack = append(stack, child)
		}
	}

	for len(stack) > 0 {
		curr := stack[0]
		stack = stack[1:]

		for _, id := range curr.Instructions {
			instr, err := c.FindInstruction(id)
			if err != nil {
				continue
			}
			c.ChangeSymbol(instr, curr, oldValue, newValue)
		}

		var next []*Block
		for _, child := range curr.Children {
			if child == nil {
				continue
			}
			switch child.Type {
			case JOIN:
				if seenJoin[child.ID] {
					next = append(next, child)
				} else {
					seenJoin[child.ID] = true
				}
			case WHILE_JOIN:
				// never entered: a while's own join is rewritten by the
				// block.Instructions loop above, not by this walk
				continue
			default:
				next = append(next, child)
			}
		}
		stack = append(stack, next...)
	}
}

// ChangeSymbol rewrites curr_instruction's operand(s) matching old_value to
// new_value. If any variable in block's symbol table is currently bound to
// this instruction, and that variable's definition used an invariant
// variable (one never reassigned in the enclosing loop), the original
// instruction is re-added as a fresh copy and that variable is rebound to
// it -- preserving the loop-invariant value the rewritten instruction would
// otherwise have clobbered. Reports whether such a copy was added.
func (c *CFG) ChangeSymbol(instr *Instruction, block *Block, oldValue, newValue int) bool {
	if instr.A != oldValue && instr.B != oldValue {
		return false
	}

	oldOp, oldA, oldB := instr.Op, instr.A, instr.B
	if instr.A == oldValue {
		instr.A = newValue
	}
	if instr.B == oldValue {
		instr.B = newValue
	}

	var varsToAdjust []string
	for sym, id := range block.SymTable {
		if id == instr.ID {
			varsToAdjust = append(varsToAdjust, sym)
		}
	}

	var usedInvariant []string
	for _, v := range varsToAdjust {
		for _, checkVar := range block.UsedVarTable[v] {
			if block.VarTable[checkVar] == 0 {
				usedInvariant = append(usedInvariant, v)
				break
			}
		}
	}

	if len(usedInvariant) > 0 {
		orig := c.Current
		c.SetCurrent(block)
		id := c.AddInstruction(oldOp, oldA, oldB)
		for _, v := range usedInvariant {
			block.SymTable[v] = id
		}
		c.SetCurrent(orig)
		return true
	}
	return false
}

// FindInstructionBlock returns the block containing instruction id, or nil
// if it is not reachable from Root.
func (c *CFG) FindInstructionBlock(id int) *Block {
	var found *Block
	c.Walk(func(b *Block) bool {
		for _, iid := range b.Instructions {
			if iid == id {
				found = b
				return false
			}
		}
		return true
	})
	return found
}

// Walk visits every reachable block depth-first, in preorder (a block's
// children are pushed on the front of the worklist): a JOIN is visited only
// the second time it is reached, a WHILE_JOIN only the first. visit
// returning false stops the walk early.
func (c *CFG) Walk(visit func(*Block) bool) {
	if c.Root == nil {
		return
	}
	seenJoin := map[int]bool{}
	seenWhileJoin := map[int]bool{}
	stack := []*Block{c.Root}

	for len(stack) > 0 {
		curr := stack[0]
		stack = stack[1:]

		if !visit(curr) {
			return
		}

		var next []*Block
		for _, child := range curr.Children {
			if child == nil {
				continue
			}
			switch child.Type {
			case JOIN:
				if seenJoin[child.ID] {
					next = append(next, child)
				} else {
					seenJoin[child.ID] = true
				}
			case WHILE_JOIN:
				if !seenWhileJoin[child.ID] {
					seenWhileJoin[child.ID] = true
					next = append(next, child)
				}
			default:
				next = append(next, child)
			}
		}
		stack = append(next, stack...)
	}
}

// Blocks returns every reachable block in Walk order.
func (c *CFG) Blocks() []*Block {
	var out []*Block
	c.Walk(func(b *Block) bool {
		out = append(out, b)
		return true
	})
	return out
}
