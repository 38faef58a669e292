package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Instruction is one entry in the Pool: a single SSA operation with up to
// two operands. Operands are instruction ids (results of earlier
// instructions) except where the opcode defines otherwise (CONST's a is a
// literal value, KILL's a is a symbol id, WRITE's a is a value id or -- for
// WRITE on a constant -- a value id of a materialized CONST).
type Instruction struct {
	ID   int
	Op   Op
	A, B int

	prev, next *Instruction
}

// String renders an instruction the way the CFG dump and DOT output print
// it: "<id>: <OP> <operands>", with CONST showing its literal with a '#'
// prefix.
func (in *Instruction) String() string {
	if in == nil || in.Op == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(in.ID))
	b.WriteString(": ")
	if in.Op == CONST {
		fmt.Fprintf(&b, "%s #%d", in.Op, in.A)
		return b.String()
	}
	b.WriteString(string(in.Op))
	if in.A != 0 {
		fmt.Fprintf(&b, " (%d)", in.A)
	}
	if in.B != 0 {
		fmt.Fprintf(&b, " (%d)", in.B)
	}
	return b.String()
}

// Pool is the append-only, doubly-linked, globally-numbered instruction
// list every Block's instructions live in. Ids are allocated monotonically
// starting at 1 and are never reused, including across blocks.
type Pool struct {
	head, tail *Instruction
	nextID     int
}

// NewPool returns an empty Pool with id allocation starting at 1.
func NewPool() *Pool {
	return &Pool{nextID: 1}
}

// Add appends a new instruction with the given opcode and operands,
// returning it. This performs no CSE; callers wanting CSE use a Block's
// dominating chain first (see CFG.FindDomInstruction / CFG.AddInstruction).
func (p *Pool) Add(op Op, a, b int) *Instruction {
	in := &Instruction{ID: p.nextID, Op: op, A: a, B: b, prev: p.tail}
	if p.head == nil {
		p.head = in
	} else {
		p.tail.next = in
	}
	p.tail = in
	p.nextID++
	return in
}

// Find walks the pool backward from the tail looking for id. It backs
// CFG.FindInstruction, through which every operand id held in a block, a
// symbol table or a Result is resolved to its instruction.
func (p *Pool) Find(id int) (*Instruction, error) {
	for in := p.tail; in != nil; in = in.prev {
		if in.ID == id {
			return in, nil
		}
	}
	return nil, errors.Errorf("ir: no instruction with id %d", id)
}

// All returns every instruction in program order, head to tail.
func (p *Pool) All() []*Instruction {
	var out []*Instruction
	for in := p.head; in != nil; in = in.next {
		out = append(out, in)
	}
	return out
}
