// Package blocks is a control flow graph of a single method body.
//
// A method body is partitioned into basic blocks,
// which are grouped into a tree of scopes:
// the method body at the root and one scope for each
// try, catch, filter, finally, and fault region nested within it.
// Blocks and scopes are stored in arenas owned by a MethodBlocks,
// and all edges between them are plain handles (BlockID and ScopeID).
//
// The graph is built from a flat body by New,
// reduced by RemoveDeadBlocks, MergeNopBlocks, RepartitionBlocks,
// and OptimizeLocals, and linearized back into a flat body by GetCode.
package blocks

import (
	"github.com/eaburns/ilgraph/il"
)

// BlockID is the handle of a Block within its MethodBlocks.
type BlockID int

// ScopeID is the handle of a ScopeBlock within its MethodBlocks.
type ScopeID int

const (
	NoBlock BlockID = -1
	NoScope ScopeID = -1
)

// A Block is a basic block.
// Only its last instruction may transfer control.
type Block struct {
	ID     BlockID
	Parent ScopeID
	// Instrs are the block's instructions.
	// The operand of a final branch or switch instruction is nil;
	// its destinations are Targets.
	Instrs []*il.Instruction
	// FallThrough is the block executed after the last instruction
	// if it does not transfer control, or if it is a conditional branch
	// that is not taken or a switch with an out-of-range value.
	// FallThrough is NoBlock if there is no such block.
	FallThrough BlockID
	// Targets are the destinations of the final branch instruction:
	// one for an unconditional or conditional branch
	// and one per case for a switch.
	Targets []BlockID
}

// Last returns the last instruction of the block, or nil if it is empty.
func (b *Block) Last() *il.Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Out returns the successors of the block:
// FallThrough, if any, followed by Targets.
func (b *Block) Out() []BlockID {
	var out []BlockID
	if b.FallThrough != NoBlock {
		out = append(out, b.FallThrough)
	}
	return append(out, b.Targets...)
}

// IsNopBlock returns whether the block only falls through
// and all of its instructions are no-ops.
func (b *Block) IsNopBlock() bool {
	if b.FallThrough == NoBlock || len(b.Targets) > 0 {
		return false
	}
	for _, r := range b.Instrs {
		if r.Op.Category() != il.NoOp {
			return false
		}
	}
	return true
}

// ScopeKind is the kind of region covered by a ScopeBlock.
type ScopeKind int

const (
	MethodScope ScopeKind = iota
	TryScope
	CatchScope
	// FilterScope is the filter expression of a filter clause.
	FilterScope
	// FilterHandlerScope is the handler of a filter clause.
	FilterHandlerScope
	FinallyScope
	FaultScope
)

func (k ScopeKind) String() string {
	switch k {
	case MethodScope:
		return "method"
	case TryScope:
		return "try"
	case CatchScope:
		return "catch"
	case FilterScope:
		return "filter"
	case FilterHandlerScope:
		return "handler"
	case FinallyScope:
		return "finally"
	case FaultScope:
		return "fault"
	default:
		return "unknown"
	}
}

// ChildKind tags the variant of a Child.
type ChildKind int

const (
	ChildBlock ChildKind = iota
	ChildScope
)

// A Child is an entry of a ScopeBlock:
// either a Block or a nested ScopeBlock.
type Child struct {
	Kind  ChildKind
	Block BlockID
	Scope ScopeID
}

func blockChild(id BlockID) Child { return Child{Kind: ChildBlock, Block: id, Scope: NoScope} }
func scopeChild(id ScopeID) Child { return Child{Kind: ChildScope, Block: NoBlock, Scope: id} }

// A ScopeBlock is an ordered sequence of blocks and nested scopes
// covering the method body or one protected region or handler.
type ScopeBlock struct {
	ID     ScopeID
	Parent ScopeID
	Kind   ScopeKind
	// BaseBlocks are the children of the scope in code order.
	// BaseBlocks[0] is the entry of the scope;
	// it is never removed by any of the reductions.
	BaseBlocks []Child
	// Start and End are the byte offsets of the region
	// in the body from which the graph was built.
	Start, End int
}

// A Handler is one clause of the exception handler table,
// in terms of the scopes of its regions.
type Handler struct {
	Kind      il.HandlerKind
	CatchType il.Token
	Try       ScopeID
	// Filter is the filter expression scope of a Filter clause,
	// and NoScope otherwise.
	Filter  ScopeID
	Handler ScopeID
}

// MethodBlocks is the scope tree of a method body.
type MethodBlocks struct {
	Root ScopeID
	// Handlers are the exception handler clauses in table order.
	Handlers []Handler

	// blocks and scopes are indexed by ID.
	// Removed blocks are nil.
	blocks []*Block
	scopes []*ScopeBlock
}

// Block returns the block with the given ID,
// or nil if there is no such block or it was removed.
func (m *MethodBlocks) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(m.blocks) {
		return nil
	}
	return m.blocks[id]
}

// Scope returns the scope with the given ID, or nil.
func (m *MethodBlocks) Scope(id ScopeID) *ScopeBlock {
	if id < 0 || int(id) >= len(m.scopes) {
		return nil
	}
	return m.scopes[id]
}

// RootScope returns the scope of the method body.
func (m *MethodBlocks) RootScope() *ScopeBlock { return m.scopes[m.Root] }

// AllScopes returns all scopes of the tree in pre-order, root first.
func (m *MethodBlocks) AllScopes() []*ScopeBlock {
	var scopes []*ScopeBlock
	var walk func(*ScopeBlock)
	walk = func(s *ScopeBlock) {
		scopes = append(scopes, s)
		for _, c := range s.BaseBlocks {
			if c.Kind == ChildScope {
				walk(m.scopes[c.Scope])
			}
		}
	}
	walk(m.RootScope())
	return scopes
}

// AllBlocks returns all blocks of the tree in code order.
func (m *MethodBlocks) AllBlocks() []*Block {
	var blocks []*Block
	var walk func(*ScopeBlock)
	walk = func(s *ScopeBlock) {
		for _, c := range s.BaseBlocks {
			switch c.Kind {
			case ChildBlock:
				blocks = append(blocks, m.blocks[c.Block])
			case ChildScope:
				walk(m.scopes[c.Scope])
			}
		}
	}
	walk(m.RootScope())
	return blocks
}

// Entry returns the first block executed on entry to a scope,
// or NoBlock if the scope is empty.
func (m *MethodBlocks) Entry(id ScopeID) BlockID {
	for {
		s := m.scopes[id]
		if len(s.BaseBlocks) == 0 {
			return NoBlock
		}
		c := s.BaseBlocks[0]
		if c.Kind == ChildBlock {
			return c.Block
		}
		id = c.Scope
	}
}

// isEntry returns whether b is BaseBlocks[0] of its parent.
func (m *MethodBlocks) isEntry(b *Block) bool {
	s := m.scopes[b.Parent]
	return len(s.BaseBlocks) > 0 && s.BaseBlocks[0] == blockChild(b.ID)
}

// preds returns the predecessors of each block, one per edge.
func (m *MethodBlocks) preds() map[BlockID][]BlockID {
	preds := make(map[BlockID][]BlockID)
	for _, b := range m.AllBlocks() {
		for _, o := range b.Out() {
			preds[o] = append(preds[o], b.ID)
		}
	}
	return preds
}

// removeBlock removes a block from its scope and the arena.
func (m *MethodBlocks) removeBlock(id BlockID) {
	b := m.blocks[id]
	if m.isEntry(b) {
		panic("impossible: removing a scope entry")
	}
	s := m.scopes[b.Parent]
	var i int
	for _, c := range s.BaseBlocks {
		if c != blockChild(id) {
			s.BaseBlocks[i] = c
			i++
		}
	}
	s.BaseBlocks = s.BaseBlocks[:i]
	m.blocks[id] = nil
}

// Blocks is the flow graph of one method
// together with the method's local variable slots.
// A Blocks shares no mutable state with any other Blocks.
type Blocks struct {
	method *il.Method
	locals []*il.Local
	mb     *MethodBlocks
}

// New returns the flow graph of a method.
// The method body is not modified.
func New(m *il.Method) (*Blocks, error) {
	b := &Blocks{method: m}
	if err := b.UpdateBlocks(); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBlocks rebuilds the graph from the method's body,
// discarding any changes made to the graph.
func (b *Blocks) UpdateBlocks() error {
	locals := make([]*il.Local, len(b.method.Body.Locals))
	copies := make(map[*il.Local]*il.Local, len(locals))
	for i, l := range b.method.Body.Locals {
		c := *l
		locals[i] = &c
		copies[l] = &c
	}
	mb, err := build(b.method.Body, copies)
	if err != nil {
		return &MethodError{Token: b.method.Token, Name: b.method.Name, Err: err}
	}
	b.mb = mb
	b.locals = locals
	return nil
}

// Method returns the method of the graph.
func (b *Blocks) Method() *il.Method { return b.method }

// MethodBlocks returns the scope tree.
func (b *Blocks) MethodBlocks() *MethodBlocks { return b.mb }

// Locals returns the local variable slots.
func (b *Blocks) Locals() []*il.Local { return b.locals }
