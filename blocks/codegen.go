package blocks

import (
	"github.com/eaburns/ilgraph/il"
)

// GetCode returns the flat body of the graph.
//
// Blocks are laid out in scope tree order.
// An unconditional branch is added after each block
// whose fall through is not laid out immediately after it.
// Branches keep their short or long form
// unless a short form cannot reach its target,
// in which case it is widened.
// The returned body shares no local slots with the graph.
func (b *Blocks) GetCode() (*il.Body, error) {
	body, err := genCode(b.mb)
	if err != nil {
		return nil, &MethodError{Token: b.method.Token, Name: b.method.Name, Err: err}
	}
	copies := make(map[*il.Local]*il.Local, len(b.locals))
	for _, l := range b.locals {
		c := *l
		copies[l] = &c
		body.Locals = append(body.Locals, &c)
	}
	for _, r := range body.Instrs {
		if l, ok := r.Operand.(*il.Local); ok && copies[l] != nil {
			r.Operand = copies[l]
		}
	}
	return body, nil
}

type emit struct {
	r       *il.Instruction
	targets []BlockID
}

type gen struct {
	m     *MethodBlocks
	order []*Block
	// spans are the [start, end) indices into order of each scope.
	spans map[ScopeID][2]int
	out   []emit
	// starts are the indices into out of the first instruction of each
	// block in order, followed by len(out).
	starts []int
	offs   map[BlockID]int
	size   int
}

func genCode(m *MethodBlocks) (*il.Body, error) {
	g := &gen{m: m, spans: make(map[ScopeID][2]int), offs: make(map[BlockID]int)}
	if err := g.layout(m.RootScope()); err != nil {
		return nil, err
	}
	for i, b := range g.order {
		var next *Block
		if i+1 < len(g.order) {
			next = g.order[i+1]
		}
		g.starts = append(g.starts, len(g.out))
		if err := g.emitBlock(b, next); err != nil {
			return nil, err
		}
	}
	g.starts = append(g.starts, len(g.out))
	for {
		g.computeOffsets()
		var changed bool
		for _, e := range g.out {
			if e.r.Op.Operand != il.ShortInlineBrTarget {
				continue
			}
			if !il.FitsShort(e.r.Offset, e.r.Size(), g.offs[e.targets[0]]) {
				e.r.Op = e.r.Op.Long()
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	body := &il.Body{}
	for _, e := range g.out {
		for _, t := range e.targets {
			if g.offs[t] == g.size {
				return nil, corrupt("%s at %s: branch to block %d at the end of the code",
					e.r.Op, il.Label(e.r.Offset), t)
			}
		}
		body.Instrs = append(body.Instrs, e.r)
	}
	for _, h := range m.Handlers {
		eh := &il.ExceptionHandler{Kind: h.Kind, CatchType: h.CatchType}
		var err error
		if eh.TryStart, eh.TryEnd, err = g.span(h.Try); err != nil {
			return nil, err
		}
		if eh.HandlerStart, eh.HandlerEnd, err = g.span(h.Handler); err != nil {
			return nil, err
		}
		if h.Filter != NoScope {
			if eh.FilterStart, _, err = g.span(h.Filter); err != nil {
				return nil, err
			}
		}
		body.Handlers = append(body.Handlers, eh)
	}
	return body, nil
}

func (g *gen) layout(s *ScopeBlock) error {
	start := len(g.order)
	for _, c := range s.BaseBlocks {
		switch c.Kind {
		case ChildBlock:
			b := g.m.Block(c.Block)
			if b == nil {
				return corrupt("scope %d: dangling block %d", s.ID, c.Block)
			}
			g.order = append(g.order, b)
		case ChildScope:
			k := g.m.Scope(c.Scope)
			if k == nil {
				return corrupt("scope %d: dangling scope %d", s.ID, c.Scope)
			}
			if err := g.layout(k); err != nil {
				return err
			}
		}
	}
	g.spans[s.ID] = [2]int{start, len(g.order)}
	return nil
}

func (g *gen) emitBlock(b *Block, next *Block) error {
	if err := checkBlock(b); err != nil {
		return err
	}
	for _, o := range b.Out() {
		if g.m.Block(o) == nil {
			return corrupt("block %d: dangling edge to block %d", b.ID, o)
		}
	}
	for _, r := range b.Instrs {
		g.out = append(g.out, emit{r: &il.Instruction{Op: r.Op, Operand: r.Operand}})
	}
	if len(b.Instrs) > 0 {
		e := &g.out[len(g.out)-1]
		e.targets = b.Targets
		if e.r.Op.Category() == il.Switch {
			// Sized by the number of cases; resolved after layout.
			e.r.Operand = make(il.Targets, len(b.Targets))
		}
	}
	if b.FallThrough != NoBlock && (next == nil || next.ID != b.FallThrough) {
		g.out = append(g.out, emit{
			r:       &il.Instruction{Op: il.BrS},
			targets: []BlockID{b.FallThrough},
		})
	}
	return nil
}

// computeOffsets sets the offsets of the emitted instructions,
// the start offset of each block, and the branch operands.
func (g *gen) computeOffsets() {
	var offs int
	for _, e := range g.out {
		e.r.Offset = offs
		offs += e.r.Size()
	}
	g.size = offs
	for i, b := range g.order {
		if g.starts[i] < len(g.out) {
			g.offs[b.ID] = g.out[g.starts[i]].r.Offset
		} else {
			g.offs[b.ID] = g.size
		}
	}
	for _, e := range g.out {
		switch {
		case len(e.targets) == 0:
		case e.r.Op.Category() == il.Switch:
			ts := make(il.Targets, len(e.targets))
			for i, t := range e.targets {
				ts[i] = g.offs[t]
			}
			e.r.Operand = ts
		default:
			e.r.Operand = il.Target(g.offs[e.targets[0]])
		}
	}
}

// span returns the offsets of the region covered by a scope.
func (g *gen) span(id ScopeID) (int, int, error) {
	sp, ok := g.spans[id]
	if !ok {
		return 0, 0, corrupt("handler: scope %d is not in the tree", id)
	}
	return g.offset(sp[0]), g.offset(sp[1]), nil
}

// offset returns the offset of the ith block of the layout order.
func (g *gen) offset(i int) int {
	if i == len(g.order) {
		return g.size
	}
	return g.offs[g.order[i].ID]
}
