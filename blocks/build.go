package blocks

import (
	"sort"

	"github.com/eaburns/ilgraph/il"
)

// A region is the range of a try, handler, or filter
// of the exception handler table.
type region struct {
	kind       ScopeKind
	start, end int
	scope      ScopeID
}

// outer is the rank of regions with equal ranges;
// handlers and filters enclose the try that they share a range with.
func (r *region) outer() bool { return r.kind != TryScope }

type builder struct {
	instrs []*il.Instruction
	size   int
	// index maps instruction offsets to their index in instrs.
	index map[int]int
	// split marks the instruction indices that begin a block.
	split []bool
	// at maps instruction indices that begin a block to the block.
	at map[int]BlockID
	// locals maps the body's local slots to the graph's copies.
	locals map[*il.Local]*il.Local
	mb     *MethodBlocks
}

// build returns the graph of body.
// Local operands are replaced by their images in locals.
func build(body *il.Body, locals map[*il.Local]*il.Local) (*MethodBlocks, error) {
	bld := &builder{
		locals: locals,
		instrs: body.Instrs,
		index:  make(map[int]int, len(body.Instrs)),
		split:  make([]bool, len(body.Instrs)+1),
		at:     make(map[int]BlockID),
		mb:     &MethodBlocks{},
	}
	if err := bld.findSplits(body); err != nil {
		return nil, err
	}
	regions, handlers, err := bld.regions(body.Handlers)
	if err != nil {
		return nil, err
	}
	bld.makeBlocks()
	bld.makeScopes(regions)
	bld.mb.Handlers = handlers
	return bld.mb, nil
}

// instrAt returns the index of the instruction at an offset.
// The code end is the index one past the last instruction.
func (bld *builder) instrAt(offs int) (int, bool) {
	if offs == bld.size {
		return len(bld.instrs), true
	}
	i, ok := bld.index[offs]
	return i, ok
}

func (bld *builder) findSplits(body *il.Body) error {
	for i, r := range bld.instrs {
		if r.Offset != bld.size {
			return buildErr(r.Offset, "instruction should be at %s", il.Label(bld.size))
		}
		bld.index[r.Offset] = i
		bld.size += r.Size()
	}
	if len(bld.instrs) == 0 {
		return nil
	}
	bld.split[0] = true
	for i, r := range bld.instrs {
		if r.Op.EndsBlock() {
			bld.split[i+1] = true
		}
		for _, t := range branchTargets(r) {
			j, ok := bld.index[t]
			if !ok {
				return buildErr(r.Offset, "%s: branch target %s is not an instruction", r.Op, il.Label(t))
			}
			bld.split[j] = true
		}
		if r.Op.IsBranch() || r.Op.Category() == il.Switch {
			if err := checkBranchOperand(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkBranchOperand(r *il.Instruction) error {
	switch r.Operand.(type) {
	case il.Target:
		if r.Op.IsBranch() {
			return nil
		}
	case il.Targets:
		if r.Op.Category() == il.Switch {
			return nil
		}
	}
	return buildErr(r.Offset, "%s: bad operand %s", r.Op, il.OperandString(r.Operand))
}

func branchTargets(r *il.Instruction) []int {
	if !r.Op.IsBranch() && r.Op.Category() != il.Switch {
		return nil
	}
	switch o := r.Operand.(type) {
	case il.Target:
		return []int{int(o)}
	case il.Targets:
		return []int(o)
	}
	return nil
}

// regions returns the regions of the handler table
// sorted outermost first, and the handler table in terms of their scopes.
// Scope IDs are assigned in sorted order, after the root scope 0.
func (bld *builder) regions(ehs []*il.ExceptionHandler) ([]*region, []Handler, error) {
	type key struct {
		try        bool
		start, end int
	}
	seen := make(map[key]*region)
	var regions []*region
	add := func(kind ScopeKind, start, end int) (*region, error) {
		for _, offs := range []int{start, end} {
			i, ok := bld.instrAt(offs)
			if !ok {
				return nil, buildErr(offs, "%s region boundary is not an instruction", kind)
			}
			bld.split[i] = true
		}
		if start >= end {
			return nil, buildErr(start, "empty %s region ending at %s", kind, il.Label(end))
		}
		k := key{try: kind == TryScope, start: start, end: end}
		if r, ok := seen[k]; ok {
			if r.kind != kind || kind != TryScope {
				return nil, buildErr(start, "%s region has the same range as a %s region", kind, r.kind)
			}
			return r, nil
		}
		r := &region{kind: kind, start: start, end: end}
		seen[k] = r
		regions = append(regions, r)
		return r, nil
	}
	type clause struct {
		try, filter, handler *region
	}
	var clauses []clause
	for _, eh := range ehs {
		var c clause
		var err error
		if c.try, err = add(TryScope, eh.TryStart, eh.TryEnd); err != nil {
			return nil, nil, err
		}
		kind := CatchScope
		switch eh.Kind {
		case il.Filter:
			if c.filter, err = add(FilterScope, eh.FilterStart, eh.HandlerStart); err != nil {
				return nil, nil, err
			}
			kind = FilterHandlerScope
		case il.Finally:
			kind = FinallyScope
		case il.Fault:
			kind = FaultScope
		}
		if c.handler, err = add(kind, eh.HandlerStart, eh.HandlerEnd); err != nil {
			return nil, nil, err
		}
		clauses = append(clauses, c)
	}

	sort.SliceStable(regions, func(i, j int) bool {
		ri, rj := regions[i], regions[j]
		switch {
		case ri.start != rj.start:
			return ri.start < rj.start
		case ri.end != rj.end:
			return ri.end > rj.end
		default:
			return ri.outer() && !rj.outer()
		}
	})
	var open []*region
	for i, r := range regions {
		r.scope = ScopeID(i + 1)
		for len(open) > 0 && open[len(open)-1].end <= r.start {
			open = open[:len(open)-1]
		}
		if len(open) > 0 && open[len(open)-1].end < r.end {
			o := open[len(open)-1]
			return nil, nil, buildErr(r.start, "%s region overlaps %s region %s-%s",
				r.kind, o.kind, il.Label(o.start), il.Label(o.end))
		}
		open = append(open, r)
	}

	handlers := make([]Handler, len(ehs))
	for i, eh := range ehs {
		c := clauses[i]
		handlers[i] = Handler{
			Kind:      eh.Kind,
			CatchType: eh.CatchType,
			Try:       c.try.scope,
			Filter:    NoScope,
			Handler:   c.handler.scope,
		}
		if c.filter != nil {
			handlers[i].Filter = c.filter.scope
		}
	}
	return regions, handlers, nil
}

func (bld *builder) makeBlocks() {
	var b *Block
	for i, r := range bld.instrs {
		if bld.split[i] {
			b = &Block{
				ID:          BlockID(len(bld.mb.blocks)),
				Parent:      NoScope,
				FallThrough: NoBlock,
			}
			bld.mb.blocks = append(bld.mb.blocks, b)
			bld.at[i] = b.ID
		}
		rr := &il.Instruction{Op: r.Op, Operand: r.Operand, Offset: r.Offset}
		if r.Op.IsBranch() || r.Op.Category() == il.Switch {
			rr.Operand = nil
		}
		if l, ok := r.Operand.(*il.Local); ok {
			if c, ok := bld.locals[l]; ok {
				rr.Operand = c
			}
		}
		b.Instrs = append(b.Instrs, rr)
	}
	b = nil
	for i, r := range bld.instrs {
		if bld.split[i] {
			b = bld.mb.blocks[bld.at[i]]
		}
		if i+1 < len(bld.instrs) && !bld.split[i+1] {
			continue
		}
		next := NoBlock
		if i+1 < len(bld.instrs) {
			next = bld.at[i+1]
		}
		for _, t := range branchTargets(r) {
			b.Targets = append(b.Targets, bld.at[bld.index[t]])
		}
		switch r.Op.Category() {
		case il.UncondBranch, il.Terminal:
		default:
			b.FallThrough = next
		}
	}
}

// makeScopes creates the scope tree from the sorted regions
// and assigns each block to its innermost region.
func (bld *builder) makeScopes(regions []*region) {
	mb := bld.mb
	mb.Root = 0
	mb.scopes = []*ScopeBlock{{ID: 0, Parent: NoScope, Kind: MethodScope, End: bld.size}}
	for _, r := range regions {
		mb.scopes = append(mb.scopes, &ScopeBlock{
			ID:     r.scope,
			Parent: NoScope,
			Kind:   r.kind,
			Start:  r.start,
			End:    r.end,
		})
	}
	open := []*ScopeBlock{mb.scopes[0]}
	var next int
	for i := range bld.instrs {
		if !bld.split[i] {
			continue
		}
		offs := bld.instrs[i].Offset
		for len(open) > 1 && open[len(open)-1].End <= offs {
			open = open[:len(open)-1]
		}
		for next < len(regions) && regions[next].start == offs {
			s := mb.scopes[regions[next].scope]
			top := open[len(open)-1]
			s.Parent = top.ID
			top.BaseBlocks = append(top.BaseBlocks, scopeChild(s.ID))
			open = append(open, s)
			next++
		}
		if next < len(regions) && regions[next].start < offs {
			panic("impossible: region start is not a block start")
		}
		top := open[len(open)-1]
		b := mb.blocks[bld.at[i]]
		b.Parent = top.ID
		top.BaseBlocks = append(top.BaseBlocks, blockChild(b.ID))
	}
}
