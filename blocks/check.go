package blocks

import (
	"github.com/eaburns/ilgraph/il"
)

// Check returns an error wrapping ErrCorrupt
// if the graph violates one of its structural invariants.
func (m *MethodBlocks) Check() error {
	root := m.Scope(m.Root)
	if root == nil || root.Parent != NoScope || root.Kind != MethodScope {
		return corrupt("bad root scope %d", m.Root)
	}
	seenBlocks := make(map[BlockID]bool)
	seenScopes := make(map[ScopeID]bool)
	todo := []*ScopeBlock{root}
	seenScopes[root.ID] = true
	for len(todo) > 0 {
		s := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if err := m.checkScope(s); err != nil {
			return err
		}
		if s.ID != m.Root && len(s.BaseBlocks) == 0 {
			return corrupt("scope %d: no entry", s.ID)
		}
		for _, c := range s.BaseBlocks {
			switch c.Kind {
			case ChildBlock:
				if seenBlocks[c.Block] {
					return corrupt("block %d: multiple parents", c.Block)
				}
				seenBlocks[c.Block] = true
				if err := checkBlock(m.blocks[c.Block]); err != nil {
					return err
				}
			case ChildScope:
				if seenScopes[c.Scope] {
					return corrupt("scope %d: multiple parents", c.Scope)
				}
				seenScopes[c.Scope] = true
				todo = append(todo, m.scopes[c.Scope])
			}
		}
	}
	for _, h := range m.Handlers {
		for _, id := range []ScopeID{h.Try, h.Handler} {
			if !seenScopes[id] {
				return corrupt("handler: scope %d is not in the tree", id)
			}
		}
		if (h.Kind == il.Filter) != (h.Filter != NoScope) {
			return corrupt("%s handler: filter scope %d", h.Kind, h.Filter)
		}
		if h.Filter != NoScope && !seenScopes[h.Filter] {
			return corrupt("handler: scope %d is not in the tree", h.Filter)
		}
	}
	return nil
}

// checkScope checks the handles of a scope's children and their edges.
func (m *MethodBlocks) checkScope(s *ScopeBlock) error {
	if s.Parent != NoScope && m.Scope(s.Parent) == nil {
		return corrupt("scope %d: dangling parent %d", s.ID, s.Parent)
	}
	for _, c := range s.BaseBlocks {
		switch c.Kind {
		case ChildBlock:
			b := m.Block(c.Block)
			if b == nil {
				return corrupt("scope %d: dangling block %d", s.ID, c.Block)
			}
			if b.Parent != s.ID {
				return corrupt("block %d: parent %d, want %d", b.ID, b.Parent, s.ID)
			}
			for _, o := range b.Out() {
				if m.Block(o) == nil {
					return corrupt("block %d: dangling edge to block %d", b.ID, o)
				}
			}
		case ChildScope:
			k := m.Scope(c.Scope)
			if k == nil {
				return corrupt("scope %d: dangling scope %d", s.ID, c.Scope)
			}
			if k.Parent != s.ID {
				return corrupt("scope %d: parent %d, want %d", k.ID, k.Parent, s.ID)
			}
		default:
			return corrupt("scope %d: bad child kind %d", s.ID, c.Kind)
		}
	}
	return nil
}

// checkBlock checks that only the last instruction transfers control
// and that the edges agree with it.
func checkBlock(b *Block) error {
	for i, r := range b.Instrs {
		if i < len(b.Instrs)-1 && r.Op.EndsBlock() {
			return corrupt("block %d: %s is not the last instruction", b.ID, r.Op)
		}
	}
	cat := il.Other
	if r := b.Last(); r != nil {
		cat = r.Op.Category()
	}
	switch {
	case cat == il.UncondBranch && (len(b.Targets) != 1 || b.FallThrough != NoBlock):
		return corrupt("block %d: %s needs one target and no fall through", b.ID, b.Last().Op)
	case cat == il.Conditional && len(b.Targets) != 1:
		return corrupt("block %d: %s needs one target", b.ID, b.Last().Op)
	case cat == il.Terminal && (len(b.Targets) != 0 || b.FallThrough != NoBlock):
		return corrupt("block %d: %s has successors", b.ID, b.Last().Op)
	case cat != il.UncondBranch && cat != il.Conditional && cat != il.Switch && len(b.Targets) != 0:
		return corrupt("block %d: targets without a branch", b.ID)
	}
	return nil
}
