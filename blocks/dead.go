package blocks

// RemoveDeadBlocks removes the blocks that are not reachable
// from the entry of any scope and returns the number removed.
// Reachability is method wide: an edge that crosses scopes,
// such as a leave out of a try, keeps its target alive.
// Scopes themselves are never removed.
func (b *Blocks) RemoveDeadBlocks() int { return rmUnreach(b.mb) }

func rmUnreach(m *MethodBlocks) int {
	seen := make(map[BlockID]bool)
	var todo []BlockID
	for _, s := range m.AllScopes() {
		// Handler scopes are entered by the runtime, not by an edge.
		if e := m.Entry(s.ID); e != NoBlock && !seen[e] {
			seen[e] = true
			todo = append(todo, e)
		}
	}
	for len(todo) > 0 {
		b := m.blocks[todo[len(todo)-1]]
		todo = todo[:len(todo)-1]
		for _, o := range b.Out() {
			if !seen[o] && m.Block(o) != nil {
				seen[o] = true
				todo = append(todo, o)
			}
		}
	}
	var n int
	for _, s := range m.AllScopes() {
		var i int
		for _, c := range s.BaseBlocks {
			if c.Kind == ChildBlock && !seen[c.Block] {
				m.blocks[c.Block] = nil
				n++
				continue
			}
			s.BaseBlocks[i] = c
			i++
		}
		s.BaseBlocks = s.BaseBlocks[:i]
	}
	return n
}
