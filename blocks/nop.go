package blocks

// maxNopRounds bounds the retargeting rounds of MergeNopBlocks.
// Chains of no-op blocks longer than this are only partly collapsed.
const maxNopRounds = 10

// MergeNopBlocks retargets the edges into no-op blocks
// to the blocks that they fall through to,
// removes the no-op blocks that are no longer targeted,
// and returns the number removed.
//
// A no-op block is only skipped if it is not the entry of its scope
// and it falls through to a block in the same scope.
// An edge from the block that the no-op block falls through to
// is never retargeted; doing so would turn it into a self edge.
func (b *Blocks) MergeNopBlocks() int { return mergeNopBlocks(b.mb) }

func mergeNopBlocks(m *MethodBlocks) int {
	all := m.AllBlocks()
	nops := make(map[BlockID]bool)
	for _, b := range all {
		if b.IsNopBlock() {
			nops[b.ID] = true
		}
	}
	if len(nops) == 0 {
		return 0
	}
	for i := 0; i < maxNopRounds; i++ {
		var changed bool
		for _, b := range all {
			if t := skipNop(m, nops, b.ID, b.FallThrough); t != NoBlock {
				b.FallThrough = t
				changed = true
			}
			for j, o := range b.Targets {
				if t := skipNop(m, nops, b.ID, o); t != NoBlock {
					b.Targets[j] = t
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	preds := m.preds()
	var n int
	for _, b := range all {
		if !nops[b.ID] || nopDest(m, b) == NoBlock || len(preds[b.ID]) > 0 {
			continue
		}
		m.removeBlock(b.ID)
		n++
	}
	return n
}

// skipNop returns the new destination of the edge from src to dst,
// or NoBlock if the edge is not changed.
func skipNop(m *MethodBlocks, nops map[BlockID]bool, src, dst BlockID) BlockID {
	if dst == NoBlock || !nops[dst] {
		return NoBlock
	}
	nop := m.blocks[dst]
	if src == nop.FallThrough {
		return NoBlock
	}
	if d := nopDest(m, nop); d != dst {
		return d
	}
	return NoBlock
}

// nopDest returns the block that edges into a no-op block may skip to,
// or NoBlock if the no-op block cannot be skipped.
func nopDest(m *MethodBlocks, nop *Block) BlockID {
	if m.isEntry(nop) {
		return NoBlock
	}
	ft := m.Block(nop.FallThrough)
	if ft == nil || ft.Parent != nop.Parent {
		return NoBlock
	}
	return ft.ID
}
