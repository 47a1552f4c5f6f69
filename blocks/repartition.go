package blocks

// RepartitionBlocks merges no-op blocks and then,
// for each scope, merges blocks into their sole predecessor
// where they are always executed immediately after it.
//
// Each scope is first checked for dangling handles.
// The first scope that fails stops the pass;
// the returned error is a *MethodError wrapping ErrCorrupt,
// and the scopes before it remain repartitioned.
func (b *Blocks) RepartitionBlocks() error {
	mergeNopBlocks(b.mb)
	for _, s := range b.mb.AllScopes() {
		if err := repartition(b.mb, s); err != nil {
			return &MethodError{Token: b.method.Token, Name: b.method.Name, Err: err}
		}
	}
	return nil
}

func repartition(m *MethodBlocks, s *ScopeBlock) error {
	if err := m.checkScope(s); err != nil {
		return err
	}
	preds := m.preds()
	var done []Child
	for i, c := range s.BaseBlocks {
		if i == 0 || c.Kind != ChildBlock {
			done = append(done, c)
			continue
		}
		b := m.blocks[c.Block]
		if len(preds[b.ID]) != 1 {
			done = append(done, c)
			continue
		}
		in := m.blocks[preds[b.ID][0]]
		if in == b || in.Parent != s.ID || in.FallThrough != b.ID || len(in.Targets) > 0 ||
			(in.Last() != nil && in.Last().Op.EndsBlock()) {
			done = append(done, c)
			continue
		}
		in.Instrs = append(in.Instrs, b.Instrs...)
		in.FallThrough = b.FallThrough
		in.Targets = b.Targets
		for _, o := range b.Out() {
			ps := preds[o]
			for j := range ps {
				if ps[j] == b.ID {
					ps[j] = in.ID
				}
			}
		}
		m.blocks[b.ID] = nil
	}
	s.BaseBlocks = done
	return nil
}
