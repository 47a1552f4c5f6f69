package blocks

import (
	"fmt"
	"strings"

	"github.com/eaburns/ilgraph/il"
)

func (m *MethodBlocks) String() string { return m.buildString(new(strings.Builder)).String() }
func (b *Block) String() string        { return b.buildString(new(strings.Builder)).String() }

func (m *MethodBlocks) buildString(s *strings.Builder) *strings.Builder {
	m.buildScopeString(m.RootScope(), 0, s)
	for _, h := range m.Handlers {
		fmt.Fprintf(s, "%s try %d handler %d", h.Kind, h.Try, h.Handler)
		if h.Filter != NoScope {
			fmt.Fprintf(s, " filter %d", h.Filter)
		}
		if h.Kind == il.Catch {
			fmt.Fprintf(s, " type 0x%08X", uint32(h.CatchType))
		}
		s.WriteRune('\n')
	}
	return s
}

func (m *MethodBlocks) buildScopeString(sb *ScopeBlock, depth int, s *strings.Builder) {
	indent := strings.Repeat("\t", depth)
	fmt.Fprintf(s, "%s%s %d {\n", indent, sb.Kind, sb.ID)
	for _, c := range sb.BaseBlocks {
		switch c.Kind {
		case ChildBlock:
			b := m.Block(c.Block)
			if b == nil {
				fmt.Fprintf(s, "%s\tblock %d: removed\n", indent, c.Block)
				continue
			}
			for _, line := range strings.SplitAfter(b.String(), "\n") {
				if line != "" {
					s.WriteString(indent + "\t" + line)
				}
			}
		case ChildScope:
			if k := m.Scope(c.Scope); k != nil {
				m.buildScopeString(k, depth+1, s)
			} else {
				fmt.Fprintf(s, "%s\tscope %d: removed\n", indent, c.Scope)
			}
		}
	}
	fmt.Fprintf(s, "%s}\n", indent)
}

func (b *Block) buildString(s *strings.Builder) *strings.Builder {
	fmt.Fprintf(s, "block %d:\n", b.ID)
	for i, r := range b.Instrs {
		s.WriteString("\t")
		s.WriteString(r.Op.Name)
		switch {
		case i == len(b.Instrs)-1 && len(b.Targets) > 0:
			for _, t := range b.Targets {
				fmt.Fprintf(s, " %d", t)
			}
		case r.Operand != nil:
			s.WriteRune(' ')
			s.WriteString(il.OperandString(r.Operand))
		}
		s.WriteRune('\n')
	}
	if b.FallThrough != NoBlock {
		fmt.Fprintf(s, "\t-> %d\n", b.FallThrough)
	}
	return s
}
