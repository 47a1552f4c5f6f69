package blocks

import (
	"fmt"

	"github.com/eaburns/ilgraph/il"
)

// OptimizeLocals removes the local variable slots
// that no instruction references, renumbers the rest
// in the order of their first reference,
// and returns the number of slots removed.
//
// Each instruction referencing a slot is rewritten
// to the shortest encoding of its new index.
func (b *Blocks) OptimizeLocals() int {
	if len(b.locals) == 0 {
		return 0
	}
	type use struct {
		block *Block
		i     int
	}
	declared := make(map[*il.Local]bool, len(b.locals))
	for _, l := range b.locals {
		declared[l] = true
	}
	uses := make(map[*il.Local][]use)
	var order []*il.Local
	for _, blk := range b.mb.AllBlocks() {
		for i, r := range blk.Instrs {
			l := il.LocalOf(b.locals, r)
			if l == nil || !declared[l] {
				continue
			}
			if _, ok := uses[l]; !ok {
				order = append(order, l)
			}
			uses[l] = append(uses[l], use{block: blk, i: i})
		}
		if len(order) == len(b.locals) {
			return 0
		}
	}
	for i, l := range order {
		l.Index = i
		for _, u := range uses[l] {
			u.block.Instrs[u.i] = localInstr(u.block.Instrs[u.i], l)
		}
	}
	n := len(b.locals) - len(order)
	b.locals = order
	return n
}

var (
	ldlocMacros = [...]*il.OpCode{il.Ldloc0, il.Ldloc1, il.Ldloc2, il.Ldloc3}
	stlocMacros = [...]*il.OpCode{il.Stloc0, il.Stloc1, il.Stloc2, il.Stloc3}
)

// localInstr returns r rewritten to reference l
// with the shortest encoding of l.Index.
func localInstr(r *il.Instruction, l *il.Local) *il.Instruction {
	var macros *[4]*il.OpCode
	var short, long *il.OpCode
	switch r.Op.Category() {
	case il.LocalLoad:
		macros, short, long = &ldlocMacros, il.LdlocS, il.Ldloc
	case il.LocalStore:
		macros, short, long = &stlocMacros, il.StlocS, il.Stloc
	case il.LocalLoadAddr:
		short, long = il.LdlocaS, il.Ldloca
	default:
		panic(fmt.Sprintf("impossible local instruction %s", r.Op))
	}
	switch {
	case macros != nil && l.Index < len(macros):
		return &il.Instruction{Op: macros[l.Index], Offset: r.Offset}
	case l.Index <= 0xFF:
		return &il.Instruction{Op: short, Operand: l, Offset: r.Offset}
	default:
		return &il.Instruction{Op: long, Operand: l, Offset: r.Offset}
	}
}
