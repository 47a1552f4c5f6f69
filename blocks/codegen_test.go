package blocks

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/eaburns/ilgraph/asm"
	"github.com/eaburns/ilgraph/il"
	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.il"))
	if err != nil {
		t.Fatal(err.Error())
	}
	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			f, err := asm.ParseFile(path)
			if err != nil {
				t.Fatalf("failed to parse: %s", err)
			}
			for _, m := range f.Methods {
				b, err := New(m)
				if err != nil {
					t.Fatalf("failed to build: %s", err)
				}
				got, err := b.GetCode()
				if err != nil {
					t.Fatalf("GetCode()=%v", err)
				}
				if diff := cmp.Diff(m.Body, got, diffOpts...); diff != "" {
					t.Errorf("%s: body mismatch (-want +got):\n%s", m.Name, diff)
				}
			}
		})
	}
}

func TestGetCodeAddsBranch(t *testing.T) {
	b := newBlocks(t, `.method 0x06000001 "M"
		ldarg.0
		brtrue.s B
		ldc.i4.1
		ret
	B:	ldc.i4.2
		ret
	.end`)
	root := b.MethodBlocks().RootScope()
	root.BaseBlocks[1], root.BaseBlocks[2] = root.BaseBlocks[2], root.BaseBlocks[1]
	got, err := b.GetCode()
	if err != nil {
		t.Fatalf("GetCode()=%v", err)
	}
	want := []*il.Instruction{
		{Op: il.Ldarg0, Offset: 0},
		{Op: il.BrtrueS, Operand: il.Target(5), Offset: 1},
		{Op: il.BrS, Operand: il.Target(7), Offset: 3},
		{Op: il.LdcI42, Offset: 5},
		{Op: il.Ret, Offset: 6},
		{Op: il.LdcI41, Offset: 7},
		{Op: il.Ret, Offset: 8},
	}
	if diff := cmp.Diff(want, got.Instrs, diffOpts...); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestGetCodeWidensBranches(t *testing.T) {
	rs := []*il.Instruction{
		{Op: il.Ldarg0},
		{Op: il.BrtrueS},
	}
	for i := 0; i < 200; i++ {
		rs = append(rs, &il.Instruction{Op: il.Nop})
	}
	rs = append(rs,
		&il.Instruction{Op: il.LdcI40},
		&il.Instruction{Op: il.Ret},
		&il.Instruction{Op: il.LdcI41},
		&il.Instruction{Op: il.Ret},
	)
	il.ComputeOffsets(rs)
	rs[1].Operand = il.Target(rs[len(rs)-2].Offset)
	b, err := New(&il.Method{Name: "M", Body: &il.Body{Instrs: rs}})
	if err != nil {
		t.Fatalf("failed to build: %s", err)
	}
	got, err := b.GetCode()
	if err != nil {
		t.Fatalf("GetCode()=%v", err)
	}
	if len(got.Instrs) != len(rs) {
		t.Fatalf("got %d instructions, want %d", len(got.Instrs), len(rs))
	}
	r := got.Instrs[1]
	if r.Op != il.Brtrue || r.Operand != il.Target(208) {
		t.Errorf("got %s, want brtrue IL_00d0", r)
	}
	if n := got.CodeSize(); n != 210 {
		t.Errorf("got code size %d, want 210", n)
	}
}

func TestGetCodeRebuildsHandlers(t *testing.T) {
	b := newBlocks(t, `.method 0x06000001 "M"
	Try:
		leave.s End
		nop
	Catch:
		pop
		leave.s End
	End:
		ret
	.try Try Catch catch 0x01000001 Catch End
	.end`)
	if n := b.RemoveDeadBlocks(); n != 1 {
		t.Errorf("RemoveDeadBlocks()=%d, want 1", n)
	}
	got, err := b.GetCode()
	if err != nil {
		t.Fatalf("GetCode()=%v", err)
	}
	want := &il.Body{
		Instrs: []*il.Instruction{
			{Op: il.LeaveS, Operand: il.Target(5), Offset: 0},
			{Op: il.Pop, Offset: 2},
			{Op: il.LeaveS, Operand: il.Target(5), Offset: 3},
			{Op: il.Ret, Offset: 5},
		},
		Handlers: []*il.ExceptionHandler{{
			Kind:         il.Catch,
			TryStart:     0,
			TryEnd:       2,
			HandlerStart: 2,
			HandlerEnd:   5,
			CatchType:    0x01000001,
		}},
	}
	if diff := cmp.Diff(want, got, diffOpts...); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestGetCodeBranchToEnd(t *testing.T) {
	b := newBlocks(t, `.method 0x06000001 "M"
		ldarg.0
		brtrue.s E
		ldc.i4.0
		ret
	E:	ret
	.end`)
	b.MethodBlocks().Block(2).Instrs = nil
	_, err := b.GetCode()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("got %v, want %v", err, ErrCorrupt)
	}
}

func TestGetCodeDanglingEdge(t *testing.T) {
	b := newBlocks(t, `.method 0x06000001 "M"
		ldarg.0
		brtrue.s E
		ldc.i4.0
		ret
	E:	ret
	.end`)
	b.MethodBlocks().Block(0).Targets[0] = 42
	_, err := b.GetCode()
	var merr *MethodError
	if !errors.Is(err, ErrCorrupt) || !errors.As(err, &merr) {
		t.Errorf("got %v, want a *MethodError wrapping %v", err, ErrCorrupt)
	}
}
