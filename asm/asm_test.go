package asm

import (
	"errors"
	"strings"
	"testing"

	"github.com/eaburns/ilgraph/il"
	"github.com/google/go-cmp/cmp"
)

var diffOpts = []cmp.Option{
	cmp.Comparer(func(a, b *il.OpCode) bool { return a == b }),
	cmp.FilterPath(isLoc, cmp.Ignore()),
}

func isLoc(path cmp.Path) bool {
	for _, s := range path {
		if s.String() == ".L" {
			return true
		}
	}
	return false
}

const tryFinally = `
.format "1.0"

; a try/finally and a switch
.method 0x06000001 "Ns.C::M(int32)"
.locals a b V_2
IL_0000: ldarg.0
IL_0001: switch (IL_0010, IL_0012)
IL_000e: br.s IL_0014
IL_0010: ldc.i4.1
IL_0011: stloc.0
IL_0012: ldloc.s a
IL_0014: stloc b
IL_0018: leave.s IL_001d
IL_001a: ldloca.s V_2
IL_001c: endfinally
IL_001d: ret
.try IL_0010 IL_001a finally IL_001a IL_001d
.end
`

func TestParse(t *testing.T) {
	f, err := Parse("test.il", strings.NewReader(tryFinally))
	if err != nil {
		t.Fatalf("failed to parse: %s", err)
	}
	a := &il.Local{Index: 0, Name: "a"}
	b := &il.Local{Index: 1, Name: "b"}
	v2 := &il.Local{Index: 2}
	want := []*il.Method{{
		Token: 0x06000001,
		Name:  "Ns.C::M(int32)",
		Body: &il.Body{
			Locals: []*il.Local{a, b, v2},
			Instrs: []*il.Instruction{
				{Op: il.Ldarg0, Offset: 0x00},
				{Op: il.SwitchOp, Operand: il.Targets{0x10, 0x12}, Offset: 0x01},
				{Op: il.BrS, Operand: il.Target(0x14), Offset: 0x0e},
				{Op: il.LdcI41, Offset: 0x10},
				{Op: il.Stloc0, Offset: 0x11},
				{Op: il.LdlocS, Operand: a, Offset: 0x12},
				{Op: il.Stloc, Operand: b, Offset: 0x14},
				{Op: il.LeaveS, Operand: il.Target(0x1d), Offset: 0x18},
				{Op: il.LdlocaS, Operand: v2, Offset: 0x1a},
				{Op: il.Endfinally, Offset: 0x1c},
				{Op: il.Ret, Offset: 0x1d},
			},
			Handlers: []*il.ExceptionHandler{{
				Kind:         il.Finally,
				TryStart:     0x10,
				TryEnd:       0x1a,
				HandlerStart: 0x1a,
				HandlerEnd:   0x1d,
			}},
		},
	}}
	if diff := cmp.Diff(want, f.Methods, diffOpts...); diff != "" {
		t.Error(diff)
	}
	if got := f.Location(f.Methods[0].L).Line; got != [2]int{5, 19} {
		t.Errorf("got method lines %v, want [5 19]", got)
	}
}

func TestRoundTrip(t *testing.T) {
	srcs := []string{
		tryFinally,
		`.method 0x06000002 "Filter"
		L0: nop
		leave L3
		L1: pop
		ldc.i4.1
		endfilter
		L2: pop
		leave L3
		L3: ret
		.try L0 L1 filter L1 L2 L3
		.end`,
		`.method 0x06000003 "CatchAtEnd"
		L0: ldc.i8 -9000000000
		ldc.r8 1.5
		ldstr 0x70000010
		leave.s L2
		L1: pop
		leave.s L2
		L2: ret
		L3: ldnull
		throw
		L4:
		.try L0 L1 catch 0x01000004 L1 L2
		.try L0 L1 fault L3 L4
		.end`,
	}
	for _, src := range srcs {
		first, err := Parse("first.il", strings.NewReader(src))
		if err != nil {
			t.Fatalf("failed to parse: %s\n%s", err, src)
		}
		var s strings.Builder
		if err := Write(&s, first.Methods); err != nil {
			t.Fatalf("failed to write: %s", err)
		}
		second, err := Parse("second.il", strings.NewReader(s.String()))
		if err != nil {
			t.Fatalf("failed to parse written listing: %s\n%s", err, s.String())
		}
		if diff := cmp.Diff(first.Methods, second.Methods, diffOpts...); diff != "" {
			t.Errorf("%s\n%s", s.String(), diff)
		}
	}
}

func TestWriteFilter(t *testing.T) {
	m := &il.Method{
		Token: 0x06000009,
		Name:  "F",
		Body: &il.Body{
			Instrs: []*il.Instruction{
				{Op: il.LeaveS, Operand: il.Target(6), Offset: 0},
				{Op: il.Pop, Offset: 2},
				{Op: il.LdcI41, Offset: 3},
				{Op: il.Endfilter, Offset: 4},
			},
			Handlers: []*il.ExceptionHandler{{
				Kind:         il.Filter,
				TryStart:     0,
				TryEnd:       2,
				FilterStart:  2,
				HandlerStart: 6,
				HandlerEnd:   6,
			}},
		},
	}
	want := `.method 0x06000009 "F"
IL_0000: leave.s IL_0006
IL_0002: pop
IL_0003: ldc.i4.1
IL_0004: endfilter
IL_0006:
.try IL_0000 IL_0002 filter IL_0002 IL_0006 IL_0006
.end
`
	if got := String(m); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		// want is the error text for semantic errors;
		// syntax errors are only checked to wrap ErrFormat.
		want string
	}{
		{name: "no method", src: "ret\n"},
		{name: "no end", src: ".method 0x06000001 \"M\"\nret\n"},
		{name: "bad token", src: ".method xyz \"M\"\n.end\n"},
		{name: "unterminated switch", src: ".method 1 \"M\"\nswitch (L0\n.end\n"},
		{name: "bad try kind", src: ".method 1 \"M\"\nL0: ret\n.try L0 L0 except L0 L0\n.end\n"},
		{name: "trailing junk", src: ".method 1 \"M\"\nret 5\n.end\n"},
		{
			name: "unknown opcode",
			src:  ".method 1 \"M\"\nfrob\n.end\n",
			want: "test.il:2.1-2.5: unknown opcode frob",
		},
		{
			name: "undefined label",
			src:  ".method 1 \"M\"\nbr L9\n.end\n",
			want: "test.il:2.4-2.6: label L9: not found",
		},
		{
			name: "undefined local",
			src:  ".method 1 \"M\"\n.locals a\nldloc.s b\n.end\n",
			want: "test.il:3.9-3.10: local b: not found",
		},
		{
			name: "redefined label",
			src:  ".method 1 \"M\"\nL: nop\nL: ret\n.end\n",
			want: "test.il:3.1-3.2: label L redefined",
		},
		{
			name: "unsupported format",
			src:  ".format \"2.1\"\n",
			want: "test.il:1.9-1.14: unsupported format version 2.1.0, want >= 1.0, < 2.0",
		},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse("test.il", strings.NewReader(test.src))
			if err == nil {
				t.Fatalf("got no error, want error")
			}
			if !errors.Is(err, ErrFormat) {
				t.Errorf("got %v, want an ErrFormat", err)
			}
			if test.want != "" && err.Error() != test.want {
				t.Errorf("got %q, want %q", err.Error(), test.want)
			}
		})
	}
}
