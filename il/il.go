// Package il is the instruction model of method bodies:
// opcodes, operands, local variable slots, and exception handlers.
package il

import (
	"fmt"
	"strings"

	"github.com/eaburns/ilgraph/loc"
)

// A Method is a method body together with its identity.
type Method struct {
	// Token is the method's metadata token.
	Token Token
	// Name is the fully qualified method name.
	Name string
	Body *Body
	L    loc.Loc
}

func (m *Method) Loc() loc.Loc { return m.L }

// A Body is a flat instruction list with its exception handler table
// and declared local variable slots.
type Body struct {
	Instrs   []*Instruction
	Handlers []*ExceptionHandler
	Locals   []*Local
}

// CodeSize returns the size in bytes of the body's instructions.
func (b *Body) CodeSize() int {
	var n int
	for _, r := range b.Instrs {
		n += r.Size()
	}
	return n
}

// An Instruction is one operation of a method body.
type Instruction struct {
	Op      *OpCode
	Operand Operand
	// Offset is the byte offset of the instruction in its body.
	Offset int
}

// Size returns the encoded size of the instruction in bytes.
func (r *Instruction) Size() int {
	n := r.Op.Size() + r.Op.Operand.size()
	if ts, ok := r.Operand.(Targets); ok {
		n += 4 * len(ts)
	}
	return n
}

// ComputeOffsets sets the Offset of each instruction
// and returns the total code size.
func ComputeOffsets(instrs []*Instruction) int {
	var offs int
	for _, r := range instrs {
		r.Offset = offs
		offs += r.Size()
	}
	return offs
}

// FitsShort returns whether a branch instruction at offset from
// with encoded size size can reach to with a 1-byte displacement.
func FitsShort(from, size, to int) bool {
	d := to - (from + size)
	return d >= -128 && d <= 127
}

// An Operand is the inline operand of an instruction.
// A nil Operand means no operand.
type Operand interface {
	isOperand()
}

// Int is an immediate integer operand;
// it is also the argument number of ldarg-like instructions.
type Int int64

// Float is an immediate floating point operand.
type Float float64

// Token is a metadata token operand.
type Token uint32

// Target is the byte offset of a branch target.
type Target int

// Targets are the byte offsets of the targets of a switch.
type Targets []int

func (Int) isOperand()     {}
func (Float) isOperand()   {}
func (Token) isOperand()   {}
func (*Local) isOperand()  {}
func (Target) isOperand()  {}
func (Targets) isOperand() {}

// A Local is a local variable slot.
// Slots are compared by identity; Index may be reassigned.
type Local struct {
	Index int
	Name  string
}

func (l *Local) String() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("V_%d", l.Index)
}

// LocalOf returns the local variable slot referenced by r,
// or nil if r does not reference a slot
// or references a slot index outside of locals.
func LocalOf(locals []*Local, r *Instruction) *Local {
	switch r.Op.Category() {
	case LocalLoad, LocalStore, LocalLoadAddr:
	default:
		return nil
	}
	if l, ok := r.Operand.(*Local); ok {
		return l
	}
	if r.Op.Macro < 0 || r.Op.Macro >= len(locals) {
		return nil
	}
	return locals[r.Op.Macro]
}

// HandlerKind is the kind of an exception handler clause.
type HandlerKind int

const (
	Catch HandlerKind = iota
	Filter
	Finally
	Fault
)

func (k HandlerKind) String() string {
	switch k {
	case Catch:
		return "catch"
	case Filter:
		return "filter"
	case Finally:
		return "finally"
	case Fault:
		return "fault"
	default:
		panic(fmt.Sprintf("impossible handler kind: %d", int(k)))
	}
}

// An ExceptionHandler is one clause of the exception handler table.
// Ranges are byte offsets [start, end).
type ExceptionHandler struct {
	Kind         HandlerKind
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	// FilterStart is the start of the filter expression of a Filter clause;
	// the filter ends at HandlerStart.
	FilterStart int
	// CatchType is the caught type of a Catch clause.
	CatchType Token
}

func (r *Instruction) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "IL_%04x: %s", r.Offset, r.Op.Name)
	if r.Operand != nil {
		s.WriteRune(' ')
		s.WriteString(OperandString(r.Operand))
	}
	return s.String()
}

// OperandString returns the listing text of an operand.
func OperandString(o Operand) string {
	switch o := o.(type) {
	case nil:
		return ""
	case Int:
		return fmt.Sprintf("%d", int64(o))
	case Float:
		return fmt.Sprintf("%g", float64(o))
	case Token:
		return fmt.Sprintf("0x%08X", uint32(o))
	case *Local:
		return o.String()
	case Target:
		return Label(int(o))
	case Targets:
		var s strings.Builder
		s.WriteRune('(')
		for i, t := range o {
			if i > 0 {
				s.WriteString(", ")
			}
			s.WriteString(Label(t))
		}
		s.WriteRune(')')
		return s.String()
	default:
		panic(fmt.Sprintf("impossible operand type: %T", o))
	}
}

// Label returns the conventional label of a byte offset.
func Label(offs int) string { return fmt.Sprintf("IL_%04x", offs) }
