// Package interp evaluates method bodies on an integer stack machine.
//
// Every stack slot, argument, and local is an int64.
// Only the instructions needed to exercise control flow are supported:
// constants, arguments and locals, arithmetic, comparisons,
// branches, switch, leave, endfinally, throw, and ret.
// Finally handlers run when a leave exits their try region.
// A throw is caught by the innermost enclosing catch handler,
// regardless of its catch type; finally handlers do not run
// on the exceptional path.
package interp

import (
	"errors"
	"fmt"
	"io"

	"github.com/eaburns/ilgraph/il"
)

// ErrSteps is returned when an evaluation exceeds its step limit.
var ErrSteps = errors.New("step limit exceeded")

// An Exception is an unhandled throw.
type Exception struct {
	Value int64
}

func (err *Exception) Error() string { return fmt.Sprintf("unhandled exception %d", err.Value) }

type Interp struct {
	// Trace, if non-nil, receives one line per evaluated instruction.
	Trace io.Writer
	// MaxSteps is the maximum number of instructions evaluated
	// by a single call to Eval.
	MaxSteps int
}

// New returns a new Interp.
func New() *Interp { return &Interp{MaxSteps: 1 << 20} }

type frame struct {
	body   *il.Body
	index  map[int]int
	slots  map[*il.Local]int
	args   []int64
	locals []int64
	stack  []int64
	pc     int
	// leaves are the pending destinations of leave instructions
	// that are running finally handlers.
	// The last destination of each is the leave target.
	leaves [][]int
}

// Eval evaluates a method with the given arguments
// and returns the value on top of the stack at ret, or 0 if it is empty.
func (interp *Interp) Eval(m *il.Method, args ...int64) (int64, error) {
	f := &frame{
		body:   m.Body,
		index:  make(map[int]int, len(m.Body.Instrs)),
		slots:  make(map[*il.Local]int, len(m.Body.Locals)),
		args:   append([]int64{}, args...),
		locals: make([]int64, len(m.Body.Locals)),
	}
	for i, r := range m.Body.Instrs {
		f.index[r.Offset] = i
	}
	for i, l := range m.Body.Locals {
		f.slots[l] = i
	}
	for n := 0; ; n++ {
		if interp.MaxSteps > 0 && n >= interp.MaxSteps {
			return 0, fmt.Errorf("%s: %w", m.Name, ErrSteps)
		}
		if f.pc < 0 || f.pc >= len(f.body.Instrs) {
			return 0, fmt.Errorf("%s: fell off the end of the code", m.Name)
		}
		r := f.body.Instrs[f.pc]
		if interp.Trace != nil {
			fmt.Fprintf(interp.Trace, "%s\t%v\n", r, f.stack)
		}
		done, err := f.step(r)
		if err != nil {
			return 0, fmt.Errorf("%s: %s: %w", m.Name, il.Label(r.Offset), err)
		}
		if done {
			if len(f.stack) == 0 {
				return 0, nil
			}
			return f.stack[len(f.stack)-1], nil
		}
	}
}

func (f *frame) push(v int64) { f.stack = append(f.stack, v) }

func (f *frame) pop() (int64, error) {
	if len(f.stack) == 0 {
		return 0, errors.New("stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) pop2() (int64, int64, error) {
	y, err := f.pop()
	if err != nil {
		return 0, 0, err
	}
	x, err := f.pop()
	return x, y, err
}

func (f *frame) jump(offs int) error {
	i, ok := f.index[offs]
	if !ok {
		return fmt.Errorf("jump to %s: not an instruction", il.Label(offs))
	}
	f.pc = i
	return nil
}

func (f *frame) slot(r *il.Instruction) (int, error) {
	l := il.LocalOf(f.body.Locals, r)
	if l == nil {
		return 0, fmt.Errorf("%s: no such local", r.Op)
	}
	i, ok := f.slots[l]
	if !ok {
		return 0, fmt.Errorf("%s: undeclared local %s", r.Op, l)
	}
	return i, nil
}

func (f *frame) arg(r *il.Instruction) (int, error) {
	i := r.Op.Macro
	if n, ok := r.Operand.(il.Int); ok {
		i = int(n)
	}
	if i < 0 || i >= len(f.args) {
		return 0, fmt.Errorf("%s: no argument %d", r.Op, i)
	}
	return i, nil
}

// step evaluates one instruction and returns whether it returned.
func (f *frame) step(r *il.Instruction) (bool, error) {
	next := f.pc + 1
	op := r.Op.Long()
	switch {
	case op.Category() == il.NoOp:
	case op == il.Ldarg0 || op == il.Ldarg1 || op == il.Ldarg2 || op == il.Ldarg3 ||
		op == il.LdargS || op == il.Ldarg:
		i, err := f.arg(r)
		if err != nil {
			return false, err
		}
		f.push(f.args[i])
	case op == il.StargS || op == il.Starg:
		i, err := f.arg(r)
		if err != nil {
			return false, err
		}
		v, err := f.pop()
		if err != nil {
			return false, err
		}
		f.args[i] = v
	case op.Category() == il.LocalLoad:
		i, err := f.slot(r)
		if err != nil {
			return false, err
		}
		f.push(f.locals[i])
	case op.Category() == il.LocalStore:
		i, err := f.slot(r)
		if err != nil {
			return false, err
		}
		v, err := f.pop()
		if err != nil {
			return false, err
		}
		f.locals[i] = v
	case op == il.LdcI4M1:
		f.push(-1)
	case op == il.LdcI40 || op == il.LdcI41 || op == il.LdcI42 || op == il.LdcI43 || op == il.LdcI44 ||
		op == il.LdcI45 || op == il.LdcI46 || op == il.LdcI47 || op == il.LdcI48:
		f.push(int64(op.Value - il.LdcI40.Value))
	case op == il.LdcI4S || op == il.LdcI4 || op == il.LdcI8:
		n, ok := r.Operand.(il.Int)
		if !ok {
			return false, fmt.Errorf("%s: bad operand", r.Op)
		}
		f.push(int64(n))
	case op == il.Dup:
		v, err := f.pop()
		if err != nil {
			return false, err
		}
		f.push(v)
		f.push(v)
	case op == il.Pop:
		if _, err := f.pop(); err != nil {
			return false, err
		}
	case op == il.Neg || op == il.Not:
		v, err := f.pop()
		if err != nil {
			return false, err
		}
		if op == il.Neg {
			f.push(-v)
		} else {
			f.push(^v)
		}
	case binary[op] != nil:
		x, y, err := f.pop2()
		if err != nil {
			return false, err
		}
		v, err := binary[op](x, y)
		if err != nil {
			return false, err
		}
		f.push(v)
	case op == il.Brtrue || op == il.Brfalse:
		v, err := f.pop()
		if err != nil {
			return false, err
		}
		if (v != 0) == (op == il.Brtrue) {
			return false, f.jump(target(r))
		}
	case compare[op] != nil:
		x, y, err := f.pop2()
		if err != nil {
			return false, err
		}
		if compare[op](x, y) {
			return false, f.jump(target(r))
		}
	case op == il.Br:
		return false, f.jump(target(r))
	case op == il.SwitchOp:
		v, err := f.pop()
		if err != nil {
			return false, err
		}
		ts, _ := r.Operand.(il.Targets)
		if v >= 0 && v < int64(len(ts)) {
			return false, f.jump(ts[v])
		}
	case op == il.Leave:
		return false, f.leave(r.Offset, target(r))
	case op == il.Endfinally:
		if len(f.leaves) == 0 {
			return false, errors.New("endfinally outside of a leave")
		}
		dests := f.leaves[len(f.leaves)-1]
		f.leaves = f.leaves[:len(f.leaves)-1]
		return false, f.goLeave(dests)
	case op == il.ThrowOp:
		v, err := f.pop()
		if err != nil {
			return false, err
		}
		return false, f.throw(r.Offset, v)
	case op == il.Ret:
		return true, nil
	default:
		return false, fmt.Errorf("unsupported instruction %s", r.Op)
	}
	f.pc = next
	return false, nil
}

func target(r *il.Instruction) int {
	t, _ := r.Operand.(il.Target)
	return int(t)
}

// leave empties the stack and jumps to the leave target,
// first running the finally handlers of the try regions it exits,
// innermost first.
func (f *frame) leave(from, to int) error {
	f.stack = f.stack[:0]
	var dests []int
	for _, h := range f.body.Handlers {
		if h.Kind == il.Finally && in(from, h.TryStart, h.TryEnd) && !in(to, h.TryStart, h.TryEnd) {
			dests = append(dests, h.HandlerStart)
		}
	}
	return f.goLeave(append(dests, to))
}

func (f *frame) goLeave(dests []int) error {
	if len(dests) > 1 {
		f.leaves = append(f.leaves, dests[1:])
	}
	return f.jump(dests[0])
}

func (f *frame) throw(from int, v int64) error {
	for _, h := range f.body.Handlers {
		if h.Kind == il.Catch && in(from, h.TryStart, h.TryEnd) {
			f.stack = append(f.stack[:0], v)
			return f.jump(h.HandlerStart)
		}
	}
	return &Exception{Value: v}
}

func in(offs, start, end int) bool { return start <= offs && offs < end }

var binary = map[*il.OpCode]func(x, y int64) (int64, error){
	il.Add: func(x, y int64) (int64, error) { return x + y, nil },
	il.Sub: func(x, y int64) (int64, error) { return x - y, nil },
	il.Mul: func(x, y int64) (int64, error) { return x * y, nil },
	il.Div: func(x, y int64) (int64, error) {
		if y == 0 {
			return 0, errors.New("division by zero")
		}
		return x / y, nil
	},
	il.Rem: func(x, y int64) (int64, error) {
		if y == 0 {
			return 0, errors.New("division by zero")
		}
		return x % y, nil
	},
	il.And: func(x, y int64) (int64, error) { return x & y, nil },
	il.Or:  func(x, y int64) (int64, error) { return x | y, nil },
	il.Xor: func(x, y int64) (int64, error) { return x ^ y, nil },
	il.Shl: func(x, y int64) (int64, error) { return x << uint(y), nil },
	il.Shr: func(x, y int64) (int64, error) { return x >> uint(y), nil },
	il.Ceq: func(x, y int64) (int64, error) { return b2i(x == y), nil },
	il.Cgt: func(x, y int64) (int64, error) { return b2i(x > y), nil },
	il.Clt: func(x, y int64) (int64, error) { return b2i(x < y), nil },
}

var compare = map[*il.OpCode]func(x, y int64) bool{
	il.Beq:   func(x, y int64) bool { return x == y },
	il.BneUn: func(x, y int64) bool { return x != y },
	il.Bge:   func(x, y int64) bool { return x >= y },
	il.Bgt:   func(x, y int64) bool { return x > y },
	il.Ble:   func(x, y int64) bool { return x <= y },
	il.Blt:   func(x, y int64) bool { return x < y },
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
