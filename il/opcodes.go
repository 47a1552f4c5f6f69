package il

import (
	"fmt"
	"strings"
)

// OperandKind is the encoding of an opcode's inline operand.
type OperandKind int

const (
	InlineNone OperandKind = iota
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	// ShortInlineVar and InlineVar reference a local variable slot.
	ShortInlineVar
	InlineVar
	// ShortInlineArg and InlineArg reference an argument by number.
	ShortInlineArg
	InlineArg
	ShortInlineBrTarget
	InlineBrTarget
	InlineSwitch
	InlineTok
)

func (k OperandKind) size() int {
	switch k {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineVar, ShortInlineArg, ShortInlineBrTarget:
		return 1
	case InlineVar, InlineArg:
		return 2
	case InlineI, ShortInlineR, InlineBrTarget, InlineTok:
		return 4
	case InlineI8, InlineR:
		return 8
	case InlineSwitch:
		// The case count; the table itself depends on the operand.
		return 4
	default:
		panic(fmt.Sprintf("impossible operand kind: %d", k))
	}
}

// FlowKind is how control leaves an instruction.
type FlowKind int

const (
	Next FlowKind = iota
	Branch
	CondBranch
	Return
	Throw
)

// Category is the role an instruction plays for the flow graph.
type Category int

const (
	Other Category = iota
	LocalLoad
	LocalLoadAddr
	LocalStore
	UncondBranch
	Conditional
	Switch
	Terminal
	NoOp
)

func (c Category) String() string {
	switch c {
	case Other:
		return "other"
	case LocalLoad:
		return "local-load"
	case LocalLoadAddr:
		return "local-load-address"
	case LocalStore:
		return "local-store"
	case UncondBranch:
		return "branch"
	case Conditional:
		return "conditional-branch"
	case Switch:
		return "switch"
	case Terminal:
		return "terminal"
	case NoOp:
		return "nop"
	default:
		panic(fmt.Sprintf("impossible category: %d", int(c)))
	}
}

// An OpCode describes one instruction of the instruction set.
type OpCode struct {
	Name    string
	Value   uint16
	Operand OperandKind
	Flow    FlowKind
	// Macro is the implicit variable index of
	// ldarg.N, ldloc.N, and stloc.N; otherwise -1.
	Macro int

	cat   Category
	other *OpCode
}

func (op *OpCode) String() string { return op.Name }

// Size returns the number of bytes of the opcode itself.
func (op *OpCode) Size() int {
	if op.Value > 0xFF {
		return 2
	}
	return 1
}

// Category returns the flow graph category of the opcode.
func (op *OpCode) Category() Category { return op.cat }

// IsBranch returns whether the opcode has a branch target operand.
func (op *OpCode) IsBranch() bool {
	return op.Operand == ShortInlineBrTarget || op.Operand == InlineBrTarget
}

// EndsBlock returns whether an instruction with this opcode
// must be the last instruction of a basic block.
func (op *OpCode) EndsBlock() bool {
	switch op.cat {
	case UncondBranch, Conditional, Switch, Terminal:
		return true
	}
	return false
}

// Short returns the 1-byte displacement form of a branch opcode.
// Non-branch and already-short opcodes are returned unchanged.
func (op *OpCode) Short() *OpCode {
	if op.Operand == InlineBrTarget && op.other != nil {
		return op.other
	}
	return op
}

// Long returns the 4-byte displacement form of a branch opcode.
// Non-branch and already-long opcodes are returned unchanged.
func (op *OpCode) Long() *OpCode {
	if op.Operand == ShortInlineBrTarget && op.other != nil {
		return op.other
	}
	return op
}

var byName = make(map[string]*OpCode)

// Lookup returns the opcode with the given name, or nil.
func Lookup(name string) *OpCode { return byName[name] }

// OpCodes returns all opcodes in table order.
func OpCodes() []*OpCode { return append([]*OpCode{}, table...) }

var table []*OpCode

func op(name string, value uint16, operand OperandKind, flow FlowKind) *OpCode {
	o := &OpCode{Name: name, Value: value, Operand: operand, Flow: flow, Macro: -1}
	table = append(table, o)
	return o
}

var (
	Nop        = op("nop", 0x00, InlineNone, Next)
	Break      = op("break", 0x01, InlineNone, Next)
	Ldarg0     = op("ldarg.0", 0x02, InlineNone, Next)
	Ldarg1     = op("ldarg.1", 0x03, InlineNone, Next)
	Ldarg2     = op("ldarg.2", 0x04, InlineNone, Next)
	Ldarg3     = op("ldarg.3", 0x05, InlineNone, Next)
	Ldloc0     = op("ldloc.0", 0x06, InlineNone, Next)
	Ldloc1     = op("ldloc.1", 0x07, InlineNone, Next)
	Ldloc2     = op("ldloc.2", 0x08, InlineNone, Next)
	Ldloc3     = op("ldloc.3", 0x09, InlineNone, Next)
	Stloc0     = op("stloc.0", 0x0A, InlineNone, Next)
	Stloc1     = op("stloc.1", 0x0B, InlineNone, Next)
	Stloc2     = op("stloc.2", 0x0C, InlineNone, Next)
	Stloc3     = op("stloc.3", 0x0D, InlineNone, Next)
	LdargS     = op("ldarg.s", 0x0E, ShortInlineArg, Next)
	LdargaS    = op("ldarga.s", 0x0F, ShortInlineArg, Next)
	StargS     = op("starg.s", 0x10, ShortInlineArg, Next)
	LdlocS     = op("ldloc.s", 0x11, ShortInlineVar, Next)
	LdlocaS    = op("ldloca.s", 0x12, ShortInlineVar, Next)
	StlocS     = op("stloc.s", 0x13, ShortInlineVar, Next)
	Ldnull     = op("ldnull", 0x14, InlineNone, Next)
	LdcI4M1    = op("ldc.i4.m1", 0x15, InlineNone, Next)
	LdcI40     = op("ldc.i4.0", 0x16, InlineNone, Next)
	LdcI41     = op("ldc.i4.1", 0x17, InlineNone, Next)
	LdcI42     = op("ldc.i4.2", 0x18, InlineNone, Next)
	LdcI43     = op("ldc.i4.3", 0x19, InlineNone, Next)
	LdcI44     = op("ldc.i4.4", 0x1A, InlineNone, Next)
	LdcI45     = op("ldc.i4.5", 0x1B, InlineNone, Next)
	LdcI46     = op("ldc.i4.6", 0x1C, InlineNone, Next)
	LdcI47     = op("ldc.i4.7", 0x1D, InlineNone, Next)
	LdcI48     = op("ldc.i4.8", 0x1E, InlineNone, Next)
	LdcI4S     = op("ldc.i4.s", 0x1F, ShortInlineI, Next)
	LdcI4      = op("ldc.i4", 0x20, InlineI, Next)
	LdcI8      = op("ldc.i8", 0x21, InlineI8, Next)
	LdcR4      = op("ldc.r4", 0x22, ShortInlineR, Next)
	LdcR8      = op("ldc.r8", 0x23, InlineR, Next)
	Dup        = op("dup", 0x25, InlineNone, Next)
	Pop        = op("pop", 0x26, InlineNone, Next)
	Jmp        = op("jmp", 0x27, InlineTok, Return)
	Call       = op("call", 0x28, InlineTok, Next)
	Calli      = op("calli", 0x29, InlineTok, Next)
	Ret        = op("ret", 0x2A, InlineNone, Return)
	BrS        = op("br.s", 0x2B, ShortInlineBrTarget, Branch)
	BrfalseS   = op("brfalse.s", 0x2C, ShortInlineBrTarget, CondBranch)
	BrtrueS    = op("brtrue.s", 0x2D, ShortInlineBrTarget, CondBranch)
	BeqS       = op("beq.s", 0x2E, ShortInlineBrTarget, CondBranch)
	BgeS       = op("bge.s", 0x2F, ShortInlineBrTarget, CondBranch)
	BgtS       = op("bgt.s", 0x30, ShortInlineBrTarget, CondBranch)
	BleS       = op("ble.s", 0x31, ShortInlineBrTarget, CondBranch)
	BltS       = op("blt.s", 0x32, ShortInlineBrTarget, CondBranch)
	BneUnS     = op("bne.un.s", 0x33, ShortInlineBrTarget, CondBranch)
	BgeUnS     = op("bge.un.s", 0x34, ShortInlineBrTarget, CondBranch)
	BgtUnS     = op("bgt.un.s", 0x35, ShortInlineBrTarget, CondBranch)
	BleUnS     = op("ble.un.s", 0x36, ShortInlineBrTarget, CondBranch)
	BltUnS     = op("blt.un.s", 0x37, ShortInlineBrTarget, CondBranch)
	Br         = op("br", 0x38, InlineBrTarget, Branch)
	Brfalse    = op("brfalse", 0x39, InlineBrTarget, CondBranch)
	Brtrue     = op("brtrue", 0x3A, InlineBrTarget, CondBranch)
	Beq        = op("beq", 0x3B, InlineBrTarget, CondBranch)
	Bge        = op("bge", 0x3C, InlineBrTarget, CondBranch)
	Bgt        = op("bgt", 0x3D, InlineBrTarget, CondBranch)
	Ble        = op("ble", 0x3E, InlineBrTarget, CondBranch)
	Blt        = op("blt", 0x3F, InlineBrTarget, CondBranch)
	BneUn      = op("bne.un", 0x40, InlineBrTarget, CondBranch)
	BgeUn      = op("bge.un", 0x41, InlineBrTarget, CondBranch)
	BgtUn      = op("bgt.un", 0x42, InlineBrTarget, CondBranch)
	BleUn      = op("ble.un", 0x43, InlineBrTarget, CondBranch)
	BltUn      = op("blt.un", 0x44, InlineBrTarget, CondBranch)
	SwitchOp   = op("switch", 0x45, InlineSwitch, CondBranch)
	Add        = op("add", 0x58, InlineNone, Next)
	Sub        = op("sub", 0x59, InlineNone, Next)
	Mul        = op("mul", 0x5A, InlineNone, Next)
	Div        = op("div", 0x5B, InlineNone, Next)
	DivUn      = op("div.un", 0x5C, InlineNone, Next)
	Rem        = op("rem", 0x5D, InlineNone, Next)
	RemUn      = op("rem.un", 0x5E, InlineNone, Next)
	And        = op("and", 0x5F, InlineNone, Next)
	Or         = op("or", 0x60, InlineNone, Next)
	Xor        = op("xor", 0x61, InlineNone, Next)
	Shl        = op("shl", 0x62, InlineNone, Next)
	Shr        = op("shr", 0x63, InlineNone, Next)
	ShrUn      = op("shr.un", 0x64, InlineNone, Next)
	Neg        = op("neg", 0x65, InlineNone, Next)
	Not        = op("not", 0x66, InlineNone, Next)
	ConvI1     = op("conv.i1", 0x67, InlineNone, Next)
	ConvI2     = op("conv.i2", 0x68, InlineNone, Next)
	ConvI4     = op("conv.i4", 0x69, InlineNone, Next)
	ConvI8     = op("conv.i8", 0x6A, InlineNone, Next)
	Callvirt   = op("callvirt", 0x6F, InlineTok, Next)
	Ldobj      = op("ldobj", 0x71, InlineTok, Next)
	Ldstr      = op("ldstr", 0x72, InlineTok, Next)
	Newobj     = op("newobj", 0x73, InlineTok, Next)
	Castclass  = op("castclass", 0x74, InlineTok, Next)
	Isinst     = op("isinst", 0x75, InlineTok, Next)
	ThrowOp    = op("throw", 0x7A, InlineNone, Throw)
	Ldfld      = op("ldfld", 0x7B, InlineTok, Next)
	Ldflda     = op("ldflda", 0x7C, InlineTok, Next)
	Stfld      = op("stfld", 0x7D, InlineTok, Next)
	Ldsfld     = op("ldsfld", 0x7E, InlineTok, Next)
	Ldsflda    = op("ldsflda", 0x7F, InlineTok, Next)
	Stsfld     = op("stsfld", 0x80, InlineTok, Next)
	Box        = op("box", 0x8C, InlineTok, Next)
	Newarr     = op("newarr", 0x8D, InlineTok, Next)
	Ldlen      = op("ldlen", 0x8E, InlineNone, Next)
	LdelemI4   = op("ldelem.i4", 0x94, InlineNone, Next)
	LdelemRef  = op("ldelem.ref", 0x9A, InlineNone, Next)
	StelemI4   = op("stelem.i4", 0x9E, InlineNone, Next)
	StelemRef  = op("stelem.ref", 0xA2, InlineNone, Next)
	UnboxAny   = op("unbox.any", 0xA5, InlineTok, Next)
	Ldtoken    = op("ldtoken", 0xD0, InlineTok, Next)
	Endfinally = op("endfinally", 0xDC, InlineNone, Return)
	Leave      = op("leave", 0xDD, InlineBrTarget, Branch)
	LeaveS     = op("leave.s", 0xDE, ShortInlineBrTarget, Branch)
	ConvU      = op("conv.u", 0xE0, InlineNone, Next)
	Arglist    = op("arglist", 0xFE00, InlineNone, Next)
	Ceq        = op("ceq", 0xFE01, InlineNone, Next)
	Cgt        = op("cgt", 0xFE02, InlineNone, Next)
	CgtUn      = op("cgt.un", 0xFE03, InlineNone, Next)
	Clt        = op("clt", 0xFE04, InlineNone, Next)
	CltUn      = op("clt.un", 0xFE05, InlineNone, Next)
	Ldftn      = op("ldftn", 0xFE06, InlineTok, Next)
	Ldvirtftn  = op("ldvirtftn", 0xFE07, InlineTok, Next)
	Ldarg      = op("ldarg", 0xFE09, InlineArg, Next)
	Ldarga     = op("ldarga", 0xFE0A, InlineArg, Next)
	Starg      = op("starg", 0xFE0B, InlineArg, Next)
	Ldloc      = op("ldloc", 0xFE0C, InlineVar, Next)
	Ldloca     = op("ldloca", 0xFE0D, InlineVar, Next)
	Stloc      = op("stloc", 0xFE0E, InlineVar, Next)
	Localloc   = op("localloc", 0xFE0F, InlineNone, Next)
	Endfilter  = op("endfilter", 0xFE11, InlineNone, Return)
	Initobj    = op("initobj", 0xFE15, InlineTok, Next)
	Rethrow    = op("rethrow", 0xFE1A, InlineNone, Throw)
	Sizeof     = op("sizeof", 0xFE1C, InlineTok, Next)
)

func init() {
	for _, o := range table {
		if byName[o.Name] != nil {
			panic("duplicate opcode " + o.Name)
		}
		byName[o.Name] = o
	}
	for i, o := range []*OpCode{Ldarg0, Ldarg1, Ldarg2, Ldarg3} {
		o.Macro = i
	}
	for i, o := range []*OpCode{Ldloc0, Ldloc1, Ldloc2, Ldloc3} {
		o.Macro = i
		o.cat = LocalLoad
	}
	for i, o := range []*OpCode{Stloc0, Stloc1, Stloc2, Stloc3} {
		o.Macro = i
		o.cat = LocalStore
	}
	LdlocS.cat, Ldloc.cat = LocalLoad, LocalLoad
	StlocS.cat, Stloc.cat = LocalStore, LocalStore
	LdlocaS.cat, Ldloca.cat = LocalLoadAddr, LocalLoadAddr
	Nop.cat = NoOp
	for _, o := range table {
		switch {
		case o.Operand == InlineSwitch:
			o.cat = Switch
		case o.Flow == Branch:
			o.cat = UncondBranch
		case o.Flow == CondBranch:
			o.cat = Conditional
		case o.Flow == Return || o.Flow == Throw:
			o.cat = Terminal
		}
		if o.Operand == ShortInlineBrTarget {
			long := byName[strings.TrimSuffix(o.Name, ".s")]
			o.other, long.other = long, o
		}
	}
}
