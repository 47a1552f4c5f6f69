package il_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eaburns/ilgraph/il"
)

var _ = Describe("OpCode", func() {
	It("should look up opcodes by name", func() {
		Expect(il.Lookup("ldloc.s")).To(BeIdenticalTo(il.LdlocS))
		Expect(il.Lookup("bne.un")).To(BeIdenticalTo(il.BneUn))
		Expect(il.Lookup("no.such.op")).To(BeNil())
	})

	It("should give every opcode a unique value", func() {
		seen := make(map[uint16]string)
		for _, o := range il.OpCodes() {
			Expect(seen).NotTo(HaveKey(o.Value), o.Name)
			seen[o.Value] = o.Name
		}
	})

	It("should size two-byte opcodes", func() {
		Expect(il.Nop.Size()).To(Equal(1))
		Expect(il.Ceq.Size()).To(Equal(2))
		Expect(il.Ldloc.Size()).To(Equal(2))
	})

	DescribeTable("categories",
		func(o *il.OpCode, want il.Category) {
			Expect(o.Category()).To(Equal(want))
		},
		Entry("ldloc.0", il.Ldloc0, il.LocalLoad),
		Entry("ldloc.s", il.LdlocS, il.LocalLoad),
		Entry("ldloc", il.Ldloc, il.LocalLoad),
		Entry("stloc.3", il.Stloc3, il.LocalStore),
		Entry("stloc", il.Stloc, il.LocalStore),
		Entry("ldloca.s", il.LdlocaS, il.LocalLoadAddr),
		Entry("ldloca", il.Ldloca, il.LocalLoadAddr),
		Entry("br", il.Br, il.UncondBranch),
		Entry("leave.s", il.LeaveS, il.UncondBranch),
		Entry("brtrue.s", il.BrtrueS, il.Conditional),
		Entry("switch", il.SwitchOp, il.Switch),
		Entry("ret", il.Ret, il.Terminal),
		Entry("throw", il.ThrowOp, il.Terminal),
		Entry("rethrow", il.Rethrow, il.Terminal),
		Entry("endfinally", il.Endfinally, il.Terminal),
		Entry("endfilter", il.Endfilter, il.Terminal),
		Entry("nop", il.Nop, il.NoOp),
		Entry("add", il.Add, il.Other),
		Entry("ldarg.0", il.Ldarg0, il.Other),
	)

	It("should pair short and long branches", func() {
		for _, o := range il.OpCodes() {
			if o.Operand != il.ShortInlineBrTarget {
				continue
			}
			Expect(o.Long().Operand).To(Equal(il.InlineBrTarget), o.Name)
			Expect(o.Long().Short()).To(BeIdenticalTo(o), o.Name)
			Expect(o.Long().Flow).To(Equal(o.Flow), o.Name)
		}
		Expect(il.Add.Long()).To(BeIdenticalTo(il.Add))
		Expect(il.SwitchOp.Short()).To(BeIdenticalTo(il.SwitchOp))
	})
})

var _ = Describe("Instruction", func() {
	It("should compute sizes and offsets", func() {
		a := &il.Local{Index: 4}
		instrs := []*il.Instruction{
			{Op: il.Ldloc0},
			{Op: il.LdlocS, Operand: a},
			{Op: il.Ldloc, Operand: a},
			{Op: il.LdcI4, Operand: il.Int(7)},
			{Op: il.SwitchOp, Operand: il.Targets{0, 1, 2}},
			{Op: il.BrS, Operand: il.Target(0)},
			{Op: il.Ret},
		}
		Expect(il.ComputeOffsets(instrs)).To(Equal(1 + 2 + 4 + 5 + 17 + 2 + 1))
		var offsets []int
		for _, r := range instrs {
			offsets = append(offsets, r.Offset)
		}
		Expect(offsets).To(Equal([]int{0, 1, 3, 7, 12, 29, 31}))
	})

	It("should test short displacements", func() {
		Expect(il.FitsShort(0, 2, 129)).To(BeTrue())
		Expect(il.FitsShort(0, 2, 130)).To(BeFalse())
		Expect(il.FitsShort(200, 2, 74)).To(BeTrue())
		Expect(il.FitsShort(200, 2, 73)).To(BeFalse())
	})

	It("should resolve local slots", func() {
		locals := []*il.Local{{Index: 0}, {Index: 1, Name: "b"}}
		Expect(il.LocalOf(locals, &il.Instruction{Op: il.Ldloc1})).To(BeIdenticalTo(locals[1]))
		Expect(il.LocalOf(locals, &il.Instruction{Op: il.Stloc0})).To(BeIdenticalTo(locals[0]))
		Expect(il.LocalOf(locals, &il.Instruction{Op: il.Ldloc3})).To(BeNil())
		Expect(il.LocalOf(locals, &il.Instruction{Op: il.LdlocaS, Operand: locals[1]})).To(BeIdenticalTo(locals[1]))
		Expect(il.LocalOf(locals, &il.Instruction{Op: il.Ldarg0})).To(BeNil())
	})

	It("should print listing text", func() {
		r := &il.Instruction{Op: il.SwitchOp, Operand: il.Targets{0x10, 0x2a}, Offset: 3}
		Expect(r.String()).To(Equal("IL_0003: switch (IL_0010, IL_002a)"))
		r = &il.Instruction{Op: il.Ldstr, Operand: il.Token(0x70000001)}
		Expect(r.String()).To(Equal("IL_0000: ldstr 0x70000001"))
		r = &il.Instruction{Op: il.StlocS, Operand: &il.Local{Index: 5}}
		Expect(r.String()).To(Equal("IL_0000: stloc.s V_5"))
	})
})
