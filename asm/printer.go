package asm

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/eaburns/ilgraph/il"
)

// Write writes methods as a listing that Parse reads back unchanged.
// Instruction offsets must already be computed.
func Write(w io.Writer, methods []*il.Method) error {
	var s strings.Builder
	fmt.Fprintf(&s, ".format %q\n", FormatVersion)
	for _, m := range methods {
		s.WriteRune('\n')
		buildMethod(&s, m)
	}
	_, err := io.WriteString(w, s.String())
	return err
}

// String returns the listing text of a single method.
func String(m *il.Method) string { return buildMethod(new(strings.Builder), m).String() }

func buildMethod(s *strings.Builder, m *il.Method) *strings.Builder {
	fmt.Fprintf(s, ".method 0x%08X %s\n", uint32(m.Token), strconv.Quote(m.Name))
	body := m.Body
	if len(body.Locals) > 0 {
		s.WriteString(".locals")
		for _, l := range body.Locals {
			s.WriteRune(' ')
			s.WriteString(l.String())
		}
		s.WriteRune('\n')
	}
	var end int
	for _, r := range body.Instrs {
		s.WriteString(r.String())
		s.WriteRune('\n')
		end = r.Offset + r.Size()
	}
	for _, h := range body.Handlers {
		if h.TryEnd == end || h.HandlerEnd == end {
			fmt.Fprintf(s, "%s:\n", il.Label(end))
			break
		}
	}
	for _, h := range body.Handlers {
		buildHandler(s, h)
		s.WriteRune('\n')
	}
	s.WriteString(".end\n")
	return s
}

func buildHandler(s *strings.Builder, h *il.ExceptionHandler) *strings.Builder {
	fmt.Fprintf(s, ".try %s %s %s", il.Label(h.TryStart), il.Label(h.TryEnd), h.Kind)
	switch h.Kind {
	case il.Catch:
		fmt.Fprintf(s, " 0x%08X", uint32(h.CatchType))
	case il.Filter:
		fmt.Fprintf(s, " %s", il.Label(h.FilterStart))
	}
	fmt.Fprintf(s, " %s %s", il.Label(h.HandlerStart), il.Label(h.HandlerEnd))
	return s
}
