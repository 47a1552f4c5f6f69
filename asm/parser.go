// Package asm reads and writes textual listings of method bodies.
//
// A listing is a sequence of methods:
//
//	.format "1.0"
//	.method 0x06000001 "Ns.Type::Name"
//	.locals a b
//	IL_0000: ldc.i4.0
//	IL_0001: stloc.s a
//	IL_0003: leave.s IL_0007
//	IL_0005: pop
//	IL_0006: endfinally
//	IL_0007: ret
//	.try IL_0000 IL_0005 finally IL_0005 IL_0007
//	.end
//
// Labels name the offset of the following instruction,
// or the end of the code if no instruction follows.
// A semicolon starts a comment that runs to the end of the line.
package asm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/eaburns/ilgraph/il"
	"github.com/eaburns/ilgraph/loc"
	"github.com/eaburns/peggy/peg"
	"github.com/hashicorp/go-version"
)

// Formats is the constraint on the .format header of a listing.
const Formats = ">= 1.0, < 2.0"

// FormatVersion is the .format written by Write.
const FormatVersion = "1.0"

// ErrFormat is wrapped by all errors returned for malformed listings.
var ErrFormat = errors.New("malformed listing")

// A File is a parsed listing file.
type File struct {
	P       string
	Methods []*il.Method
	NLs     []int
	Length  int
}

func (f *File) Path() string    { return f.P }
func (f *File) Len() int        { return f.Length }
func (f *File) NewLines() []int { return f.NLs }

// Location returns the file location of l.
func (f *File) Location(l loc.Loc) loc.Location { return loc.Locate(f, l) }

// Parse parses a listing from an io.Reader.
// The first argument is the file path or "" if unspecified.
func Parse(path string, r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	file := &File{P: path, Length: len(data)}
	for i, c := range data {
		if c == '\n' {
			file.NLs = append(file.NLs, i)
		}
	}
	p := &parser{file: file, text: string(data)}
	if err := p.parseFile(); err != nil {
		return nil, err
	}
	return file, nil
}

// ParseFile parses a listing from a file path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(path, f)
}

type parseError struct {
	path string
	text string
	fail *peg.Fail
}

func (err parseError) Tree() *peg.Fail { return err.fail }
func (err parseError) Unwrap() error   { return ErrFormat }

func (err parseError) Error() string {
	e := peg.SimpleError(err.text, err.fail)
	e.FilePath = err.path
	return e.Error()
}

// semError is a well-formed listing that does not describe a valid body,
// for example a branch to an undefined label.
type semError struct {
	loc loc.Location
	msg string
}

func (err semError) Unwrap() error { return ErrFormat }

func (err semError) Error() string {
	if (err.loc == loc.Location{}) {
		return err.msg
	}
	return err.loc.String() + ": " + err.msg
}

type parser struct {
	file *File
	text string
	pos  int
	// rule is the rule being parsed, for failure trees.
	rule  string
	start int
}

// fail returns a parse error at the current position.
func (p *parser) fail(want string) error {
	return parseError{
		path: p.file.P,
		text: p.text,
		fail: &peg.Fail{
			Name: p.rule,
			Pos:  p.start,
			Kids: []*peg.Fail{{Pos: p.pos, Want: want}},
		},
	}
}

func (p *parser) errorf(l loc.Loc, f string, vs ...interface{}) error {
	return semError{loc: p.file.Location(l), msg: fmt.Sprintf(f, vs...)}
}

func (p *parser) begin(rule string) {
	p.rule = rule
	p.start = p.pos
}

func (p *parser) peek() rune {
	if p.pos >= len(p.text) {
		return -1
	}
	r, _ := peg.DecodeRuneInString(p.text[p.pos:])
	return r
}

// space skips blanks and comments, but not newlines.
func (p *parser) space() {
	for p.pos < len(p.text) {
		r, w := peg.DecodeRuneInString(p.text[p.pos:])
		switch {
		case r == ';':
			for p.pos < len(p.text) && p.text[p.pos] != '\n' {
				p.pos++
			}
		case r != '\n' && unicode.IsSpace(r):
			p.pos += w
		default:
			return
		}
	}
}

// lines skips any number of blank lines.
func (p *parser) lines() {
	for {
		p.space()
		if p.peek() != '\n' {
			return
		}
		p.pos++
	}
}

func (p *parser) eol() error {
	p.space()
	switch p.peek() {
	case -1:
		return nil
	case '\n':
		p.pos++
		return nil
	default:
		return p.fail("end of line")
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || r == '$' || r == '<' || r == '>' ||
		unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ident returns the next identifier and its location, or "".
func (p *parser) ident() (string, loc.Loc) {
	p.space()
	start := p.pos
	for p.pos < len(p.text) {
		r, w := peg.DecodeRuneInString(p.text[p.pos:])
		if !isIdentRune(r) {
			break
		}
		p.pos += w
	}
	return p.text[start:p.pos], loc.Loc{start + 1, p.pos + 1}
}

func (p *parser) word() string {
	p.space()
	start := p.pos
	for p.pos < len(p.text) {
		r, w := peg.DecodeRuneInString(p.text[p.pos:])
		if unicode.IsSpace(r) || r == ';' || r == ',' || r == '(' || r == ')' {
			break
		}
		p.pos += w
	}
	return p.text[start:p.pos]
}

func (p *parser) accept(c rune) bool {
	p.space()
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) keyword(kw string) bool {
	p.space()
	if !strings.HasPrefix(p.text[p.pos:], kw) {
		return false
	}
	end := p.pos + len(kw)
	if end < len(p.text) {
		r, _ := peg.DecodeRuneInString(p.text[end:])
		if isIdentRune(r) {
			return false
		}
	}
	p.pos = end
	return true
}

func (p *parser) str() (string, error) {
	p.space()
	start := p.pos
	if p.peek() != '"' {
		return "", p.fail("\"\\\"\"")
	}
	p.pos++
	for p.pos < len(p.text) && p.text[p.pos] != '\n' {
		switch p.text[p.pos] {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			s, err := strconv.Unquote(p.text[start:p.pos])
			if err != nil {
				p.pos = start
				return "", p.fail("string")
			}
			return s, nil
		}
		p.pos++
	}
	return "", p.fail("\"\\\"\"")
}

func (p *parser) integer() (int64, error) {
	start := p.pos
	w := p.word()
	n, err := strconv.ParseInt(w, 0, 64)
	if err != nil {
		// Tokens and hex immediates may use the full unsigned range.
		u, uerr := strconv.ParseUint(w, 0, 64)
		if uerr != nil {
			p.pos = start
			p.space()
			return 0, p.fail("integer")
		}
		n = int64(u)
	}
	return n, nil
}

func (p *parser) float() (float64, error) {
	start := p.pos
	f, err := strconv.ParseFloat(p.word(), 64)
	if err != nil {
		p.pos = start
		p.space()
		return 0, p.fail("number")
	}
	return f, nil
}

func (p *parser) token() (il.Token, error) {
	start := p.pos
	n, err := p.integer()
	if err != nil || n < 0 || n > 0xFFFFFFFF {
		p.pos = start
		p.space()
		return 0, p.fail("metadata token")
	}
	return il.Token(n), nil
}

func (p *parser) parseFile() error {
	for {
		p.lines()
		if p.pos >= len(p.text) {
			return nil
		}
		p.begin("File")
		switch {
		case p.keyword(".format"):
			if err := p.parseFormat(); err != nil {
				return err
			}
		case p.keyword(".method"):
			m, err := p.parseMethod()
			if err != nil {
				return err
			}
			p.file.Methods = append(p.file.Methods, m)
		default:
			return p.fail("\".method\"")
		}
	}
}

func (p *parser) parseFormat() error {
	p.begin("Format")
	p.space()
	start := p.pos
	s, err := p.str()
	if err != nil {
		return err
	}
	l := loc.Loc{start + 1, p.pos + 1}
	v, err := version.NewVersion(s)
	if err != nil {
		return p.errorf(l, "bad format version %q: %s", s, err)
	}
	c, err := version.NewConstraint(Formats)
	if err != nil {
		panic("impossible: " + err.Error())
	}
	if !c.Check(v) {
		return p.errorf(l, "unsupported format version %s, want %s", v, Formats)
	}
	return p.eol()
}

// labelRef is a use of a label awaiting its offset.
type labelRef struct {
	name string
	l    loc.Loc
}

type methodParse struct {
	locals  map[string]*il.Local
	labels  map[string]int // label → instruction index
	instrs  []*il.Instruction
	targets map[*il.Instruction][]labelRef
	tries   []tryParse
}

type tryParse struct {
	kind      il.HandlerKind
	catchType il.Token
	// try start, try end, handler start, handler end, filter start
	labels []labelRef
}

func (p *parser) parseMethod() (*il.Method, error) {
	start := p.pos - len(".method")
	p.begin("Method")
	tok, err := p.token()
	if err != nil {
		return nil, err
	}
	name, err := p.str()
	if err != nil {
		return nil, err
	}
	if err := p.eol(); err != nil {
		return nil, err
	}
	m := &il.Method{Token: tok, Name: name, Body: &il.Body{}}
	mp := &methodParse{
		locals:  make(map[string]*il.Local),
		labels:  make(map[string]int),
		targets: make(map[*il.Instruction][]labelRef),
	}
	for {
		p.lines()
		p.begin("Line")
		if p.pos >= len(p.text) {
			return nil, p.fail("\".end\"")
		}
		switch {
		case p.keyword(".end"):
			m.L = loc.Loc{start + 1, p.pos + 1}
			if err := p.eol(); err != nil {
				return nil, err
			}
			if err := p.finishMethod(m, mp); err != nil {
				return nil, err
			}
			return m, nil
		case p.keyword(".locals"):
			err = p.parseLocals(m, mp)
		case p.keyword(".try"):
			err = p.parseTry(mp)
		default:
			err = p.parseInstr(m, mp)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseLocals(m *il.Method, mp *methodParse) error {
	if len(m.Body.Locals) > 0 || len(mp.instrs) > 0 {
		return p.errorf(loc.Loc{p.start + 1, p.pos + 1}, ".locals must come once, before any instruction")
	}
	for {
		name, l := p.ident()
		if name == "" {
			break
		}
		if mp.locals[name] != nil {
			return p.errorf(l, "local %s redefined", name)
		}
		local := &il.Local{Index: len(m.Body.Locals), Name: name}
		if name == fmt.Sprintf("V_%d", local.Index) {
			local.Name = ""
		}
		mp.locals[name] = local
		m.Body.Locals = append(m.Body.Locals, local)
	}
	return p.eol()
}

func (p *parser) labelRef() (labelRef, error) {
	name, l := p.ident()
	if name == "" {
		return labelRef{}, p.fail("label")
	}
	return labelRef{name: name, l: l}, nil
}

func (p *parser) parseTry(mp *methodParse) error {
	var t tryParse
	for i := 0; i < 2; i++ {
		ref, err := p.labelRef()
		if err != nil {
			return err
		}
		t.labels = append(t.labels, ref)
	}
	n := 2
	switch {
	case p.keyword("catch"):
		t.kind = il.Catch
		tok, err := p.token()
		if err != nil {
			return err
		}
		t.catchType = tok
	case p.keyword("filter"):
		t.kind = il.Filter
		n = 3
	case p.keyword("finally"):
		t.kind = il.Finally
	case p.keyword("fault"):
		t.kind = il.Fault
	default:
		p.space()
		return p.fail("\"catch\", \"filter\", \"finally\", or \"fault\"")
	}
	for i := 0; i < n; i++ {
		ref, err := p.labelRef()
		if err != nil {
			return err
		}
		t.labels = append(t.labels, ref)
	}
	if t.kind == il.Filter {
		// Written as filter-start handler-start handler-end;
		// stored as try-start try-end handler-start handler-end filter-start.
		l := t.labels
		t.labels = []labelRef{l[0], l[1], l[3], l[4], l[2]}
	}
	mp.tries = append(mp.tries, t)
	return p.eol()
}

func (p *parser) parseInstr(m *il.Method, mp *methodParse) error {
	name, l := p.ident()
	if name == "" {
		return p.fail("instruction")
	}
	if p.accept(':') {
		if _, ok := mp.labels[name]; ok {
			return p.errorf(l, "label %s redefined", name)
		}
		mp.labels[name] = len(mp.instrs)
		p.space()
		if p.peek() == '\n' || p.peek() == -1 {
			return p.eol()
		}
		p.begin("Instr")
		if name, l = p.ident(); name == "" {
			return p.fail("instruction")
		}
	}
	op := il.Lookup(name)
	if op == nil {
		return p.errorf(l, "unknown opcode %s", name)
	}
	r := &il.Instruction{Op: op}
	switch op.Operand {
	case il.InlineNone:
	case il.ShortInlineI, il.InlineI, il.InlineI8, il.ShortInlineArg, il.InlineArg:
		n, err := p.integer()
		if err != nil {
			return err
		}
		r.Operand = il.Int(n)
	case il.ShortInlineR, il.InlineR:
		f, err := p.float()
		if err != nil {
			return err
		}
		r.Operand = il.Float(f)
	case il.ShortInlineVar, il.InlineVar:
		name, l := p.ident()
		if name == "" {
			return p.fail("local")
		}
		local := mp.locals[name]
		if local == nil {
			return p.errorf(l, "local %s: not found", name)
		}
		r.Operand = local
	case il.ShortInlineBrTarget, il.InlineBrTarget:
		ref, err := p.labelRef()
		if err != nil {
			return err
		}
		mp.targets[r] = []labelRef{ref}
	case il.InlineSwitch:
		if !p.accept('(') {
			return p.fail("\"(\"")
		}
		refs := []labelRef{}
		for !p.accept(')') {
			if len(refs) > 0 && !p.accept(',') {
				return p.fail("\",\" or \")\"")
			}
			ref, err := p.labelRef()
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		mp.targets[r] = refs
	case il.InlineTok:
		tok, err := p.token()
		if err != nil {
			return err
		}
		r.Operand = tok
	default:
		panic(fmt.Sprintf("impossible operand kind: %d", op.Operand))
	}
	mp.instrs = append(mp.instrs, r)
	return p.eol()
}

// finishMethod computes offsets and resolves labels.
func (p *parser) finishMethod(m *il.Method, mp *methodParse) error {
	for _, r := range mp.instrs {
		if refs, ok := mp.targets[r]; ok && r.Op.Operand == il.InlineSwitch {
			// Sizes depend on the case count; set it before computing offsets.
			r.Operand = make(il.Targets, len(refs))
		}
	}
	size := il.ComputeOffsets(mp.instrs)
	offset := func(ref labelRef) (int, error) {
		i, ok := mp.labels[ref.name]
		if !ok {
			return 0, p.errorf(ref.l, "label %s: not found", ref.name)
		}
		if i == len(mp.instrs) {
			return size, nil
		}
		return mp.instrs[i].Offset, nil
	}
	for _, r := range mp.instrs {
		refs, ok := mp.targets[r]
		if !ok {
			continue
		}
		if r.Op.Operand == il.InlineSwitch {
			ts := r.Operand.(il.Targets)
			for i, ref := range refs {
				o, err := offset(ref)
				if err != nil {
					return err
				}
				ts[i] = o
			}
			continue
		}
		o, err := offset(refs[0])
		if err != nil {
			return err
		}
		r.Operand = il.Target(o)
	}
	for _, t := range mp.tries {
		var offs [5]int
		for i, ref := range t.labels {
			o, err := offset(ref)
			if err != nil {
				return err
			}
			offs[i] = o
		}
		h := &il.ExceptionHandler{
			Kind:         t.kind,
			TryStart:     offs[0],
			TryEnd:       offs[1],
			HandlerStart: offs[2],
			HandlerEnd:   offs[3],
			CatchType:    t.catchType,
		}
		if t.kind == il.Filter {
			h.FilterStart = offs[4]
		}
		m.Body.Handlers = append(m.Body.Handlers, h)
	}
	m.Body.Instrs = mp.instrs
	return nil
}
