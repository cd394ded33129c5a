package hir

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a line/column and message for a malformed test-HIR program, per spec.md
// §7's "Parser/construction error" (test harness only): these always terminate parsing.
type ParseError struct {
	Line, Col int
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// RegResolver resolves a register name (e.g. "GPR0") appearing in an `arg [reg "NAME"]`
// directive, and hands out automatic registers for `arg [reg auto]` (`stack auto` is handled
// by the parser itself as offset 0), mirroring
// the teacher-test's Reg::from_str and TestRegIter. Kept abstract here so package hir has no
// dependency on package regalloc.
type RegResolver interface {
	// FromName resolves a literal register name to its RegIdx, or false if unknown.
	FromName(name string) (regIdx int, ok bool)
	// NextAuto hands out the next free register suitable for ty, for `arg [reg auto]`.
	NextAuto(ty Type) (regIdx int, ok bool)
}

// Parse parses the textual test-HIR surface described in spec.md §6 into a *Block.
//
// Grammar, one directive per non-blank line:
//
//	%N:TY = arg [ reg NAME | reg auto | stack OFF | stack auto ]
//	%N:TY = INT                          (decimal, sign-extended; or 0xHEX, unsigned)
//	%N:TY = OP %A, %B                    (add, sub, and, or, xor, shl, lshr, ashr, icmp, fadd, ptradd)
//	%N:TY = OP %A                        (trunc, zext, sext)
//	blackbox %N
//	guard [ %A, %B, ... ]
//	exit [ %A, %B, ... ]
//
// TY is `iN` for integer width N, `ptr`, `float`, or `double`.
func Parse(src string, regs RegResolver) (*Block, error) {
	p := &parser{src: src, regs: regs, b: NewBlock(), defs: map[string]IIx{}}
	return p.run()
}

type parser struct {
	src  string
	regs RegResolver
	b    *Block
	defs map[string]IIx // "%N" -> IIx, for resolving operand references
	line int
}

func (p *parser) run() (*Block, error) {
	for _, raw := range strings.Split(p.src, "\n") {
		p.line++
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}
		if err := p.parseLine(line); err != nil {
			return nil, err
		}
	}
	return p.b, nil
}

func stripComment(s string) string {
	if i := strings.Index(s, "//"); i >= 0 {
		return s[:i]
	}
	return s
}

func (p *parser) errf(col int, format string, args ...any) error {
	return &ParseError{Line: p.line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseLine(line string) error {
	if strings.HasPrefix(line, "blackbox ") {
		ref := strings.TrimSpace(strings.TrimPrefix(line, "blackbox"))
		iidx, err := p.resolveRef(ref)
		if err != nil {
			return err
		}
		p.b.Push(Inst{Op: OpBlackBox, In1: iidx})
		return nil
	}
	if strings.HasPrefix(line, "guard ") || line == "guard" {
		iidxs, err := p.parseBracketList(strings.TrimSpace(strings.TrimPrefix(line, "guard")))
		if err != nil {
			return err
		}
		gridx := p.b.PushGuardRestore(GuardRestore{EntryVars: iidxs})
		p.b.Push(Inst{Op: OpGuard, GuardIdx: gridx})
		return nil
	}
	if strings.HasPrefix(line, "exit ") || line == "exit" {
		iidxs, err := p.parseBracketList(strings.TrimSpace(strings.TrimPrefix(line, "exit")))
		if err != nil {
			return err
		}
		p.b.Push(Inst{Op: OpExit, ExitVars: iidxs})
		return nil
	}

	// %N:TY = RHS
	eq := strings.Index(line, "=")
	if eq < 0 {
		return p.errf(1, "expected '=' in instruction definition, got %q", line)
	}
	lhs := strings.TrimSpace(line[:eq])
	rhs := strings.TrimSpace(line[eq+1:])

	if !strings.HasPrefix(lhs, "%") {
		return p.errf(1, "expected '%%N:TY' on left-hand side, got %q", lhs)
	}
	colon := strings.Index(lhs, ":")
	if colon < 0 {
		return p.errf(1, "expected ':TY' after %%N, got %q", lhs)
	}
	name := lhs[:colon]
	ty, err := parseType(strings.TrimSpace(lhs[colon+1:]))
	if err != nil {
		return p.errf(colon, "%s", err)
	}

	iidx, err := p.parseRHS(rhs, ty)
	if err != nil {
		return err
	}
	p.defs[name] = iidx
	return nil
}

func (p *parser) parseRHS(rhs string, ty Type) (IIx, error) {
	fields := strings.Fields(rhs)
	if len(fields) == 0 {
		return NoIIx, p.errf(1, "empty right-hand side")
	}

	if fields[0] == "arg" {
		loc, err := p.parseArgLoc(strings.TrimSpace(strings.TrimPrefix(rhs, "arg")), ty)
		if err != nil {
			return NoIIx, err
		}
		return p.b.Push(Inst{Op: OpArg, Ty: ty, ArgLocs: []ArgLoc{loc}}), nil
	}

	if op, ok := binaryOp(fields[0]); ok {
		operands := strings.Split(strings.TrimSpace(strings.TrimPrefix(rhs, fields[0])), ",")
		if len(operands) != 2 {
			return NoIIx, p.errf(1, "%s expects two operands, got %q", fields[0], rhs)
		}
		a, err := p.resolveRef(strings.TrimSpace(operands[0]))
		if err != nil {
			return NoIIx, err
		}
		c, err := p.resolveRef(strings.TrimSpace(operands[1]))
		if err != nil {
			return NoIIx, err
		}
		return p.b.Push(Inst{Op: op, Ty: ty, In1: a, In2: c}), nil
	}

	if op, ok := unaryOp(fields[0]); ok {
		ref := strings.TrimSpace(strings.TrimPrefix(rhs, fields[0]))
		a, err := p.resolveRef(ref)
		if err != nil {
			return NoIIx, err
		}
		return p.b.Push(Inst{Op: op, Ty: ty, In1: a}), nil
	}

	// Otherwise, it must be a constant literal.
	ck, err := parseConst(fields[0], ty)
	if err != nil {
		return NoIIx, p.errf(1, "%s", err)
	}
	return p.b.Push(Inst{Op: OpConst, Ty: ty, Const: ck}), nil
}

func binaryOp(s string) (OpKind, bool) {
	switch s {
	case "add":
		return OpAdd, true
	case "sub":
		return OpSub, true
	case "and":
		return OpAnd, true
	case "or":
		return OpOr, true
	case "xor":
		return OpXor, true
	case "shl":
		return OpShl, true
	case "lshr":
		return OpLShr, true
	case "ashr":
		return OpAShr, true
	case "icmp":
		return OpICmp, true
	case "ptradd":
		return OpPtrAdd, true
	case "dynptradd":
		return OpDynPtrAdd, true
	case "fadd":
		return OpFAdd, true
	default:
		return 0, false
	}
}

func unaryOp(s string) (OpKind, bool) {
	switch s {
	case "trunc":
		return OpTrunc, true
	case "zext":
		return OpZExt, true
	case "sext":
		return OpSExt, true
	default:
		return 0, false
	}
}

func (p *parser) resolveRef(ref string) (IIx, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "%") {
		return NoIIx, p.errf(1, "expected '%%N' operand reference, got %q", ref)
	}
	iidx, ok := p.defs[ref]
	if !ok {
		return NoIIx, p.errf(1, "undefined reference %q", ref)
	}
	return iidx, nil
}

func (p *parser) parseBracketList(s string) ([]IIx, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, p.errf(1, "expected '[...]' list, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, nil
	}
	var out []IIx
	for _, part := range strings.Split(inner, ",") {
		iidx, err := p.resolveRef(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, iidx)
	}
	return out, nil
}

func (p *parser) parseArgLoc(s string, ty Type) (ArgLoc, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return ArgLoc{}, p.errf(1, "expected '[...]' arg location, got %q", s)
	}
	inner := strings.Fields(s[1 : len(s)-1])
	if len(inner) == 0 {
		return ArgLoc{}, p.errf(1, "empty arg location")
	}
	switch inner[0] {
	case "reg":
		if len(inner) < 2 {
			return ArgLoc{}, p.errf(1, "'reg' location requires a name or 'auto'")
		}
		if inner[1] == "auto" {
			regIdx, ok := p.regs.NextAuto(ty)
			if !ok {
				return ArgLoc{}, p.errf(1, "no automatic register available for %s", ty)
			}
			return ArgLoc{IsReg: true, RegName: fmt.Sprintf("#%d", regIdx)}, nil
		}
		name := strings.Trim(inner[1], `"`)
		if _, ok := p.regs.FromName(name); !ok {
			return ArgLoc{}, p.errf(1, "unknown register %q", name)
		}
		return ArgLoc{IsReg: true, RegName: name}, nil
	case "stack":
		if len(inner) < 2 {
			return ArgLoc{}, p.errf(1, "'stack' location requires an offset or 'auto'")
		}
		if inner[1] == "auto" {
			return ArgLoc{IsStack: true, StackOff: 0}, nil
		}
		off, err := strconv.ParseUint(inner[1], 10, 32)
		if err != nil {
			return ArgLoc{}, p.errf(1, "bad stack offset %q: %s", inner[1], err)
		}
		return ArgLoc{IsStack: true, StackOff: uint32(off)}, nil
	default:
		return ArgLoc{}, p.errf(1, "unknown arg location kind %q", inner[0])
	}
}

func parseType(s string) (Type, error) {
	switch s {
	case "ptr":
		return PtrType(), nil
	case "float":
		return FloatType(), nil
	case "double":
		return DoubleType(), nil
	case "void":
		return VoidType(), nil
	default:
		if !strings.HasPrefix(s, "i") {
			return Type{}, fmt.Errorf("unknown type %q", s)
		}
		w, err := strconv.Atoi(s[1:])
		if err != nil {
			return Type{}, fmt.Errorf("bad integer width in type %q: %s", s, err)
		}
		return IntType(w), nil
	}
}

// parseConst parses the constant literal grammar from spec.md §6: decimal numbers (signed,
// sign-extended, checked to fit the declared width) or 0x-prefixed hex (unsigned, must fit).
func parseConst(s string, ty Type) (ConstKind, error) {
	if ty.Tag == TypeTagFloat {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return ConstKind{}, fmt.Errorf("bad float constant %q: %s", s, err)
		}
		return ConstFloat(float32(v)), nil
	}
	if ty.Tag == TypeTagDouble {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ConstKind{}, fmt.Errorf("bad double constant %q: %s", s, err)
		}
		return ConstDouble(v), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return ConstKind{}, fmt.Errorf("bad hex constant %q: %s", s, err)
		}
		if ty.Width < 64 && v >= (uint64(1)<<uint(ty.Width)) {
			return ConstKind{}, fmt.Errorf("hex constant %q does not fit in i%d", s, ty.Width)
		}
		return ConstInt(ty.Width, int64(v)), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ConstKind{}, fmt.Errorf("bad decimal constant %q: %s", s, err)
	}
	if ty.Width < 64 {
		min := int64(-1) << uint(ty.Width-1)
		max := (int64(1) << uint(ty.Width-1)) - 1
		if v < min || v > max {
			return ConstKind{}, fmt.Errorf("decimal constant %d does not fit (sign-extended) in i%d", v, ty.Width)
		}
	}
	return ConstInt(ty.Width, v), nil
}
