package classfile

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the class.
func Disassemble(c *Class) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", c.Name))
	sb.WriteString(fmt.Sprintf("; Class binary v%d, flags 0x%04X\n", c.Version, c.Flags))
	if c.Super != "" {
		sb.WriteString(fmt.Sprintf("; extends %s\n", c.Super))
	}
	sb.WriteString(fmt.Sprintf("; access: %s\n\n", c.Access))

	if c.Pool.Len() > 0 {
		sb.WriteString("; Constants:\n")
		for i, e := range c.Pool.entries {
			sb.WriteString(fmt.Sprintf(";   [%3d] %-5s %s\n", i, e.Tag, formatConstant(e)))
		}
		sb.WriteString("\n")
	}

	for _, f := range c.Fields {
		sb.WriteString(fmt.Sprintf("field %s %s %s\n", f.Access, f.Name, f.Descriptor))
	}
	if len(c.Fields) > 0 {
		sb.WriteString("\n")
	}

	for _, m := range c.Methods {
		sb.WriteString(DisassembleMethod(c, m))
		sb.WriteString("\n")
	}

	for _, a := range c.Attributes {
		sb.WriteString(fmt.Sprintf("attribute %s (%d bytes)\n", a.Name, len(a.Data)))
	}
	return sb.String()
}

// DisassembleMethod lists a single method body. Jump targets are shown as
// instruction indices.
func DisassembleMethod(c *Class, m *Method) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("method %s %s%s locals=%d\n", m.Access, m.Name, m.Descriptor, m.MaxLocals))
	if !m.HasCode() {
		sb.WriteString("    ; no code\n")
		return sb.String()
	}
	instrs, err := DecodeCode(m.Code)
	if err != nil {
		sb.WriteString(fmt.Sprintf("    ; undecodable: %v\n", err))
		return sb.String()
	}
	for i, in := range instrs {
		sb.WriteString(fmt.Sprintf("  %04d  %s\n", i, formatInstruction(c.Pool, in)))
	}
	return sb.String()
}

func formatInstruction(p *Pool, in Instruction) string {
	name := in.Op.String()
	switch {
	case in.Op.IsJump():
		return fmt.Sprintf("%-12s -> %04d", name, in.Arg)
	case in.Op == OpInvoke || in.Op == OpInvokeHook:
		return fmt.Sprintf("%-12s %s argc=%d", name, poolText(p, in.Arg), in.Argc)
	case in.Op == OpGuard:
		flags := ""
		if uint8(in.Argc)&GuardFlagCancellable != 0 {
			flags = " [cancellable]"
		}
		return fmt.Sprintf("%-12s %s%s", name, poolText(p, in.Arg), flags)
	case in.Op.OperandLen() == 2:
		return fmt.Sprintf("%-12s %s", name, poolText(p, in.Arg))
	case in.Op.OperandLen() == 1:
		return fmt.Sprintf("%-12s %d", name, in.Arg)
	default:
		return name
	}
}

func poolText(p *Pool, idx int) string {
	e, ok := p.At(uint16(idx))
	if !ok || idx < 0 {
		return fmt.Sprintf("#%d <invalid>", idx)
	}
	return fmt.Sprintf("#%d %s", idx, formatConstant(e))
}

func formatConstant(e Constant) string {
	switch e.Tag {
	case TagInt:
		return fmt.Sprintf("%d", e.Int)
	case TagFloat:
		return fmt.Sprintf("%g", e.Float)
	default:
		s := e.Str
		if len(s) > 40 {
			s = s[:37] + "..."
		}
		return fmt.Sprintf("%q", s)
	}
}
