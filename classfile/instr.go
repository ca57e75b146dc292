package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrTruncatedCode   = errors.New("truncated instruction")
	ErrBadJumpTarget   = errors.New("jump target is not an instruction boundary")
	ErrJumpOutOfRange  = errors.New("jump offset exceeds 16 bits")
	ErrOperandOverflow = errors.New("operand out of range")
)

// Instruction is one decoded bytecode instruction.
//
// For jumps, Arg is the index of the target instruction (not a byte offset),
// so instruction lists can be spliced without relocating anything by hand.
// A jump whose target equals the list length falls off the end.
type Instruction struct {
	Op   Opcode
	Arg  int // pool index, slot, argument index or jump target
	Argc int // argc for OpInvoke/OpInvokeHook, flags for OpGuard
}

// Ins is a short constructor used by the weaver and tests.
func Ins(op Opcode, args ...int) Instruction {
	in := Instruction{Op: op}
	if len(args) > 0 {
		in.Arg = args[0]
	}
	if len(args) > 1 {
		in.Argc = args[1]
	}
	return in
}

// DecodeCode splits raw method code into instructions, converting relative
// jump offsets into instruction indices.
func DecodeCode(code []byte) ([]Instruction, error) {
	var instrs []Instruction
	var starts []int
	byOffset := make(map[int]int)

	for ip := 0; ip < len(code); {
		op := Opcode(code[ip])
		if !op.IsKnown() {
			return nil, fmt.Errorf("%w: 0x%02X at offset %d", ErrUnknownOpcode, byte(op), ip)
		}
		n := op.InstructionLen()
		if ip+n > len(code) {
			return nil, fmt.Errorf("%w: %s at offset %d", ErrTruncatedCode, op, ip)
		}
		in := Instruction{Op: op}
		operand := code[ip+1 : ip+n]
		switch {
		case op.IsJump():
			in.Arg = int(int16(binary.BigEndian.Uint16(operand)))
		case op == OpInvoke || op == OpInvokeHook || op == OpGuard:
			in.Arg = int(binary.BigEndian.Uint16(operand))
			in.Argc = int(operand[2])
		case len(operand) == 2:
			in.Arg = int(binary.BigEndian.Uint16(operand))
		case len(operand) == 1:
			in.Arg = int(operand[0])
		}
		byOffset[ip] = len(instrs)
		starts = append(starts, ip)
		instrs = append(instrs, in)
		ip += n
	}
	byOffset[len(code)] = len(instrs)

	for i := range instrs {
		if !instrs[i].Op.IsJump() {
			continue
		}
		dest := starts[i] + instrs[i].Op.InstructionLen() + instrs[i].Arg
		idx, ok := byOffset[dest]
		if !ok {
			return nil, fmt.Errorf("%w: %s at offset %d targets %d", ErrBadJumpTarget, instrs[i].Op, starts[i], dest)
		}
		instrs[i].Arg = idx
	}
	return instrs, nil
}

// EncodeCode is the inverse of DecodeCode.
func EncodeCode(instrs []Instruction) ([]byte, error) {
	offsets := make([]int, len(instrs)+1)
	size := 0
	for i, in := range instrs {
		if !in.Op.IsKnown() {
			return nil, fmt.Errorf("%w: 0x%02X at instruction %d", ErrUnknownOpcode, byte(in.Op), i)
		}
		offsets[i] = size
		size += in.Op.InstructionLen()
	}
	offsets[len(instrs)] = size

	code := make([]byte, 0, size)
	for i, in := range instrs {
		code = append(code, byte(in.Op))
		switch {
		case in.Op.IsJump():
			if in.Arg < 0 || in.Arg > len(instrs) {
				return nil, fmt.Errorf("%w: instruction %d targets %d of %d", ErrBadJumpTarget, i, in.Arg, len(instrs))
			}
			delta := offsets[in.Arg] - (offsets[i] + in.Op.InstructionLen())
			if delta < math.MinInt16 || delta > math.MaxInt16 {
				return nil, fmt.Errorf("%w: instruction %d delta %d", ErrJumpOutOfRange, i, delta)
			}
			code = binary.BigEndian.AppendUint16(code, uint16(int16(delta)))
		case in.Op == OpInvoke || in.Op == OpInvokeHook || in.Op == OpGuard:
			if in.Arg < 0 || in.Arg > math.MaxUint16 || in.Argc < 0 || in.Argc > math.MaxUint8 {
				return nil, fmt.Errorf("%w: %s %d %d", ErrOperandOverflow, in.Op, in.Arg, in.Argc)
			}
			code = binary.BigEndian.AppendUint16(code, uint16(in.Arg))
			code = append(code, byte(in.Argc))
		case in.Op.OperandLen() == 2:
			if in.Arg < 0 || in.Arg > math.MaxUint16 {
				return nil, fmt.Errorf("%w: %s %d", ErrOperandOverflow, in.Op, in.Arg)
			}
			code = binary.BigEndian.AppendUint16(code, uint16(in.Arg))
		case in.Op.OperandLen() == 1:
			if in.Arg < 0 || in.Arg > math.MaxUint8 {
				return nil, fmt.Errorf("%w: %s %d", ErrOperandOverflow, in.Op, in.Arg)
			}
			code = append(code, byte(in.Arg))
		}
	}
	return code, nil
}

// Splice inserts ins before position at. Jump targets past at move with the
// code they point to. A jump that targets at itself is moved past the
// inserted block only when skipInserted is set; otherwise it now lands on
// the first inserted instruction.
func Splice(instrs []Instruction, at int, skipInserted bool, ins ...Instruction) []Instruction {
	if at < 0 || at > len(instrs) {
		panic(fmt.Sprintf("classfile: splice position %d out of range [0,%d]", at, len(instrs)))
	}
	n := len(ins)
	out := make([]Instruction, 0, len(instrs)+n)
	out = append(out, instrs[:at]...)
	out = append(out, ins...)
	out = append(out, instrs[at:]...)
	for i := range out {
		if i >= at && i < at+n {
			continue
		}
		if !out[i].Op.IsJump() {
			continue
		}
		t := out[i].Arg
		if t > at || (t == at && skipInserted) {
			out[i].Arg = t + n
		}
	}
	return out
}

// ReturnSites returns the indices of every return instruction.
func ReturnSites(instrs []Instruction) []int {
	var sites []int
	for i, in := range instrs {
		if in.Op.IsReturn() {
			sites = append(sites, i)
		}
	}
	return sites
}

// HookRefs returns the pool indices referenced by hook instructions.
func HookRefs(instrs []Instruction) []int {
	var refs []int
	for _, in := range instrs {
		if in.Op.IsHook() {
			refs = append(refs, in.Arg)
		}
	}
	return refs
}
