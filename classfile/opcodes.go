package classfile

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst      Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpConstNil   Opcode = 0x11 // Push nil
	OpConstTrue  Opcode = 0x12 // Push true
	OpConstFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Arguments and locals (0x20-0x2F)
	// ========================================================================

	OpLoadSelf   Opcode = 0x20 // Push receiver
	OpLoadArg    Opcode = 0x21 // Push argument: OpLoadArg <index:u8>
	OpLoadLocal  Opcode = 0x22 // Push local variable: OpLoadLocal <slot:u8>
	OpStoreLocal Opcode = 0x23 // Pop and store to local: OpStoreLocal <slot:u8>

	// ========================================================================
	// Fields (0x40-0x4F)
	// ========================================================================

	OpGetField Opcode = 0x40 // Pop object, push field: OpGetField <name:u16>
	OpPutField Opcode = 0x41 // Pop value and object, store field: OpPutField <name:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum (or concatenation for strings)
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient
	OpNeg Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x6F)
	// ========================================================================

	OpEq  Opcode = 0x60 // Pop two, push true if equal
	OpNe  Opcode = 0x61 // Pop two, push true if not equal
	OpLt  Opcode = 0x62 // Pop two, push true if a < b
	OpLe  Opcode = 0x63 // Pop two, push true if a <= b
	OpGt  Opcode = 0x64 // Pop two, push true if a > b
	OpGe  Opcode = 0x65 // Pop two, push true if a >= b
	OpNot Opcode = 0x68 // Logical NOT

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpTrue  Opcode = 0x81 // Jump if top is truthy: OpJumpTrue <offset:i16>
	OpJumpFalse Opcode = 0x82 // Jump if top is falsy: OpJumpFalse <offset:i16>

	// ========================================================================
	// Invocation (0x90-0x9F)
	// ========================================================================

	OpInvoke     Opcode = 0x90 // Call method on receiver: OpInvoke <ref:u16> <argc:u8>
	OpNew        Opcode = 0x91 // Instantiate class: OpNew <class:u16>
	OpInvokeHook Opcode = 0x98 // Call host replacement: OpInvokeHook <hook:u16> <argc:u8>
	OpGuard      Opcode = 0x99 // Evaluate host guard: OpGuard <hook:u16> <flags:u8>
	OpDecorate   Opcode = 0x9A // Pass TOS through host decorator: OpDecorate <hook:u16>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn    Opcode = 0xF0 // Return top of stack
	OpReturnNil Opcode = 0xF1 // Return nil
)

// Guard flags carried in the OpGuard operand.
const (
	GuardFlagNone        uint8 = 0
	GuardFlagCancellable uint8 = 1 << 0
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},

	OpConst:      {"CONST", 0, 1, 2},
	OpConstNil:   {"CONST_NIL", 0, 1, 0},
	OpConstTrue:  {"CONST_TRUE", 0, 1, 0},
	OpConstFalse: {"CONST_FALSE", 0, 1, 0},

	OpLoadSelf:   {"LOAD_SELF", 0, 1, 0},
	OpLoadArg:    {"LOAD_ARG", 0, 1, 1},
	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},

	OpGetField: {"GET_FIELD", 1, 1, 2},
	OpPutField: {"PUT_FIELD", 2, 0, 2},

	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	OpEq:  {"EQ", 2, 1, 0},
	OpNe:  {"NE", 2, 1, 0},
	OpLt:  {"LT", 2, 1, 0},
	OpLe:  {"LE", 2, 1, 0},
	OpGt:  {"GT", 2, 1, 0},
	OpGe:  {"GE", 2, 1, 0},
	OpNot: {"NOT", 1, 1, 0},

	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},

	OpInvoke:     {"INVOKE", -1, 1, 3}, // Pops receiver + argc args
	OpNew:        {"NEW", 0, 1, 2},
	OpInvokeHook: {"INVOKE_HOOK", -1, 1, 3},
	OpGuard:      {"GUARD", 0, 0, 3},
	OpDecorate:   {"DECORATE", 1, 1, 2},

	OpReturn:    {"RETURN", 1, 0, 0},
	OpReturnNil: {"RETURN_NIL", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsKnown reports whether op has an entry in the opcode table.
func (op Opcode) IsKnown() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpFalse
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnNil
}

// IsHook returns true if this opcode calls into the host hook table.
func (op Opcode) IsHook() bool {
	return op >= OpInvokeHook && op <= OpDecorate
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
