package classfile

import "fmt"

// Assembler builds class binaries programmatically. Errors are sticky: the
// first one is kept and reported by Build.
//
//	a := NewAssembler("game/Door", "", AccPublic)
//	a.Field(AccPrivate, "open", "Z")
//	m := a.Method(AccPublic, "isOpen", "()Z")
//	m.Op(OpLoadSelf).GetField("open").Op(OpReturn)
//	m.End()
//	data, err := a.Bytes()
type Assembler struct {
	class *Class
	err   error
}

// NewAssembler starts a class.
func NewAssembler(name, super string, access AccessFlags) *Assembler {
	c, err := NewClass(name, super, access)
	return &Assembler{class: c, err: err}
}

func (a *Assembler) fail(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

// Field declares a field.
func (a *Assembler) Field(access AccessFlags, name, desc string) *Assembler {
	if a.err != nil {
		return a
	}
	_, err := a.class.AddField(access, name, desc)
	a.fail(err)
	return a
}

// Attribute adds an opaque attribute.
func (a *Assembler) Attribute(name string, data []byte) *Assembler {
	if a.err != nil {
		return a
	}
	a.fail(a.class.AddAttribute(name, data))
	return a
}

// Method starts a method body. Call End to attach it to the class.
func (a *Assembler) Method(access AccessFlags, name, desc string) *MethodBuilder {
	mb := &MethodBuilder{asm: a, access: access, name: name, desc: desc}
	if a.err == nil {
		if _, err := ParseMethodDescriptor(desc); err != nil {
			a.fail(err)
		}
	}
	return mb
}

// Build returns the assembled class.
func (a *Assembler) Build() (*Class, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.class, nil
}

// Bytes encodes the assembled class.
func (a *Assembler) Bytes() ([]byte, error) {
	c, err := a.Build()
	if err != nil {
		return nil, err
	}
	return Encode(c)
}

// Label names a position in a method body.
type Label int

// MethodBuilder accumulates instructions for one method.
type MethodBuilder struct {
	asm    *Assembler
	access AccessFlags
	name   string
	desc   string
	locals int
	instrs []Instruction
	labels []int
}

// Locals sets the number of local variable slots. Arguments are addressed
// separately with OpLoadArg and do not count.
func (m *MethodBuilder) Locals(n int) *MethodBuilder {
	m.locals = n
	return m
}

// Op appends a raw instruction.
func (m *MethodBuilder) Op(op Opcode, args ...int) *MethodBuilder {
	m.instrs = append(m.instrs, Ins(op, args...))
	return m
}

func (m *MethodBuilder) intern(s string) int {
	if m.asm.err != nil {
		return 0
	}
	idx, err := m.asm.class.Pool.AddUTF8(s)
	m.asm.fail(err)
	return int(idx)
}

// Const pushes a string, integer, float, bool or nil literal.
func (m *MethodBuilder) Const(v any) *MethodBuilder {
	switch x := v.(type) {
	case nil:
		return m.Op(OpConstNil)
	case bool:
		if x {
			return m.Op(OpConstTrue)
		}
		return m.Op(OpConstFalse)
	}
	if m.asm.err != nil {
		return m
	}
	idx, err := m.asm.class.Pool.AddValue(v)
	m.asm.fail(err)
	return m.Op(OpConst, int(idx))
}

// GetField pops an object and pushes its named field.
func (m *MethodBuilder) GetField(name string) *MethodBuilder {
	return m.Op(OpGetField, m.intern(name))
}

// PutField pops a value and an object and stores the field.
func (m *MethodBuilder) PutField(name string) *MethodBuilder {
	return m.Op(OpPutField, m.intern(name))
}

// Invoke calls name:desc on the receiver below argc arguments.
func (m *MethodBuilder) Invoke(name, desc string, argc int) *MethodBuilder {
	return m.Op(OpInvoke, m.intern(MemberRef(name, desc)), argc)
}

// New instantiates class.
func (m *MethodBuilder) New(class string) *MethodBuilder {
	return m.Op(OpNew, m.intern(class))
}

// Hook emits a hook instruction referencing the named host hook.
func (m *MethodBuilder) Hook(op Opcode, name string, argc int) *MethodBuilder {
	if !op.IsHook() {
		m.asm.fail(fmt.Errorf("%s is not a hook opcode", op))
		return m
	}
	return m.Op(op, m.intern(name), argc)
}

// NewLabel allocates an unbound label.
func (m *MethodBuilder) NewLabel() Label {
	m.labels = append(m.labels, -1)
	return Label(len(m.labels) - 1)
}

// Mark binds l to the next instruction.
func (m *MethodBuilder) Mark(l Label) *MethodBuilder {
	m.labels[l] = len(m.instrs)
	return m
}

// Jump emits a jump to l.
func (m *MethodBuilder) Jump(op Opcode, l Label) *MethodBuilder {
	if !op.IsJump() {
		m.asm.fail(fmt.Errorf("%s is not a jump opcode", op))
		return m
	}
	return m.Op(op, int(l))
}

// End resolves labels, encodes the body and adds the method to the class.
// A method with no instructions is emitted without code.
func (m *MethodBuilder) End() *Assembler {
	a := m.asm
	if a.err != nil {
		return a
	}
	for i := range m.instrs {
		if !m.instrs[i].Op.IsJump() {
			continue
		}
		l := m.instrs[i].Arg
		if l < 0 || l >= len(m.labels) || m.labels[l] < 0 {
			a.fail(fmt.Errorf("method %s%s: unbound label %d", m.name, m.desc, l))
			return a
		}
		m.instrs[i].Arg = m.labels[l]
	}
	var code []byte
	if len(m.instrs) > 0 {
		var err error
		if code, err = EncodeCode(m.instrs); err != nil {
			a.fail(fmt.Errorf("method %s%s: %w", m.name, m.desc, err))
			return a
		}
	}
	if m.locals > 255 {
		a.fail(fmt.Errorf("method %s%s: too many locals (%d)", m.name, m.desc, m.locals))
		return a
	}
	_, err := a.class.AddMethod(m.access, m.name, m.desc, uint8(m.locals), code)
	a.fail(err)
	return a
}
