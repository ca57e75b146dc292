package classfile

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// FormatVersion is the current class binary format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// Magic bytes for class binaries: "WCLS".
var Magic = [4]byte{'W', 'C', 'L', 'S'}

// NoIndex marks an absent pool reference (e.g. a root class's superclass).
const NoIndex uint16 = 0xFFFF

// MaxPoolSize is the largest number of constants a class may carry.
const MaxPoolSize = int(NoIndex)

// ErrPoolFull is returned when adding a constant would overflow the pool.
var ErrPoolFull = errors.New("constant pool full")

// AccessFlags describe the visibility and modifiers of a class or member.
type AccessFlags uint16

const (
	AccPublic    AccessFlags = 0x0001
	AccPrivate   AccessFlags = 0x0002
	AccProtected AccessFlags = 0x0004
	AccStatic    AccessFlags = 0x0008
	AccFinal     AccessFlags = 0x0010
	AccNative    AccessFlags = 0x0100
	AccAbstract  AccessFlags = 0x0400
	AccSynthetic AccessFlags = 0x1000
)

var accessNames = []struct {
	flag AccessFlags
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccNative, "native"},
	{AccAbstract, "abstract"},
	{AccSynthetic, "synthetic"},
}

// Has reports whether every bit of f is set.
func (a AccessFlags) Has(f AccessFlags) bool {
	return a&f == f
}

// Widen makes the member public and drops private/protected/final.
func (a AccessFlags) Widen() AccessFlags {
	return (a &^ (AccPrivate | AccProtected | AccFinal)) | AccPublic
}

func (a AccessFlags) String() string {
	var parts []string
	for _, n := range accessNames {
		if a&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "package"
	}
	return strings.Join(parts, " ")
}

// ConstantTag identifies the kind of a pool entry.
type ConstantTag uint8

const (
	TagUTF8  ConstantTag = 1
	TagInt   ConstantTag = 2
	TagFloat ConstantTag = 3
)

func (t ConstantTag) String() string {
	switch t {
	case TagUTF8:
		return "utf8"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	default:
		return fmt.Sprintf("ConstantTag(%d)", t)
	}
}

// Constant is a single constant pool entry.
type Constant struct {
	Tag   ConstantTag
	Str   string
	Int   int64
	Float float64
}

// Value returns the constant as a runtime value (string, int64 or float64).
func (c Constant) Value() any {
	switch c.Tag {
	case TagInt:
		return c.Int
	case TagFloat:
		return c.Float
	default:
		return c.Str
	}
}

func (c Constant) equal(o Constant) bool {
	if c.Tag != o.Tag {
		return false
	}
	switch c.Tag {
	case TagInt:
		return c.Int == o.Int
	case TagFloat:
		return math.Float64bits(c.Float) == math.Float64bits(o.Float)
	default:
		return c.Str == o.Str
	}
}

// Pool is the class-level constant pool. Names, descriptors, literals and
// hook references are all stored here and referenced by index.
// Entries are append-only; existing indices never move.
type Pool struct {
	entries []Constant
}

// NewPool creates an empty constant pool.
func NewPool() *Pool {
	return &Pool{entries: make([]Constant, 0, 16)}
}

// Len returns the number of entries.
func (p *Pool) Len() int {
	return len(p.entries)
}

// At returns the constant at idx.
func (p *Pool) At(idx uint16) (Constant, bool) {
	if int(idx) >= len(p.entries) {
		return Constant{}, false
	}
	return p.entries[idx], true
}

// UTF8 returns the string stored at idx.
func (p *Pool) UTF8(idx uint16) (string, error) {
	c, ok := p.At(idx)
	if !ok {
		return "", fmt.Errorf("%w: %d (pool size %d)", ErrInvalidPoolIndex, idx, len(p.entries))
	}
	if c.Tag != TagUTF8 {
		return "", fmt.Errorf("%w: %d is %s, want utf8", ErrInvalidPoolIndex, idx, c.Tag)
	}
	return c.Str, nil
}

// AddUTF8 interns a string constant and returns its index. The first
// matching entry is reused so repeated calls are deterministic.
func (p *Pool) AddUTF8(s string) (uint16, error) {
	return p.add(Constant{Tag: TagUTF8, Str: s})
}

// AddInt interns an integer constant.
func (p *Pool) AddInt(v int64) (uint16, error) {
	return p.add(Constant{Tag: TagInt, Int: v})
}

// AddFloat interns a floating point constant.
func (p *Pool) AddFloat(v float64) (uint16, error) {
	return p.add(Constant{Tag: TagFloat, Float: v})
}

// AddValue interns a string, integer or float value.
func (p *Pool) AddValue(v any) (uint16, error) {
	switch x := v.(type) {
	case string:
		return p.AddUTF8(x)
	case int:
		return p.AddInt(int64(x))
	case int64:
		return p.AddInt(x)
	case float64:
		return p.AddFloat(x)
	default:
		return 0, fmt.Errorf("unsupported constant type %T", v)
	}
}

func (p *Pool) add(c Constant) (uint16, error) {
	for i, e := range p.entries {
		if e.equal(c) {
			return uint16(i), nil
		}
	}
	if len(p.entries) >= MaxPoolSize {
		return 0, ErrPoolFull
	}
	p.entries = append(p.entries, c)
	return uint16(len(p.entries) - 1), nil
}

// appendRaw appends without interning; used by the reader so duplicate
// entries in the input survive a round trip.
func (p *Pool) appendRaw(c Constant) {
	p.entries = append(p.entries, c)
}

func (p *Pool) clone() *Pool {
	entries := make([]Constant, len(p.entries))
	copy(entries, p.entries)
	return &Pool{entries: entries}
}

// Field is a declared field.
type Field struct {
	Access     AccessFlags
	Name       string
	Descriptor string
	NameIndex  uint16
	DescIndex  uint16
}

// Method is a declared method. Code is empty for abstract and native methods.
type Method struct {
	Access     AccessFlags
	Name       string
	Descriptor string
	NameIndex  uint16
	DescIndex  uint16
	MaxLocals  uint8
	Code       []byte
}

// Key returns "name:descriptor", the form used by member references.
func (m *Method) Key() string {
	return MemberRef(m.Name, m.Descriptor)
}

// HasCode reports whether the method carries a body.
func (m *Method) HasCode() bool {
	return len(m.Code) > 0
}

// Attribute is an opaque named blob preserved verbatim across rewrites.
type Attribute struct {
	Name      string
	NameIndex uint16
	Data      []byte
}

// Class is the decoded form of a class binary.
type Class struct {
	Version    uint16
	Flags      uint16
	Pool       *Pool
	Access     AccessFlags
	Name       string
	Super      string // empty for root classes
	ThisIndex  uint16
	SuperIndex uint16
	Fields     []*Field
	Methods    []*Method
	Attributes []Attribute
}

// NewClass creates an empty class with the given name and superclass.
func NewClass(name, super string, access AccessFlags) (*Class, error) {
	c := &Class{
		Version:    FormatVersion,
		Pool:       NewPool(),
		Access:     access,
		Name:       name,
		Super:      super,
		SuperIndex: NoIndex,
	}
	var err error
	if c.ThisIndex, err = c.Pool.AddUTF8(name); err != nil {
		return nil, err
	}
	if super != "" {
		if c.SuperIndex, err = c.Pool.AddUTF8(super); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddField declares a new field, interning its name and descriptor.
func (c *Class) AddField(access AccessFlags, name, desc string) (*Field, error) {
	if c.Field(name) != nil {
		return nil, fmt.Errorf("%w: field %s.%s", ErrDuplicateMember, c.Name, name)
	}
	f := &Field{Access: access, Name: name, Descriptor: desc}
	var err error
	if f.NameIndex, err = c.Pool.AddUTF8(name); err != nil {
		return nil, err
	}
	if f.DescIndex, err = c.Pool.AddUTF8(desc); err != nil {
		return nil, err
	}
	c.Fields = append(c.Fields, f)
	return f, nil
}

// AddMethod declares a new method, interning its name and descriptor.
func (c *Class) AddMethod(access AccessFlags, name, desc string, maxLocals uint8, code []byte) (*Method, error) {
	if c.Method(name, desc) != nil {
		return nil, fmt.Errorf("%w: method %s.%s%s", ErrDuplicateMember, c.Name, name, desc)
	}
	m := &Method{Access: access, Name: name, Descriptor: desc, MaxLocals: maxLocals, Code: code}
	var err error
	if m.NameIndex, err = c.Pool.AddUTF8(name); err != nil {
		return nil, err
	}
	if m.DescIndex, err = c.Pool.AddUTF8(desc); err != nil {
		return nil, err
	}
	c.Methods = append(c.Methods, m)
	return m, nil
}

// AddAttribute appends an opaque attribute.
func (c *Class) AddAttribute(name string, data []byte) error {
	idx, err := c.Pool.AddUTF8(name)
	if err != nil {
		return err
	}
	c.Attributes = append(c.Attributes, Attribute{Name: name, NameIndex: idx, Data: append([]byte(nil), data...)})
	return nil
}

// Method returns the method with the exact name and descriptor, or nil.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// MethodsNamed returns every overload with the given name.
func (c *Class) MethodsNamed(name string) []*Method {
	var out []*Method
	for _, m := range c.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Field returns the field with the given name, or nil.
func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy. Edits on the copy never reach the original.
func (c *Class) Clone() *Class {
	out := *c
	out.Pool = c.Pool.clone()
	out.Fields = make([]*Field, len(c.Fields))
	for i, f := range c.Fields {
		fc := *f
		out.Fields[i] = &fc
	}
	out.Methods = make([]*Method, len(c.Methods))
	for i, m := range c.Methods {
		mc := *m
		if m.Code != nil {
			mc.Code = append([]byte(nil), m.Code...)
		}
		out.Methods[i] = &mc
	}
	out.Attributes = make([]Attribute, len(c.Attributes))
	for i, a := range c.Attributes {
		out.Attributes[i] = Attribute{Name: a.Name, NameIndex: a.NameIndex, Data: append([]byte(nil), a.Data...)}
	}
	return &out
}
