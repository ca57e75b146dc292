package classfile

import "sort"

// MethodSymbol describes one declared method.
type MethodSymbol struct {
	Name       string
	Descriptor string
	Access     AccessFlags
	HasCode    bool
}

// FieldSymbol describes one declared field.
type FieldSymbol struct {
	Name       string
	Descriptor string
	Access     AccessFlags
}

// SymbolTable is the set of member names and signatures of a class, used
// to resolve patch targets without touching method bodies.
type SymbolTable struct {
	Class   string
	Super   string
	Methods []MethodSymbol
	Fields  []FieldSymbol
}

// Method returns the method with the exact name and descriptor.
func (s *SymbolTable) Method(name, desc string) (MethodSymbol, bool) {
	for _, m := range s.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m, true
		}
	}
	return MethodSymbol{}, false
}

// Overloads returns every method named name, in declaration order.
func (s *SymbolTable) Overloads(name string) []MethodSymbol {
	var out []MethodSymbol
	for _, m := range s.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Field returns the field named name.
func (s *SymbolTable) Field(name string) (FieldSymbol, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSymbol{}, false
}

// MethodKeys returns sorted "name:desc" keys of every method.
func (s *SymbolTable) MethodKeys() []string {
	keys := make([]string, len(s.Methods))
	for i, m := range s.Methods {
		keys[i] = MemberRef(m.Name, m.Descriptor)
	}
	sort.Strings(keys)
	return keys
}

// Binary is a class binary together with its parsed form and symbol table.
// The bytes it was opened from are never written to.
type Binary struct {
	data    []byte
	class   *Class
	symbols *SymbolTable
}

// Open parses data into a Binary.
func Open(data []byte) (*Binary, error) {
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return &Binary{data: data, class: c, symbols: symbolsOf(c)}, nil
}

func symbolsOf(c *Class) *SymbolTable {
	st := &SymbolTable{
		Class:   c.Name,
		Super:   c.Super,
		Methods: make([]MethodSymbol, len(c.Methods)),
		Fields:  make([]FieldSymbol, len(c.Fields)),
	}
	for i, m := range c.Methods {
		st.Methods[i] = MethodSymbol{Name: m.Name, Descriptor: m.Descriptor, Access: m.Access, HasCode: m.HasCode()}
	}
	for i, f := range c.Fields {
		st.Fields[i] = FieldSymbol{Name: f.Name, Descriptor: f.Descriptor, Access: f.Access}
	}
	return st
}

// Name returns the class name recorded in the binary.
func (b *Binary) Name() string { return b.class.Name }

// Bytes returns the original bytes. Callers must not modify them.
func (b *Binary) Bytes() []byte { return b.data }

// Symbols returns the derived symbol table.
func (b *Binary) Symbols() *SymbolTable { return b.symbols }

// Edit returns a deep copy of the parsed class for modification.
func (b *Binary) Edit() *Class { return b.class.Clone() }
