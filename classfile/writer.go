package classfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrStaleIndex is returned when a member's pool index no longer names the
// string the member carries.
var ErrStaleIndex = errors.New("stale constant pool index")

// Encode serializes a class to its binary form.
//
// Format (all integers big-endian):
//
//	[magic:4] [version:2] [flags:2]
//	[pool_count:2] {[tag:1] [payload...]}
//	[access:2] [this:2] [super:2]
//	[field_count:2] {[access:2] [name:2] [desc:2]}
//	[method_count:2] {[access:2] [name:2] [desc:2] [locals:1] [code_len:4] [code...]}
//	[attr_count:2] {[name:2] [len:4] [data...]}
//
// Encode is deterministic: the same Class always yields the same bytes, and
// a Class obtained from Parse re-encodes to the exact input.
func Encode(c *Class) ([]byte, error) {
	if err := c.checkIndices(); err != nil {
		return nil, err
	}
	if len(c.Fields) > math.MaxUint16 || len(c.Methods) > math.MaxUint16 || len(c.Attributes) > math.MaxUint16 {
		return nil, fmt.Errorf("class %s: too many members", c.Name)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + c.Pool.Len()*16 + 256)
	w := &writer{buf: &buf}

	buf.Write(Magic[:])
	w.u16(c.Version)
	w.u16(c.Flags)

	// Constant pool
	w.u16(uint16(c.Pool.Len()))
	for _, e := range c.Pool.entries {
		buf.WriteByte(byte(e.Tag))
		switch e.Tag {
		case TagUTF8:
			if len(e.Str) > math.MaxUint16 {
				return nil, fmt.Errorf("class %s: constant too long (%d bytes)", c.Name, len(e.Str))
			}
			w.u16(uint16(len(e.Str)))
			buf.WriteString(e.Str)
		case TagInt:
			w.u64(uint64(e.Int))
		case TagFloat:
			w.u64(math.Float64bits(e.Float))
		default:
			return nil, fmt.Errorf("%w: %d", ErrInvalidTag, e.Tag)
		}
	}

	w.u16(uint16(c.Access))
	w.u16(c.ThisIndex)
	w.u16(c.SuperIndex)

	w.u16(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		w.u16(uint16(f.Access))
		w.u16(f.NameIndex)
		w.u16(f.DescIndex)
	}

	w.u16(uint16(len(c.Methods)))
	for _, m := range c.Methods {
		w.u16(uint16(m.Access))
		w.u16(m.NameIndex)
		w.u16(m.DescIndex)
		buf.WriteByte(m.MaxLocals)
		w.u32(uint32(len(m.Code)))
		buf.Write(m.Code)
	}

	w.u16(uint16(len(c.Attributes)))
	for _, a := range c.Attributes {
		w.u16(a.NameIndex)
		w.u32(uint32(len(a.Data)))
		buf.Write(a.Data)
	}

	return buf.Bytes(), nil
}

type writer struct {
	buf *bytes.Buffer
	tmp [8]byte
}

func (w *writer) u16(v uint16) {
	binary.BigEndian.PutUint16(w.tmp[:2], v)
	w.buf.Write(w.tmp[:2])
}

func (w *writer) u32(v uint32) {
	binary.BigEndian.PutUint32(w.tmp[:4], v)
	w.buf.Write(w.tmp[:4])
}

func (w *writer) u64(v uint64) {
	binary.BigEndian.PutUint64(w.tmp[:8], v)
	w.buf.Write(w.tmp[:8])
}

// checkIndices verifies every name/descriptor index still resolves to the
// string recorded alongside it.
func (c *Class) checkIndices() error {
	check := func(what string, idx uint16, want string) error {
		got, err := c.Pool.UTF8(idx)
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if got != want {
			return fmt.Errorf("%w: %s index %d is %q, want %q", ErrStaleIndex, what, idx, got, want)
		}
		return nil
	}
	if err := check("class name", c.ThisIndex, c.Name); err != nil {
		return err
	}
	if c.SuperIndex != NoIndex {
		if err := check("superclass", c.SuperIndex, c.Super); err != nil {
			return err
		}
	} else if c.Super != "" {
		return fmt.Errorf("%w: superclass %q has no index", ErrStaleIndex, c.Super)
	}
	for _, f := range c.Fields {
		if err := check("field "+f.Name, f.NameIndex, f.Name); err != nil {
			return err
		}
		if err := check("field "+f.Name+" descriptor", f.DescIndex, f.Descriptor); err != nil {
			return err
		}
	}
	for _, m := range c.Methods {
		if err := check("method "+m.Name, m.NameIndex, m.Name); err != nil {
			return err
		}
		if err := check("method "+m.Name+" descriptor", m.DescIndex, m.Descriptor); err != nil {
			return err
		}
	}
	for _, a := range c.Attributes {
		if err := check("attribute", a.NameIndex, a.Name); err != nil {
			return err
		}
	}
	return nil
}
