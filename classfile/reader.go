package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Format Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic     = errors.New("invalid magic number: expected WCLS")
	ErrVersionMismatch  = errors.New("class binary version mismatch")
	ErrUnexpectedEOF    = errors.New("unexpected end of class data")
	ErrTrailingData     = errors.New("trailing data after class")
	ErrInvalidPoolIndex = errors.New("invalid constant pool index")
	ErrInvalidTag       = errors.New("invalid constant tag")
	ErrDuplicateMember  = errors.New("duplicate member")
)

// headerSize is magic(4) + version(2) + flags(2).
const headerSize = 8

// reader walks a class binary. It never retains or modifies the input
// beyond the copies it makes for code and attribute payloads.
type reader struct {
	data   []byte
	offset int
}

func (r *reader) u8() (uint8, error) {
	if r.offset+1 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, r.data[r.offset:r.offset+n])
	r.offset += n
	return out, nil
}

// Parse decodes a class binary. The input slice is not modified and is not
// referenced by the returned Class.
func Parse(data []byte) (*Class, error) {
	if len(data) < headerSize {
		return nil, ErrUnexpectedEOF
	}
	if [4]byte(data[0:4]) != Magic {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, data[0:4])
	}

	r := &reader{data: data, offset: 4}
	c := &Class{Pool: NewPool()}

	var err error
	if c.Version, err = r.u16(); err != nil {
		return nil, err
	}
	if c.Version != FormatVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, FormatVersion, c.Version)
	}
	if c.Flags, err = r.u16(); err != nil {
		return nil, err
	}

	if err := r.readPool(c.Pool); err != nil {
		return nil, fmt.Errorf("reading constant pool: %w", err)
	}

	access, err := r.u16()
	if err != nil {
		return nil, err
	}
	c.Access = AccessFlags(access)

	if c.ThisIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if c.Name, err = c.Pool.UTF8(c.ThisIndex); err != nil {
		return nil, fmt.Errorf("class name: %w", err)
	}
	if c.SuperIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if c.SuperIndex != NoIndex {
		if c.Super, err = c.Pool.UTF8(c.SuperIndex); err != nil {
			return nil, fmt.Errorf("superclass name: %w", err)
		}
	}

	if err := r.readFields(c); err != nil {
		return nil, fmt.Errorf("reading fields of %s: %w", c.Name, err)
	}
	if err := r.readMethods(c); err != nil {
		return nil, fmt.Errorf("reading methods of %s: %w", c.Name, err)
	}
	if err := r.readAttributes(c); err != nil {
		return nil, fmt.Errorf("reading attributes of %s: %w", c.Name, err)
	}

	if r.offset != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-r.offset)
	}
	return c, nil
}

func (r *reader) readPool(p *Pool) error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	if int(count) > MaxPoolSize {
		return ErrPoolFull
	}
	for i := 0; i < int(count); i++ {
		tag, err := r.u8()
		if err != nil {
			return err
		}
		switch ConstantTag(tag) {
		case TagUTF8:
			n, err := r.u16()
			if err != nil {
				return err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return fmt.Errorf("constant %d: %w", i, err)
			}
			p.appendRaw(Constant{Tag: TagUTF8, Str: string(b)})
		case TagInt:
			v, err := r.u64()
			if err != nil {
				return err
			}
			p.appendRaw(Constant{Tag: TagInt, Int: int64(v)})
		case TagFloat:
			v, err := r.u64()
			if err != nil {
				return err
			}
			p.appendRaw(Constant{Tag: TagFloat, Float: math.Float64frombits(v)})
		default:
			return fmt.Errorf("%w: %d at constant %d", ErrInvalidTag, tag, i)
		}
	}
	return nil
}

// member reads the shared access/name/descriptor prefix of fields and methods.
func (r *reader) member(p *Pool) (access AccessFlags, name, desc string, nameIdx, descIdx uint16, err error) {
	a, err := r.u16()
	if err != nil {
		return
	}
	access = AccessFlags(a)
	if nameIdx, err = r.u16(); err != nil {
		return
	}
	if descIdx, err = r.u16(); err != nil {
		return
	}
	if name, err = p.UTF8(nameIdx); err != nil {
		return
	}
	desc, err = p.UTF8(descIdx)
	return
}

func (r *reader) readFields(c *Class) error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	c.Fields = make([]*Field, 0, count)
	for i := 0; i < int(count); i++ {
		access, name, desc, ni, di, err := r.member(c.Pool)
		if err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
		c.Fields = append(c.Fields, &Field{Access: access, Name: name, Descriptor: desc, NameIndex: ni, DescIndex: di})
	}
	return nil
}

func (r *reader) readMethods(c *Class) error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	c.Methods = make([]*Method, 0, count)
	for i := 0; i < int(count); i++ {
		access, name, desc, ni, di, err := r.member(c.Pool)
		if err != nil {
			return fmt.Errorf("method %d: %w", i, err)
		}
		locals, err := r.u8()
		if err != nil {
			return fmt.Errorf("method %s: %w", name, err)
		}
		codeLen, err := r.u32()
		if err != nil {
			return fmt.Errorf("method %s: %w", name, err)
		}
		var code []byte
		if codeLen > 0 {
			if code, err = r.bytes(int(codeLen)); err != nil {
				return fmt.Errorf("method %s code: %w", name, err)
			}
		}
		c.Methods = append(c.Methods, &Method{
			Access:     access,
			Name:       name,
			Descriptor: desc,
			NameIndex:  ni,
			DescIndex:  di,
			MaxLocals:  locals,
			Code:       code,
		})
	}
	return nil
}

func (r *reader) readAttributes(c *Class) error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	c.Attributes = make([]Attribute, 0, count)
	for i := 0; i < int(count); i++ {
		ni, err := r.u16()
		if err != nil {
			return err
		}
		name, err := c.Pool.UTF8(ni)
		if err != nil {
			return fmt.Errorf("attribute %d: %w", i, err)
		}
		n, err := r.u32()
		if err != nil {
			return err
		}
		data, err := r.bytes(int(n))
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		c.Attributes = append(c.Attributes, Attribute{Name: name, NameIndex: ni, Data: data})
	}
	return nil
}
