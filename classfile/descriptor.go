package classfile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDescriptor is returned for malformed field or method descriptors.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// MethodType is a parsed method descriptor such as "(ILgame/World;)Z".
type MethodType struct {
	Params []string // field descriptors of each parameter
	Return string   // field descriptor of the result, "V" for void
}

// ParamCount returns the number of declared parameters.
func (m MethodType) ParamCount() int {
	return len(m.Params)
}

// IsVoid reports whether the method returns no value.
func (m MethodType) IsVoid() bool {
	return m.Return == "V"
}

// String re-encodes the method type as a descriptor.
func (m MethodType) String() string {
	return "(" + strings.Join(m.Params, "") + ")" + m.Return
}

// ParseMethodDescriptor parses a method descriptor of the form
// "(" {FieldType} ")" (FieldType | "V").
func ParseMethodDescriptor(desc string) (MethodType, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return MethodType{}, fmt.Errorf("%w: %q: must start with '('", ErrInvalidDescriptor, desc)
	}
	var mt MethodType
	pos := 1
	for pos < len(desc) && desc[pos] != ')' {
		n, err := fieldTypeLen(desc[pos:])
		if err != nil {
			return MethodType{}, fmt.Errorf("%w: %q: parameter %d: %v", ErrInvalidDescriptor, desc, len(mt.Params), err)
		}
		mt.Params = append(mt.Params, desc[pos:pos+n])
		pos += n
	}
	if pos >= len(desc) {
		return MethodType{}, fmt.Errorf("%w: %q: missing ')'", ErrInvalidDescriptor, desc)
	}
	pos++ // ')'

	ret := desc[pos:]
	if ret == "V" {
		mt.Return = ret
		return mt, nil
	}
	n, err := fieldTypeLen(ret)
	if err != nil {
		return MethodType{}, fmt.Errorf("%w: %q: return type: %v", ErrInvalidDescriptor, desc, err)
	}
	if n != len(ret) {
		return MethodType{}, fmt.Errorf("%w: %q: trailing characters after return type", ErrInvalidDescriptor, desc)
	}
	mt.Return = ret
	return mt, nil
}

// ValidateFieldDescriptor checks that desc is exactly one field type.
func ValidateFieldDescriptor(desc string) error {
	n, err := fieldTypeLen(desc)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidDescriptor, desc, err)
	}
	if n != len(desc) {
		return fmt.Errorf("%w: %q: trailing characters", ErrInvalidDescriptor, desc)
	}
	return nil
}

// fieldTypeLen returns the length of the field type at the start of s.
func fieldTypeLen(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty type")
	}
	switch s[0] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return 1, nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 0 {
			return 0, errors.New("unterminated class type")
		}
		if !IsValidClassName(s[1:end]) {
			return 0, fmt.Errorf("invalid class name %q", s[1:end])
		}
		return end + 1, nil
	case '[':
		n, err := fieldTypeLen(s[1:])
		if err != nil {
			return 0, err
		}
		return n + 1, nil
	default:
		return 0, fmt.Errorf("unknown type character %q", s[0])
	}
}

// IsValidClassName reports whether name is a '/'-separated sequence of
// identifiers, e.g. "game/block/LeavesBlock" or "game/Outer$Inner".
func IsValidClassName(name string) bool {
	if name == "" {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if !IsValidIdentifier(seg) {
			return false
		}
	}
	return true
}

// IsValidIdentifier reports whether s is a member or class-segment name.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// IsValidMemberName accepts identifiers plus the special "<init>" and
// "<clinit>" names.
func IsValidMemberName(s string) bool {
	return s == "<init>" || s == "<clinit>" || IsValidIdentifier(s)
}

// MemberRef encodes a method reference as used by OpInvoke operands.
func MemberRef(name, desc string) string {
	return name + ":" + desc
}

// SplitMemberRef reverses MemberRef.
func SplitMemberRef(ref string) (name, desc string, ok bool) {
	i := strings.IndexByte(ref, ':')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
