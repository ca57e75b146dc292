package catalog

import (
	"fmt"
	"path"
	"strings"

	"github.com/chazu/weft/classfile"
)

// EditKind is the category of a binary edit.
type EditKind int

const (
	EntryGuard EditKind = iota + 1
	ReturnDecorator
	FullOverwrite
	AccessorExposure
)

var kindNames = map[EditKind]string{
	EntryGuard:       "entry-guard",
	ReturnDecorator:  "return-decorator",
	FullOverwrite:    "overwrite",
	AccessorExposure: "accessor",
}

func (k EditKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EditKind(%d)", int(k))
}

// ParseEditKind maps the resource spelling to an EditKind.
func ParseEditKind(s string) (EditKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown edit kind %q", s)
}

// ClassSelector matches class names. Dots are accepted as package
// separators and normalised to slashes.
//
//	game/block/Leaves   exact
//	game/block/*Leaves  glob within one package
//	game/block/**       every class under game/block
type ClassSelector struct {
	pattern string
	glob    bool
	subtree bool
}

// Selector builds a ClassSelector. Malformed patterns are reported by
// Validate, which the catalog builder calls.
func Selector(s string) ClassSelector {
	p := strings.ReplaceAll(strings.TrimSpace(s), ".", "/")
	sel := ClassSelector{pattern: p}
	switch {
	case strings.HasSuffix(p, "/**"):
		sel.subtree = true
	case strings.ContainsAny(p, "*?["):
		sel.glob = true
	}
	return sel
}

// String returns the normalised pattern.
func (s ClassSelector) String() string { return s.pattern }

// Exact reports whether the selector names a single class.
func (s ClassSelector) Exact() bool { return !s.glob && !s.subtree }

// Validate checks that the selector is well formed.
func (s ClassSelector) Validate() error {
	switch {
	case s.pattern == "":
		return fmt.Errorf("empty class selector")
	case s.subtree:
		prefix := strings.TrimSuffix(s.pattern, "/**")
		if !classfile.IsValidClassName(prefix) {
			return fmt.Errorf("invalid package prefix in selector %q", s.pattern)
		}
	case s.glob:
		if strings.Contains(s.pattern, "**") {
			return fmt.Errorf("'**' is only allowed as the final segment of %q", s.pattern)
		}
		if _, err := path.Match(s.pattern, ""); err != nil {
			return fmt.Errorf("invalid glob %q: %w", s.pattern, err)
		}
	default:
		if !classfile.IsValidClassName(s.pattern) {
			return fmt.Errorf("invalid class name %q", s.pattern)
		}
	}
	return nil
}

// Matches reports whether className (slash or dot separated) is selected.
func (s ClassSelector) Matches(className string) bool {
	name := strings.ReplaceAll(className, ".", "/")
	switch {
	case s.subtree:
		return strings.HasPrefix(name, strings.TrimSuffix(s.pattern, "**"))
	case s.glob:
		ok, err := path.Match(s.pattern, name)
		return err == nil && ok
	default:
		return name == s.pattern
	}
}

// MethodRef names a target method. An empty Descriptor matches the method
// by name alone, which is only valid when the name is not overloaded.
type MethodRef struct {
	Name       string
	Descriptor string
}

// IsZero reports whether no method is named.
func (m MethodRef) IsZero() bool { return m.Name == "" }

func (m MethodRef) String() string {
	if m.Descriptor == "" {
		return m.Name
	}
	return m.Name + m.Descriptor
}

func (m MethodRef) validate() error {
	if !classfile.IsValidMemberName(m.Name) {
		return fmt.Errorf("invalid method name %q", m.Name)
	}
	if m.Descriptor != "" {
		if _, err := classfile.ParseMethodDescriptor(m.Descriptor); err != nil {
			return err
		}
	}
	return nil
}

// MemberKind says whether an exposure targets a field or a method.
type MemberKind int

const (
	MemberField MemberKind = iota
	MemberMethod
)

func (k MemberKind) String() string {
	if k == MemberMethod {
		return "method"
	}
	return "field"
}

// Exposure describes an AccessorExposure edit: the inaccessible member and
// the public accessor that will be generated for it.
//
// For a field, Descriptor "()T" generates a getter and "(T)V" a setter. For
// a method, the accessor is an invoker with the member's own descriptor.
// With Widen the member itself is also made public; Accessor may then be
// empty to only widen.
type Exposure struct {
	Member           string
	MemberKind       MemberKind
	MemberDescriptor string
	Accessor         string
	Descriptor       string
	Widen            bool
}

// IsZero reports whether no exposure is declared.
func (e Exposure) IsZero() bool { return e.Member == "" }

// AccessorKey identifies the generated accessor on its class.
func (e Exposure) AccessorKey() string {
	return classfile.MemberRef(e.Accessor, e.Descriptor)
}

func (e Exposure) validate() error {
	if !classfile.IsValidMemberName(e.Member) {
		return fmt.Errorf("invalid exposed member %q", e.Member)
	}
	if e.MemberKind == MemberMethod {
		if _, err := classfile.ParseMethodDescriptor(e.MemberDescriptor); err != nil {
			return fmt.Errorf("exposed method %s: %w", e.Member, err)
		}
	}
	if e.Accessor == "" {
		if !e.Widen {
			return fmt.Errorf("exposure of %s declares neither an accessor nor widen", e.Member)
		}
		return nil
	}
	if !classfile.IsValidIdentifier(e.Accessor) {
		return fmt.Errorf("invalid accessor name %q", e.Accessor)
	}
	mt, err := classfile.ParseMethodDescriptor(e.Descriptor)
	if err != nil {
		return fmt.Errorf("accessor %s: %w", e.Accessor, err)
	}
	switch e.MemberKind {
	case MemberField:
		getter := mt.ParamCount() == 0 && !mt.IsVoid()
		setter := mt.ParamCount() == 1 && mt.IsVoid()
		if !getter && !setter {
			return fmt.Errorf("field accessor %s%s is neither a getter ()T nor a setter (T)V", e.Accessor, e.Descriptor)
		}
	case MemberMethod:
		if e.Descriptor != e.MemberDescriptor {
			return fmt.Errorf("invoker %s%s must have the descriptor of %s%s", e.Accessor, e.Descriptor, e.Member, e.MemberDescriptor)
		}
	}
	return nil
}

// PatchDescriptor declares one binary edit.
type PatchDescriptor struct {
	ID     string
	Target ClassSelector
	Method MethodRef
	Kind   EditKind

	// Guard names a hook.Guard; GuardExpr is an expression compiled into
	// one at build time. Exactly one is set on an EntryGuard.
	Guard       string
	GuardExpr   string
	CancelValue any

	// Body names the replacement (FullOverwrite) or decorator
	// (ReturnDecorator) hook.
	Body string

	Cancellable bool
	Optional    bool
	Exposure    Exposure
}

func (p PatchDescriptor) String() string {
	if p.Method.IsZero() {
		return fmt.Sprintf("%s[%s %s]", p.ID, p.Kind, p.Target)
	}
	return fmt.Sprintf("%s[%s %s.%s]", p.ID, p.Kind, p.Target, p.Method)
}

// GuardHookName is the hook name an expression guard is registered under.
func GuardHookName(patchID string) string {
	return patchID + "#guard"
}

// IsValidPatchID reports whether id uses only letters, digits and . _ - :
func IsValidPatchID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-' || r == ':':
		default:
			return false
		}
	}
	return true
}
