package rewrite

import (
	"fmt"

	"github.com/chazu/weft/catalog"
	"github.com/chazu/weft/classfile"
)

// accessorAccess is given to every generated accessor.
const accessorAccess = classfile.AccPublic | classfile.AccSynthetic

// expose applies an AccessorExposure patch: it generates a getter, setter
// or invoker and optionally widens the member itself.
func (w *weaver) expose(p catalog.PatchDescriptor) error {
	e := p.Exposure

	var code []classfile.Instruction
	switch e.MemberKind {
	case catalog.MemberField:
		f := w.cls.Field(e.Member)
		if f == nil {
			return &TargetNotFoundError{Class: w.class, Patch: p.ID, Member: "field " + e.Member}
		}
		if f.Access.Has(classfile.AccStatic) {
			return w.fail(p, fmt.Errorf("field %s is static", e.Member))
		}
		if e.Accessor != "" {
			var err error
			if code, err = w.fieldAccessor(f, e); err != nil {
				return w.fail(p, err)
			}
		}
		if e.Widen {
			f.Access = f.Access.Widen()
		}

	case catalog.MemberMethod:
		m := w.cls.Method(e.Member, e.MemberDescriptor)
		if m == nil {
			return &TargetNotFoundError{Class: w.class, Patch: p.ID, Member: "method " + classfile.MemberRef(e.Member, e.MemberDescriptor)}
		}
		if m.Access.Has(classfile.AccStatic) {
			return w.fail(p, fmt.Errorf("method %s is static", m.Key()))
		}
		if e.Accessor != "" {
			var err error
			if code, err = w.invoker(m); err != nil {
				return w.fail(p, err)
			}
		}
		if e.Widen {
			m.Access = m.Access.Widen()
		}

	default:
		return w.fail(p, fmt.Errorf("unknown member kind %d", int(e.MemberKind)))
	}

	if e.Accessor == "" {
		return nil
	}
	key := e.AccessorKey()
	if prev, ok := w.accessors[key]; ok {
		return w.fail(p, fmt.Errorf("accessor %s already generated by %s", key, prev))
	}
	raw, err := classfile.EncodeCode(code)
	if err != nil {
		return w.fail(p, err)
	}
	if _, err := w.cls.AddMethod(accessorAccess, e.Accessor, e.Descriptor, 0, raw); err != nil {
		return w.fail(p, err)
	}
	w.accessors[key] = p.ID
	return nil
}

func (w *weaver) fieldAccessor(f *classfile.Field, e catalog.Exposure) ([]classfile.Instruction, error) {
	mt, err := classfile.ParseMethodDescriptor(e.Descriptor)
	if err != nil {
		return nil, err
	}
	name := int(f.NameIndex)
	switch {
	case mt.ParamCount() == 0 && !mt.IsVoid():
		if mt.Return != f.Descriptor {
			return nil, fmt.Errorf("getter %s%s does not match field %s %s", e.Accessor, e.Descriptor, f.Name, f.Descriptor)
		}
		return []classfile.Instruction{
			classfile.Ins(classfile.OpLoadSelf),
			classfile.Ins(classfile.OpGetField, name),
			classfile.Ins(classfile.OpReturn),
		}, nil
	case mt.ParamCount() == 1 && mt.IsVoid():
		if mt.Params[0] != f.Descriptor {
			return nil, fmt.Errorf("setter %s%s does not match field %s %s", e.Accessor, e.Descriptor, f.Name, f.Descriptor)
		}
		if f.Access.Has(classfile.AccFinal) && !e.Widen {
			return nil, fmt.Errorf("setter %s targets final field %s", e.Accessor, f.Name)
		}
		return []classfile.Instruction{
			classfile.Ins(classfile.OpLoadSelf),
			classfile.Ins(classfile.OpLoadArg, 0),
			classfile.Ins(classfile.OpPutField, name),
			classfile.Ins(classfile.OpReturnNil),
		}, nil
	default:
		return nil, fmt.Errorf("accessor %s%s is neither a getter nor a setter", e.Accessor, e.Descriptor)
	}
}

func (w *weaver) invoker(m *classfile.Method) ([]classfile.Instruction, error) {
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	ref, err := w.cls.Pool.AddUTF8(m.Key())
	if err != nil {
		return nil, err
	}
	n := mt.ParamCount()
	code := []classfile.Instruction{classfile.Ins(classfile.OpLoadSelf)}
	for i := 0; i < n; i++ {
		code = append(code, classfile.Ins(classfile.OpLoadArg, i))
	}
	code = append(code, classfile.Ins(classfile.OpInvoke, int(ref), n))
	if mt.IsVoid() {
		return append(code, classfile.Ins(classfile.OpPop), classfile.Ins(classfile.OpReturnNil)), nil
	}
	return append(code, classfile.Ins(classfile.OpReturn)), nil
}
