package rewrite

import (
	"fmt"

	"github.com/chazu/weft/catalog"
	"github.com/chazu/weft/classfile"
)

// weaveMethod applies a guard, overwrite or decorator to m in place.
func (w *weaver) weaveMethod(p catalog.PatchDescriptor, m *classfile.Method) error {
	key := m.Key()
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return w.fail(p, err)
	}
	instrs, err := classfile.DecodeCode(m.Code)
	if err != nil {
		return w.fail(p, fmt.Errorf("decoding %s: %w", key, err))
	}

	var commit func()
	switch p.Kind {
	case catalog.EntryGuard:
		if prev, ok := w.overwritten[key]; ok {
			return w.fail(p, fmt.Errorf("method %s was overwritten by %s", key, prev))
		}
		h, err := w.hookIndex(p.Guard)
		if err != nil {
			return w.fail(p, err)
		}
		var flags int
		if p.Cancellable {
			flags = int(classfile.GuardFlagCancellable)
		}
		at := w.guards[key]
		instrs = classfile.Splice(instrs, at, true, classfile.Ins(classfile.OpGuard, h, flags))
		commit = func() { w.guards[key] = at + 1 }

	case catalog.FullOverwrite:
		// Overlap through two different selectors only shows up here, once
		// the concrete method is known.
		if prev, ok := w.overwritten[key]; ok {
			return w.fail(p, fmt.Errorf("method %s was already overwritten by %s", key, prev))
		}
		if n := w.guards[key]; n > 0 {
			return w.fail(p, fmt.Errorf("method %s already carries %d entry guard(s)", key, n))
		}
		h, err := w.hookIndex(p.Body)
		if err != nil {
			return w.fail(p, err)
		}
		instrs = overwriteBody(h, mt)
		commit = func() { w.overwritten[key] = p.ID }

	case catalog.ReturnDecorator:
		h, err := w.hookIndex(p.Body)
		if err != nil {
			return w.fail(p, err)
		}
		sites := classfile.ReturnSites(instrs)
		if len(sites) == 0 {
			return w.fail(p, fmt.Errorf("method %s has no return instruction", key))
		}
		// Back to front so earlier sites keep their indices. Jumps that
		// targeted a return now land on the decorator in front of it.
		for i := len(sites) - 1; i >= 0; i-- {
			at := sites[i]
			if instrs[at].Op == classfile.OpReturnNil {
				instrs = classfile.Splice(instrs, at, false,
					classfile.Ins(classfile.OpConstNil),
					classfile.Ins(classfile.OpDecorate, h),
					classfile.Ins(classfile.OpPop))
			} else {
				instrs = classfile.Splice(instrs, at, false, classfile.Ins(classfile.OpDecorate, h))
			}
		}
	}

	code, err := classfile.EncodeCode(instrs)
	if err != nil {
		return w.fail(p, fmt.Errorf("encoding %s: %w", key, err))
	}
	m.Code = code
	if commit != nil {
		commit()
	}
	return nil
}

// overwriteBody forwards every argument to the replacement hook and returns
// its result.
func overwriteBody(h int, mt classfile.MethodType) []classfile.Instruction {
	n := mt.ParamCount()
	body := make([]classfile.Instruction, 0, n+3)
	for i := 0; i < n; i++ {
		body = append(body, classfile.Ins(classfile.OpLoadArg, i))
	}
	body = append(body, classfile.Ins(classfile.OpInvokeHook, h, n))
	if mt.IsVoid() {
		return append(body, classfile.Ins(classfile.OpPop), classfile.Ins(classfile.OpReturnNil))
	}
	return append(body, classfile.Ins(classfile.OpReturn))
}

func (w *weaver) hookIndex(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("empty hook name")
	}
	idx, err := w.cls.Pool.AddUTF8(name)
	if err != nil {
		return 0, fmt.Errorf("interning hook %q: %w", name, err)
	}
	return int(idx), nil
}
