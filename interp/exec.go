package interp

import (
	"fmt"

	"github.com/chazu/weft/classfile"
	"github.com/chazu/weft/hook"
)

// frame is one active method invocation.
type frame struct {
	class  *class
	method *classfile.Method
	self   *Object
	args   []any
	locals []any
	stack  []any
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() (any, error) {
	if len(f.stack) == 0 {
		return nil, fmt.Errorf("%s.%s: stack underflow", f.class.Name, f.method.Key())
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]any, error) {
	if len(f.stack) < n {
		return nil, fmt.Errorf("%s.%s: stack underflow", f.class.Name, f.method.Key())
	}
	out := make([]any, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

func (f *frame) hookCall() hook.Call {
	var self any
	if f.self != nil {
		self = f.self
	}
	return hook.Call{
		Class:      f.class.Name,
		Method:     f.method.Name,
		Descriptor: f.method.Descriptor,
		Self:       self,
		Args:       append([]any(nil), f.args...),
	}
}

func (r *Runtime) call(c *class, m *classfile.Method, self *Object, args []any, depth int) (any, error) {
	if depth >= r.maxDepth {
		return nil, fmt.Errorf("%w: %d", ErrStackOverflow, depth)
	}
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	if len(args) != mt.ParamCount() {
		return nil, fmt.Errorf("%w: %s.%s takes %d, got %d", ErrArity, c.Name, m.Key(), mt.ParamCount(), len(args))
	}
	if !m.HasCode() {
		return nil, fmt.Errorf("%w: %s.%s has no body", ErrNoSuchMethod, c.Name, m.Key())
	}
	f := &frame{
		class:  c,
		method: m,
		self:   self,
		args:   args,
		locals: make([]any, m.MaxLocals),
	}
	return r.run(f, c.code[m], depth)
}

// run is the main execution loop.
func (r *Runtime) run(f *frame, code []classfile.Instruction, depth int) (any, error) {
	pool := f.class.Pool
	for ip := 0; ip < len(code); {
		in := code[ip]
		ip++
		if r.trace {
			log.Debugf("%s.%s [%04d] %-12s %d %d sp=%d", f.class.Name, f.method.Name, ip-1, in.Op, in.Arg, in.Argc, len(f.stack))
		}

		switch in.Op {
		case classfile.OpNop:

		case classfile.OpPop:
			if _, err := f.pop(); err != nil {
				return nil, err
			}

		case classfile.OpDup:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			f.push(v)
			f.push(v)

		case classfile.OpSwap:
			vs, err := f.popN(2)
			if err != nil {
				return nil, err
			}
			f.push(vs[1])
			f.push(vs[0])

		case classfile.OpConst:
			k, ok := pool.At(uint16(in.Arg))
			if !ok {
				return nil, fmt.Errorf("%w: %d", classfile.ErrInvalidPoolIndex, in.Arg)
			}
			f.push(k.Value())

		case classfile.OpConstNil:
			f.push(nil)

		case classfile.OpConstTrue:
			f.push(true)

		case classfile.OpConstFalse:
			f.push(false)

		case classfile.OpLoadSelf:
			if f.self == nil {
				f.push(nil)
			} else {
				f.push(f.self)
			}

		case classfile.OpLoadArg:
			if in.Arg >= len(f.args) {
				return nil, fmt.Errorf("%s.%s: argument %d out of range", f.class.Name, f.method.Key(), in.Arg)
			}
			f.push(f.args[in.Arg])

		case classfile.OpLoadLocal:
			if in.Arg >= len(f.locals) {
				return nil, fmt.Errorf("%s.%s: local %d out of range", f.class.Name, f.method.Key(), in.Arg)
			}
			f.push(f.locals[in.Arg])

		case classfile.OpStoreLocal:
			if in.Arg >= len(f.locals) {
				return nil, fmt.Errorf("%s.%s: local %d out of range", f.class.Name, f.method.Key(), in.Arg)
			}
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			f.locals[in.Arg] = v

		case classfile.OpGetField, classfile.OpPutField:
			if err := r.fieldOp(f, in); err != nil {
				return nil, err
			}

		case classfile.OpAdd, classfile.OpSub, classfile.OpMul, classfile.OpDiv,
			classfile.OpEq, classfile.OpNe, classfile.OpLt, classfile.OpLe, classfile.OpGt, classfile.OpGe:
			vs, err := f.popN(2)
			if err != nil {
				return nil, err
			}
			v, err := binaryOp(in.Op, vs[0], vs[1])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.class.Name, f.method.Key(), err)
			}
			f.push(v)

		case classfile.OpNeg:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			switch x := v.(type) {
			case int64:
				f.push(-x)
			case float64:
				f.push(-x)
			default:
				return nil, fmt.Errorf("%w: NEG %T", ErrTypeMismatch, v)
			}

		case classfile.OpNot:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			f.push(!truthy(v))

		case classfile.OpJump:
			ip = in.Arg

		case classfile.OpJumpTrue, classfile.OpJumpFalse:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			if truthy(v) == (in.Op == classfile.OpJumpTrue) {
				ip = in.Arg
			}

		case classfile.OpInvoke:
			if err := r.invokeOp(f, in, depth); err != nil {
				return nil, err
			}

		case classfile.OpNew:
			name, err := pool.UTF8(uint16(in.Arg))
			if err != nil {
				return nil, err
			}
			c, ok := r.lookup(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
			}
			f.push(r.instantiate(c))

		case classfile.OpGuard:
			name, err := pool.UTF8(uint16(in.Arg))
			if err != nil {
				return nil, err
			}
			g, ok := r.hooks.Guard(name)
			if !ok {
				return nil, fmt.Errorf("%w: guard %s", ErrUnknownHook, name)
			}
			d := g(f.hookCall())
			if d.Cancelled() {
				if uint8(in.Argc)&classfile.GuardFlagCancellable != 0 {
					return normalize(d.Value()), nil
				}
				log.Debugf("%s.%s: guard %s cancelled a non-cancellable method, ignoring", f.class.Name, f.method.Name, name)
			}

		case classfile.OpInvokeHook:
			name, err := pool.UTF8(uint16(in.Arg))
			if err != nil {
				return nil, err
			}
			fn, ok := r.hooks.Replacement(name)
			if !ok {
				return nil, fmt.Errorf("%w: replacement %s", ErrUnknownHook, name)
			}
			args, err := f.popN(in.Argc)
			if err != nil {
				return nil, err
			}
			call := f.hookCall()
			call.Args = args
			v, err := fn(call)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: replacement %s: %w", f.class.Name, f.method.Key(), name, err)
			}
			f.push(normalize(v))

		case classfile.OpDecorate:
			name, err := pool.UTF8(uint16(in.Arg))
			if err != nil {
				return nil, err
			}
			fn, ok := r.hooks.Decorator(name)
			if !ok {
				return nil, fmt.Errorf("%w: decorator %s", ErrUnknownHook, name)
			}
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			out, err := fn(f.hookCall(), v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: decorator %s: %w", f.class.Name, f.method.Key(), name, err)
			}
			f.push(normalize(out))

		case classfile.OpReturn:
			return f.pop()

		case classfile.OpReturnNil:
			return nil, nil

		default:
			return nil, fmt.Errorf("%w: %s", classfile.ErrUnknownOpcode, in.Op)
		}
	}
	return nil, nil
}

func (r *Runtime) fieldOp(f *frame, in classfile.Instruction) error {
	name, err := f.class.Pool.UTF8(uint16(in.Arg))
	if err != nil {
		return err
	}
	var v any
	if in.Op == classfile.OpPutField {
		if v, err = f.pop(); err != nil {
			return err
		}
	}
	recv, err := f.pop()
	if err != nil {
		return err
	}
	obj, ok := recv.(*Object)
	if !ok || obj == nil {
		return fmt.Errorf("%w: field %s on %T", ErrTypeMismatch, name, recv)
	}
	declaring, fd, err := r.resolveField(obj.class, name)
	if err != nil {
		return err
	}
	if !r.accessible(f.class, declaring, fd.Access) {
		return fmt.Errorf("%w: %s.%s from %s", ErrInaccessible, declaring.Name, name, f.class.Name)
	}
	if in.Op == classfile.OpGetField {
		f.push(obj.fields[name])
		return nil
	}
	obj.fields[name] = v
	return nil
}

func (r *Runtime) invokeOp(f *frame, in classfile.Instruction, depth int) error {
	ref, err := f.class.Pool.UTF8(uint16(in.Arg))
	if err != nil {
		return err
	}
	name, desc, ok := classfile.SplitMemberRef(ref)
	if !ok {
		return fmt.Errorf("%s.%s: malformed member reference %q", f.class.Name, f.method.Key(), ref)
	}
	args, err := f.popN(in.Argc)
	if err != nil {
		return err
	}
	recv, err := f.pop()
	if err != nil {
		return err
	}
	obj, ok := recv.(*Object)
	if !ok || obj == nil {
		return fmt.Errorf("%w: invoking %s on %T", ErrTypeMismatch, ref, recv)
	}
	declaring, m, err := r.resolveMethod(obj.class, name, desc)
	if err != nil {
		return err
	}
	if !r.accessible(f.class, declaring, m.Access) {
		return fmt.Errorf("%w: %s.%s from %s", ErrInaccessible, declaring.Name, m.Key(), f.class.Name)
	}
	v, err := r.call(declaring, m, obj, args, depth+1)
	if err != nil {
		return err
	}
	f.push(v)
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}

func binaryOp(op classfile.Opcode, a, b any) (any, error) {
	switch op {
	case classfile.OpEq:
		return equal(a, b), nil
	case classfile.OpNe:
		return !equal(a, b), nil
	}

	if op == classfile.OpAdd {
		if as, ok := a.(string); ok {
			if bs, ok := b.(string); ok {
				return as + bs, nil
			}
		}
	}

	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case classfile.OpAdd:
			return ai + bi, nil
		case classfile.OpSub:
			return ai - bi, nil
		case classfile.OpMul:
			return ai * bi, nil
		case classfile.OpDiv:
			if bi == 0 {
				return nil, ErrDivideByZero
			}
			return ai / bi, nil
		case classfile.OpLt:
			return ai < bi, nil
		case classfile.OpLe:
			return ai <= bi, nil
		case classfile.OpGt:
			return ai > bi, nil
		case classfile.OpGe:
			return ai >= bi, nil
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("%w: %s %T %T", ErrTypeMismatch, op, a, b)
	}
	switch op {
	case classfile.OpAdd:
		return af + bf, nil
	case classfile.OpSub:
		return af - bf, nil
	case classfile.OpMul:
		return af * bf, nil
	case classfile.OpDiv:
		if bf == 0 {
			return nil, ErrDivideByZero
		}
		return af / bf, nil
	case classfile.OpLt:
		return af < bf, nil
	case classfile.OpLe:
		return af <= bf, nil
	case classfile.OpGt:
		return af > bf, nil
	case classfile.OpGe:
		return af >= bf, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, op)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	switch a.(type) {
	case nil, bool, string, *Object:
		return a == b
	default:
		return false
	}
}
