package rewrite

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/weft/capability"
	"github.com/chazu/weft/catalog"
	"github.com/chazu/weft/classfile"
	"github.com/chazu/weft/hook"
	"github.com/chazu/weft/interp"
	"github.com/chazu/weft/selection"
)

const leaves = "game/block/Leaves"

func leavesClass(t testing.TB, name string) []byte {
	t.Helper()
	a := classfile.NewAssembler(name, "", classfile.AccPublic)
	a.Field(classfile.AccPrivate, "decay", "I")

	m := a.Method(classfile.AccPublic, "tick", "(I)I")
	skip := m.NewLabel()
	m.Op(classfile.OpLoadArg, 0).Const(0).Op(classfile.OpLe).Jump(classfile.OpJumpTrue, skip)
	m.Op(classfile.OpLoadSelf).GetField("decay").Op(classfile.OpLoadArg, 0).Op(classfile.OpAdd).Op(classfile.OpReturn)
	m.Mark(skip).Const(-1).Op(classfile.OpReturn)
	m.End()

	abs := a.Method(classfile.AccPublic, "abs", "(I)I")
	end := abs.NewLabel()
	abs.Op(classfile.OpLoadArg, 0).Op(classfile.OpDup).Const(0).Op(classfile.OpGe).Jump(classfile.OpJumpTrue, end).Op(classfile.OpNeg)
	abs.Mark(end).Op(classfile.OpReturn)
	abs.End()

	a.Method(classfile.AccPublic, "onUse", "(I)V").
		Op(classfile.OpLoadSelf).Op(classfile.OpLoadArg, 0).PutField("decay").Op(classfile.OpReturnNil).End()
	a.Method(classfile.AccPrivate, "secret", "(I)I").
		Op(classfile.OpLoadArg, 0).Const(2).Op(classfile.OpMul).Op(classfile.OpReturn).End()
	a.Method(classfile.AccPublic|classfile.AccNative, "shape", "()I").End()
	a.Method(classfile.AccPublic, "size", "()I").Const(1).Op(classfile.OpReturn).End()
	a.Method(classfile.AccPublic, "size", "(I)I").Op(classfile.OpLoadArg, 0).Op(classfile.OpReturn).End()

	data, err := a.Bytes()
	if err != nil {
		t.Fatalf("assemble %s: %v", name, err)
	}
	return data
}

// fixture owns the hook registry and records which hooks ran.
type fixture struct {
	hooks *hook.Registry
	mu    sync.Mutex
	trace []string
}

func (f *fixture) record(s string) {
	f.mu.Lock()
	f.trace = append(f.trace, s)
	f.mu.Unlock()
}

func (f *fixture) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.trace
	f.trace = nil
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{hooks: hook.NewRegistry()}
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	guard := func(name string, cancelOn int64, value any) {
		must(f.hooks.RegisterGuard(name, func(c hook.Call) hook.Decision {
			f.record(name)
			if c.Args[0] == cancelOn {
				return hook.CancelWith(value)
			}
			return hook.Continue()
		}))
	}
	guard("g1", -100, nil)
	guard("g2", 13, int64(99))
	guard("g3", -100, nil)
	guard("block13", 13, nil)
	must(f.hooks.RegisterReplacement("times10", func(c hook.Call) (any, error) {
		f.record("times10")
		return c.Args[0].(int64) * 10, nil
	}))
	must(f.hooks.RegisterDecorator("plus1000", func(_ hook.Call, v any) (any, error) {
		return v.(int64) + 1000, nil
	}))
	must(f.hooks.RegisterDecorator("seen", func(c hook.Call, v any) (any, error) {
		f.record("seen:" + c.Method)
		return v, nil
	}))
	return f
}

func (f *fixture) load(t *testing.T, name string, data []byte) (*interp.Runtime, *interp.Object) {
	t.Helper()
	r := interp.New(f.hooks)
	if _, err := r.Define(name, data); err != nil {
		t.Fatalf("define: %v", err)
	}
	obj, err := r.New(name)
	if err != nil {
		t.Fatal(err)
	}
	return r, obj
}

func invoke(t *testing.T, r *interp.Runtime, obj *interp.Object, name, desc string, args ...any) any {
	t.Helper()
	v, err := r.Invoke(obj, name, desc, args...)
	if err != nil {
		t.Fatalf("%s%s: %v", name, desc, err)
	}
	return v
}

func guardP(id, method, guard string) catalog.PatchDescriptor {
	return catalog.PatchDescriptor{ID: id, Kind: catalog.EntryGuard, Target: catalog.Selector(leaves),
		Method: catalog.MethodRef{Name: method}, Guard: guard, Cancellable: true}
}

func overwriteP(id, target, method, desc, body string) catalog.PatchDescriptor {
	return catalog.PatchDescriptor{ID: id, Kind: catalog.FullOverwrite, Target: catalog.Selector(target),
		Method: catalog.MethodRef{Name: method, Descriptor: desc}, Body: body}
}

func decoratorP(id, method, body string) catalog.PatchDescriptor {
	return catalog.PatchDescriptor{ID: id, Kind: catalog.ReturnDecorator, Target: catalog.Selector(leaves),
		Method: catalog.MethodRef{Name: method}, Body: body}
}

func accessorP(id string, e catalog.Exposure) catalog.PatchDescriptor {
	return catalog.PatchDescriptor{ID: id, Kind: catalog.AccessorExposure, Target: catalog.Selector(leaves), Exposure: e}
}

func mustRewrite(t *testing.T, r EditResult) []byte {
	t.Helper()
	if r.Outcome != Rewritten {
		t.Fatalf("outcome = %s (%v), want rewritten", r.Outcome, r.Err)
	}
	return r.Bytes
}

func TestApplyPassthrough(t *testing.T) {
	orig := leavesClass(t, "game/block/Oak")
	patches := []catalog.PatchDescriptor{guardP("g", "tick", "g1"), overwriteP("o", leaves, "abs", "", "times10")}

	r := Apply("game.block.Oak", orig, patches)
	if r.Outcome != Unchanged || r.Err != nil {
		t.Fatalf("outcome = %s, err = %v", r.Outcome, r.Err)
	}
	if !bytes.Equal(r.Bytes, orig) || &r.Bytes[0] != &orig[0] {
		t.Error("unmatched class was not passed through as the original slice")
	}

	// Garbage bytes for an unmatched class are never parsed.
	junk := []byte("not a class")
	if r := Apply("game/Other", junk, patches); r.Outcome != Unchanged || !bytes.Equal(r.Bytes, junk) {
		t.Errorf("junk passthrough = %s", r.Outcome)
	}
}

func TestEntryGuardsRunInOrder(t *testing.T) {
	f := newFixture(t)
	out := mustRewrite(t, Apply(leaves, leavesClass(t, leaves), []catalog.PatchDescriptor{
		guardP("p1", "tick", "g1"),
		guardP("p2", "tick", "g2"),
		guardP("p3", "tick", "g3"),
		guardP("p4", "onUse", "block13"),
	}))
	r, obj := f.load(t, leaves, out)

	if v := invoke(t, r, obj, "tick", "(I)I", 5); v != int64(5) {
		t.Errorf("tick(5) = %v", v)
	}
	if got := f.take(); !reflect.DeepEqual(got, []string{"g1", "g2", "g3"}) {
		t.Errorf("guards ran %v", got)
	}

	if v := invoke(t, r, obj, "tick", "(I)I", 13); v != int64(99) {
		t.Errorf("tick(13) = %v, want substitute 99", v)
	}
	if got := f.take(); !reflect.DeepEqual(got, []string{"g1", "g2"}) {
		t.Errorf("guards after cancellation ran %v", got)
	}

	invoke(t, r, obj, "onUse", "(I)V", 13)
	if d := obj.FieldValues()["decay"]; d != int64(0) {
		t.Errorf("cancelled body still ran: decay = %v", d)
	}
	invoke(t, r, obj, "onUse", "(I)V", 4)
	if d := obj.FieldValues()["decay"]; d != int64(4) {
		t.Errorf("body did not run: decay = %v", d)
	}
	// Original jumps still land on the original body.
	if v := invoke(t, r, obj, "tick", "(I)I", 0); v != int64(-1) {
		t.Errorf("tick(0) = %v", v)
	}
}

func TestNonCancellableGuard(t *testing.T) {
	f := newFixture(t)
	p := guardP("p", "tick", "g2")
	p.Cancellable = false
	r, obj := f.load(t, leaves, mustRewrite(t, Apply(leaves, leavesClass(t, leaves), []catalog.PatchDescriptor{p})))
	if v := invoke(t, r, obj, "tick", "(I)I", 13); v != int64(13) {
		t.Errorf("tick(13) = %v, non-cancellable guard must not cancel", v)
	}
}

func TestFullOverwrite(t *testing.T) {
	f := newFixture(t)
	out := mustRewrite(t, Apply(leaves, leavesClass(t, leaves), []catalog.PatchDescriptor{
		overwriteP("o", leaves, "tick", "(I)I", "times10"),
	}))
	r, obj := f.load(t, leaves, out)
	for _, arg := range []int64{0, 5, -3} {
		if v := invoke(t, r, obj, "tick", "(I)I", arg); v != arg*10 {
			t.Errorf("tick(%d) = %v", arg, v)
		}
	}

	cls, err := classfile.Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	instrs, err := classfile.DecodeCode(cls.Method("tick", "(I)I").Code)
	if err != nil {
		t.Fatal(err)
	}
	var ops []classfile.Opcode
	for _, in := range instrs {
		ops = append(ops, in.Op)
	}
	want := []classfile.Opcode{classfile.OpLoadArg, classfile.OpInvokeHook, classfile.OpReturn}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("overwritten body = %v, want %v", ops, want)
	}
}

func TestReturnDecorator(t *testing.T) {
	f := newFixture(t)
	out := mustRewrite(t, Apply(leaves, leavesClass(t, leaves), []catalog.PatchDescriptor{
		decoratorP("d1", "tick", "plus1000"),
		decoratorP("d2", "abs", "plus1000"),
		decoratorP("d3", "onUse", "seen"),
		guardP("g", "tick", "g2"),
	}))
	r, obj := f.load(t, leaves, out)

	cases := []struct {
		method string
		arg    int64
		want   int64
	}{
		{"tick", 0, 999},
		{"tick", 5, 1005},
		{"tick", 13, 99}, // cancelled by the guard, decorator skipped
		{"abs", -3, 1003},
		{"abs", 3, 1003}, // the jump straight to the return passes the decorator
	}
	for _, c := range cases {
		if v := invoke(t, r, obj, c.method, "(I)I", c.arg); v != c.want {
			t.Errorf("%s(%d) = %v, want %d", c.method, c.arg, v, c.want)
		}
	}
	f.take()
	invoke(t, r, obj, "onUse", "(I)V", 1)
	if got := f.take(); !reflect.DeepEqual(got, []string{"seen:onUse"}) {
		t.Errorf("void decorator trace = %v", got)
	}
}

func TestAccessorExposure(t *testing.T) {
	f := newFixture(t)
	orig := leavesClass(t, leaves)

	r, obj := f.load(t, leaves, orig)
	if _, err := r.Field(obj, "decay"); !errors.Is(err, interp.ErrInaccessible) {
		t.Fatalf("decay reachable before patching: %v", err)
	}

	out := mustRewrite(t, Apply(leaves, orig, []catalog.PatchDescriptor{
		accessorP("get", catalog.Exposure{Member: "decay", Accessor: "getDecay", Descriptor: "()I"}),
		accessorP("set", catalog.Exposure{Member: "decay", Accessor: "setDecay", Descriptor: "(I)V"}),
		accessorP("call", catalog.Exposure{Member: "secret", MemberKind: catalog.MemberMethod, MemberDescriptor: "(I)I",
			Accessor: "callSecret", Descriptor: "(I)I"}),
		accessorP("widen", catalog.Exposure{Member: "decay", Widen: true}),
	}))
	r, obj = f.load(t, leaves, out)

	invoke(t, r, obj, "setDecay", "(I)V", 7)
	if v := invoke(t, r, obj, "getDecay", "()I"); v != int64(7) {
		t.Errorf("getDecay = %v", v)
	}
	if v := invoke(t, r, obj, "callSecret", "(I)I", 4); v != int64(8) {
		t.Errorf("callSecret(4) = %v", v)
	}
	if v, err := r.Field(obj, "decay"); err != nil || v != int64(7) {
		t.Errorf("widened decay = %v, %v", v, err)
	}
	if _, err := r.Invoke(obj, "secret", "(I)I", 1); !errors.Is(err, interp.ErrInaccessible) {
		t.Errorf("secret was widened: %v", err)
	}
}

func TestMandatoryTargetMissing(t *testing.T) {
	orig := leavesClass(t, leaves)
	r := Apply(leaves, orig, []catalog.PatchDescriptor{
		guardP("ok", "tick", "g1"),
		guardP("missing", "grow", "g1"),
	})
	if r.Outcome != Failed || r.Bytes != nil {
		t.Fatalf("outcome = %s, bytes = %d", r.Outcome, len(r.Bytes))
	}
	var tnf *TargetNotFoundError
	if !errors.As(r.Err, &tnf) || tnf.Patch != "missing" || tnf.Member != "grow" {
		t.Errorf("err = %v", r.Err)
	}
	if !strings.Contains(r.Diagnostic, "grow") {
		t.Errorf("diagnostic %q does not name the target", r.Diagnostic)
	}
}

func TestOptionalFailuresAreSkipped(t *testing.T) {
	f := newFixture(t)
	orig := leavesClass(t, leaves)
	snapshot := append([]byte(nil), orig...)

	missing := guardP("missing", "grow", "g1")
	missing.Optional = true
	// Widens decay, then collides with the existing size()I; the widening
	// must be rolled back with it.
	collide := accessorP("collide", catalog.Exposure{Member: "decay", Accessor: "size", Descriptor: "()I", Widen: true})
	collide.Optional = true
	badType := accessorP("badType", catalog.Exposure{Member: "decay", Accessor: "isDecayed", Descriptor: "()Z"})
	badType.Optional = true

	res := Apply(leaves, orig, []catalog.PatchDescriptor{missing, guardP("g", "tick", "g1"), collide, badType})
	out := mustRewrite(t, res)
	if !reflect.DeepEqual(res.Applied, []string{"g"}) {
		t.Errorf("Applied = %v", res.Applied)
	}
	var skipped []string
	for _, s := range res.Skipped {
		skipped = append(skipped, s.ID)
	}
	if !reflect.DeepEqual(skipped, []string{"missing", "collide", "badType"}) {
		t.Errorf("Skipped = %v", res.Skipped)
	}
	if !bytes.Equal(orig, snapshot) {
		t.Error("original bytes were modified")
	}

	cls, err := classfile.Parse(out)
	if err != nil {
		t.Fatal(err)
	}
	if !cls.Field("decay").Access.Has(classfile.AccPrivate) {
		t.Error("reverted patch left decay widened")
	}
	if cls.Method("isDecayed", "()Z") != nil {
		t.Error("reverted accessor still present")
	}
	r, obj := f.load(t, leaves, out)
	invoke(t, r, obj, "tick", "(I)I", 1)
	if got := f.take(); !reflect.DeepEqual(got, []string{"g1"}) {
		t.Errorf("trace = %v", got)
	}

	// Only optional patches, all failing: the class is left alone.
	only := Apply(leaves, orig, []catalog.PatchDescriptor{missing})
	if only.Outcome != Unchanged || &only.Bytes[0] != &orig[0] || len(only.Skipped) != 1 || only.Diagnostic == "" {
		t.Errorf("all-skipped outcome = %s", only.Outcome)
	}
}

func TestResolutionErrors(t *testing.T) {
	orig := leavesClass(t, leaves)
	cases := []struct {
		name  string
		patch catalog.PatchDescriptor
		want  string
	}{
		{"overloaded", guardP("p", "size", "g1"), "overloaded"},
		{"no body", guardP("p", "shape", "g1"), "no body"},
		{"missing field", accessorP("p", catalog.Exposure{Member: "missing", Accessor: "getX", Descriptor: "()I"}), "not found"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := Apply(leaves, orig, []catalog.PatchDescriptor{c.patch})
			if r.Outcome != Failed {
				t.Fatalf("outcome = %s", r.Outcome)
			}
			if !strings.Contains(r.Err.Error(), c.want) {
				t.Errorf("err = %v, want %q", r.Err, c.want)
			}
		})
	}

	var eae *EditApplicationError
	r := Apply(leaves, orig, []catalog.PatchDescriptor{guardP("p", "size", "g1")})
	if !errors.As(r.Err, &eae) || eae.Patch != "p" {
		t.Errorf("overload error = %v", r.Err)
	}
}

func TestConcreteOverwriteConflict(t *testing.T) {
	orig := leavesClass(t, leaves)
	// Two globs that only overlap on the concrete class.
	patches := []catalog.PatchDescriptor{
		overwriteP("a", "game/*/Leaves", "tick", "(I)I", "times10"),
		overwriteP("b", "game/block/*", "tick", "", "times10"),
	}
	if err := selection.Validate(patches); err != nil {
		t.Fatalf("selection already rejects: %v", err)
	}
	r := Apply(leaves, orig, patches)
	var eae *EditApplicationError
	if r.Outcome != Failed || !errors.As(r.Err, &eae) || eae.Patch != "b" {
		t.Errorf("outcome = %s, err = %v", r.Outcome, r.Err)
	}

	g := guardP("g", "tick", "g1")
	g.Target = catalog.Selector("game/block/**")
	r = Apply(leaves, orig, []catalog.PatchDescriptor{g, patches[0]})
	if r.Outcome != Failed || !strings.Contains(r.Err.Error(), "entry guard") {
		t.Errorf("guard+overwrite outcome = %s, err = %v", r.Outcome, r.Err)
	}
}

func TestMalformedBinary(t *testing.T) {
	junk := []byte("WCLS garbage")
	p := guardP("p", "tick", "g1")
	if r := Apply(leaves, junk, []catalog.PatchDescriptor{p}); r.Outcome != Failed || r.Bytes != nil {
		t.Errorf("mandatory on junk = %s", r.Outcome)
	}
	p.Optional = true
	if r := Apply(leaves, junk, []catalog.PatchDescriptor{p}); r.Outcome != Unchanged || len(r.Skipped) != 1 {
		t.Errorf("optional on junk = %s, skipped %v", r.Outcome, r.Skipped)
	}
	other := leavesClass(t, "game/block/Oak")
	p.Optional = false
	if r := Apply(leaves, other, []catalog.PatchDescriptor{p}); !errors.Is(r.Err, ErrClassNameMismatch) {
		t.Errorf("name mismatch err = %v", r.Err)
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	orig := leavesClass(t, leaves)
	snapshot := append([]byte(nil), orig...)
	patches := []catalog.PatchDescriptor{
		guardP("p1", "tick", "g1"),
		guardP("p2", "tick", "g2"),
		decoratorP("d", "abs", "plus1000"),
		accessorP("get", catalog.Exposure{Member: "decay", Accessor: "getDecay", Descriptor: "()I"}),
	}
	first := mustRewrite(t, Apply(leaves, orig, patches))
	second := mustRewrite(t, Apply(leaves, orig, patches))
	if !bytes.Equal(first, second) {
		t.Error("two runs produced different bytes")
	}
	if !bytes.Equal(orig, snapshot) {
		t.Error("original bytes were modified")
	}
}

func buildPlan(t *testing.T, f *fixture, patches ...catalog.PatchDescriptor) *selection.Plan {
	t.Helper()
	b := catalog.NewBuilder()
	var ids []string
	for _, p := range patches {
		b.Patch(p)
		ids = append(ids, p.ID)
	}
	b.Set(catalog.PatchSet{Name: "all", Patches: ids})
	cat, err := b.Build(f.hooks)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	plan, err := selection.Select(capability.NewSet(capability.SideBoth), cat)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	return plan
}

func TestEngineIdempotency(t *testing.T) {
	f := newFixture(t)
	plan := buildPlan(t, f, guardP("g", "tick", "g1"))

	var mu sync.Mutex
	var observed []Outcome
	e := NewEngine(plan, WithObserver(func(_ string, _ []byte, r EditResult) {
		mu.Lock()
		observed = append(observed, r.Outcome)
		mu.Unlock()
	}))

	started := make(chan struct{})
	release := make(chan struct{})
	e.apply = func(name string, b []byte, p []catalog.PatchDescriptor) EditResult {
		close(started)
		<-release
		return Apply(name, b, p)
	}

	orig := leavesClass(t, leaves)
	done := make(chan EditResult)
	go func() { done <- e.Transform(leaves, orig) }()
	<-started

	if r := e.Transform("game.block.Leaves", orig); !errors.Is(r.Err, ErrTransformInProgress) || r.Outcome != Failed {
		t.Errorf("concurrent attempt = %s, %v", r.Outcome, r.Err)
	}
	if e.Transformed(leaves) {
		t.Error("class reported transformed while in progress")
	}
	// Unrelated classes are never blocked or cached.
	for i := 0; i < 2; i++ {
		if r := e.Transform("game/Stone", []byte("x")); r.Outcome != Unchanged {
			t.Errorf("unrelated class = %s", r.Outcome)
		}
	}

	close(release)
	if r := <-done; r.Outcome != Rewritten {
		t.Fatalf("first attempt = %s, %v", r.Outcome, r.Err)
	}
	if !e.Transformed(leaves) {
		t.Error("Transformed = false after completion")
	}
	if r := e.Transform(leaves, orig); !errors.Is(r.Err, ErrAlreadyTransformed) {
		t.Errorf("repeat attempt = %s, %v", r.Outcome, r.Err)
	}

	if got, want := e.Stats(), (Stats{Unchanged: 2, Rewritten: 1, Failed: 2}); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 5 {
		t.Errorf("observer saw %v", observed)
	}
}

func TestEngineConcurrentClasses(t *testing.T) {
	f := newFixture(t)
	g := guardP("g", "tick", "g1")
	g.Target = catalog.Selector("game/block/*")
	e := NewEngine(buildPlan(t, f, g))
	hookFn := e.Hook()

	names := []string{"game/block/A", "game/block/B", "game/block/C", "game/block/D", "game/block/E"}
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		data := leavesClass(t, name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := hookFn(name, data)
			if err == nil && bytes.Equal(out, data) {
				err = errors.New("class came back unchanged")
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("%s: %v", names[i], err)
		}
	}
	if s := e.Stats(); s.Rewritten != int64(len(names)) {
		t.Errorf("Stats() = %+v", s)
	}
	if _, err := hookFn("game/block/A", leavesClass(t, "game/block/A")); !errors.Is(err, ErrAlreadyTransformed) {
		t.Errorf("hook repeat err = %v", err)
	}
}

func TestEngineHookRunsPatchedClass(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(buildPlan(t, f, overwriteP("o", leaves, "tick", "(I)I", "times10")))
	r := interp.New(f.hooks, interp.WithLoadHook(interp.LoadHook(e.Hook())))
	if _, err := r.Define(leaves, leavesClass(t, leaves)); err != nil {
		t.Fatal(err)
	}
	obj, err := r.New(leaves)
	if err != nil {
		t.Fatal(err)
	}
	if v := invoke(t, r, obj, "tick", "(I)I", 3); v != int64(30) {
		t.Errorf("tick(3) = %v", v)
	}
}
