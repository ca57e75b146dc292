package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/chazu/weft/capability"
	"github.com/chazu/weft/hook"
)

func testHooks(t *testing.T) *hook.Registry {
	t.Helper()
	r := hook.NewRegistry()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(r.RegisterGuard("leaves.noDecay", func(hook.Call) hook.Decision { return hook.CancelWith(int64(0)) }))
	must(r.RegisterReplacement("door.alwaysOpen", func(hook.Call) (any, error) { return true, nil }))
	must(r.RegisterDecorator("drops.double", func(_ hook.Call, v any) (any, error) { return v, nil }))
	return r
}

const sampleTOML = `
[[concern]]
name = "leaf-decay"
providers = ["fastleaves"]

[[patch]]
id = "leaves.guard"
kind = "entry-guard"
target = "game.block.Leaves"
method = "tick"
descriptor = "(I)I"
guard = "leaves.noDecay"
cancellable = true

[[patch]]
id = "leaves.expr"
kind = "entry-guard"
target = "game/block/Leaves"
method = "tick"
guard_expr = "args[0] > 100"
cancel_value = -1
cancellable = true
optional = true

[[patch]]
id = "door.open"
kind = "overwrite"
target = "game/Door"
method = "isOpen"
descriptor = "()Z"
body = "door.alwaysOpen"

[[patch]]
id = "door.expose"
kind = "accessor"
target = "game/Door"
[patch.expose]
member = "open"
accessor = "getOpen"
descriptor = "()Z"

[[patch]]
id = "door.invoker"
kind = "accessor"
target = "game/Door"
[patch.expose]
member = "slam"
kind = "method"
member_descriptor = "(I)V"
accessor = "callSlam"

[[set]]
name = "core"
patches = ["leaves.guard", "door.open", "door.expose", "door.invoker"]

[[set]]
name = "leaves-integration"
requires = ["thaumcraft"]
side = "client"
concern = "leaf-decay"
patches = ["leaves.expr"]
`

func TestParse(t *testing.T) {
	hooks := testHooks(t)
	c, err := Parse([]byte(sampleTOML), "sample.toml", hooks)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := c.PatchIDs(); !reflect.DeepEqual(got, []string{"leaves.guard", "leaves.expr", "door.open", "door.expose", "door.invoker"}) {
		t.Errorf("PatchIDs() = %v", got)
	}

	p, _ := c.Patch("leaves.guard")
	if p.Kind != EntryGuard || p.Target.String() != "game/block/Leaves" || !p.Cancellable {
		t.Errorf("leaves.guard = %+v", p)
	}
	if p.Method != (MethodRef{Name: "tick", Descriptor: "(I)I"}) {
		t.Errorf("method = %+v", p.Method)
	}

	expr, _ := c.Patch("leaves.expr")
	if expr.Guard != GuardHookName("leaves.expr") || !expr.Optional {
		t.Errorf("leaves.expr = %+v", expr)
	}
	if expr.CancelValue != int64(-1) {
		t.Errorf("cancel value = %#v, want int64(-1)", expr.CancelValue)
	}
	g, ok := hooks.Guard(GuardHookName("leaves.expr"))
	if !ok {
		t.Fatal("expression guard not registered")
	}
	if d := g(hook.Call{Args: []any{int64(101)}}); !d.Cancelled() || d.Value() != int64(-1) {
		t.Errorf("expression guard decision = %v", d)
	}

	inv, _ := c.Patch("door.invoker")
	if inv.Exposure.MemberKind != MemberMethod || inv.Exposure.Descriptor != "(I)V" {
		t.Errorf("door.invoker exposure = %+v", inv.Exposure)
	}

	set, ok := c.Set("leaves-integration")
	if !ok || set.Side != capability.SideClient || set.Concern != "leaf-decay" {
		t.Errorf("set = %+v", set)
	}
	core, _ := c.Set("core")
	if core.Side != capability.SideBoth {
		t.Errorf("default side = %s", core.Side)
	}

	in := c.Interests()
	if !reflect.DeepEqual(in.Identities, []capability.ModuleIdentity{"thaumcraft"}) {
		t.Errorf("Interests.Identities = %v", in.Identities)
	}
	if !reflect.DeepEqual(in.Concerns["leaf-decay"], []capability.ModuleIdentity{"fastleaves"}) {
		t.Errorf("Interests.Concerns = %v", in.Concerns)
	}
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown key", "[[patch]]\nid = \"a\"\nkind = \"overwrite\"\ntarget = \"A\"\nbody = \"b\"\ntypo = 1\n", "typo"},
		{"bad kind", "[[patch]]\nid = \"a\"\nkind = \"rewrite\"\ntarget = \"A\"\n", "kind"},
		{"accessor without expose", "[[patch]]\nid = \"a\"\nkind = \"accessor\"\ntarget = \"A\"\n", "expose"},
		{"overwrite without body", "[[patch]]\nid = \"a\"\nkind = \"overwrite\"\ntarget = \"A\"\nmethod = \"m\"\n", "body"},
		{"bad side", "[[set]]\nname = \"s\"\nside = \"left\"\npatches = []\n", "side"},
		{"bad toml", "[[patch]\n", "sample.toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "sample.toml", testHooks(t))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildAggregatesErrors(t *testing.T) {
	b := NewBuilder().
		Patch(PatchDescriptor{ID: "a", Kind: FullOverwrite, Target: Selector("game/A"), Method: MethodRef{Name: "m"}, Body: "missing"}).
		Patch(PatchDescriptor{ID: "a", Kind: EntryGuard, Target: Selector("game/A"), Method: MethodRef{Name: "m"}, Guard: "leaves.noDecay"}).
		Patch(PatchDescriptor{ID: "b", Kind: EntryGuard, Target: Selector("not a class"), Method: MethodRef{Name: "m", Descriptor: "(Q)V"}}).
		Patch(PatchDescriptor{ID: "c", Kind: ReturnDecorator, Target: Selector("game/C"), Body: "drops.double", Cancellable: true}).
		Set(PatchSet{Name: "s", Patches: []string{"a", "zzz", "a"}, Concern: "nope"}).
		Set(PatchSet{Name: "s"})

	_, err := b.Build(testHooks(t))
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error %v is not a multierror", err)
	}
	msg := err.Error()
	for _, want := range []string{
		`replacement "missing" is not registered`,
		"duplicate patch id",
		"invalid class name",
		"invalid descriptor",
		"no guard predicate",
		"requires a target method",
		"only entry guards can be cancellable",
		`unknown patch "zzz"`,
		"patch a listed twice",
		`undeclared concern "nope"`,
		"duplicate set name",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("aggregated error missing %q", want)
		}
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Error("no ValidationError in chain")
	}
}

func TestBuildFailureLeavesHooksUntouched(t *testing.T) {
	hooks := testHooks(t)
	_, err := NewBuilder().
		Patch(PatchDescriptor{ID: "g", Kind: EntryGuard, Target: Selector("game/A"), Method: MethodRef{Name: "m"}, GuardExpr: "true"}).
		Patch(PatchDescriptor{ID: "bad", Kind: FullOverwrite, Target: Selector("game/A"), Method: MethodRef{Name: "m"}}).
		Build(hooks)
	if err == nil {
		t.Fatal("Build succeeded")
	}
	if hooks.Has(hook.KindGuard, GuardHookName("g")) {
		t.Error("expression guard registered despite failed build")
	}
}

func TestExpressionGuardCompileError(t *testing.T) {
	_, err := NewBuilder().
		Patch(PatchDescriptor{ID: "g", Kind: EntryGuard, Target: Selector("game/A"), Method: MethodRef{Name: "m"}, GuardExpr: "args[0] >"}).
		Build(hook.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "compiling guard expression") {
		t.Errorf("error = %v", err)
	}
}

func TestExposureValidation(t *testing.T) {
	tests := []struct {
		name string
		exp  Exposure
		ok   bool
	}{
		{"getter", Exposure{Member: "x", Accessor: "getX", Descriptor: "()I"}, true},
		{"setter", Exposure{Member: "x", Accessor: "setX", Descriptor: "(I)V"}, true},
		{"widen only", Exposure{Member: "x", Widen: true}, true},
		{"nothing", Exposure{Member: "x"}, false},
		{"bad shape", Exposure{Member: "x", Accessor: "getX", Descriptor: "(I)I"}, false},
		{"invoker", Exposure{Member: "m", MemberKind: MemberMethod, MemberDescriptor: "(I)V", Accessor: "callM", Descriptor: "(I)V"}, true},
		{"invoker mismatch", Exposure{Member: "m", MemberKind: MemberMethod, MemberDescriptor: "(I)V", Accessor: "callM", Descriptor: "()V"}, false},
		{"bad accessor name", Exposure{Member: "x", Accessor: "<init>", Descriptor: "()I"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exp.validate()
			if (err == nil) != tt.ok {
				t.Errorf("validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestSelector(t *testing.T) {
	tests := []struct {
		sel   string
		class string
		want  bool
		exact bool
	}{
		{"game.block.Leaves", "game/block/Leaves", true, true},
		{"game/block/Leaves", "game.block.Leaves", true, true},
		{"game/block/Leaves", "game/block/LeavesOld", false, true},
		{"game/block/*Leaves", "game/block/OakLeaves", true, false},
		{"game/block/*Leaves", "game/block/sub/OakLeaves", false, false},
		{"game/block/**", "game/block/sub/OakLeaves", true, false},
		{"game/block/**", "game/blockade/X", false, false},
	}
	for _, tt := range tests {
		s := Selector(tt.sel)
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%q): %v", tt.sel, err)
		}
		if got := s.Matches(tt.class); got != tt.want {
			t.Errorf("Selector(%q).Matches(%q) = %v", tt.sel, tt.class, got)
		}
		if s.Exact() != tt.exact {
			t.Errorf("Selector(%q).Exact() = %v", tt.sel, s.Exact())
		}
	}
	for _, bad := range []string{"", "game/[", "game/**/X", "bad name/**"} {
		if err := Selector(bad).Validate(); err == nil {
			t.Errorf("Selector(%q) validated", bad)
		}
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.toml")
	b := filepath.Join(dir, "b.toml")
	if err := os.WriteFile(a, []byte("[[patch]]\nid = \"p1\"\nkind = \"overwrite\"\ntarget = \"game/Door\"\nmethod = \"isOpen\"\nbody = \"door.alwaysOpen\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("[[set]]\nname = \"core\"\npatches = [\"p1\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFiles([]string{a, b}, testHooks(t))
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 || len(c.Sets()) != 1 {
		t.Errorf("catalog has %d patches, %d sets", c.Len(), len(c.Sets()))
	}
	if _, err := LoadFiles([]string{filepath.Join(dir, "missing.toml")}, nil); err == nil {
		t.Error("missing file accepted")
	}
}

func TestCatalogAccessorsCopy(t *testing.T) {
	c, err := NewBuilder().
		Patch(PatchDescriptor{ID: "p", Kind: FullOverwrite, Target: Selector("game/A"), Method: MethodRef{Name: "m"}, Body: "door.alwaysOpen"}).
		Set(PatchSet{Name: "s", Patches: []string{"p"}}).
		Build(testHooks(t))
	if err != nil {
		t.Fatal(err)
	}
	sets := c.Sets()
	sets[0].Patches[0] = "changed"
	if s, _ := c.Set("s"); s.Patches[0] != "p" {
		t.Error("Sets() exposed internal slice")
	}
}
