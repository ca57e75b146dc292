package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/chazu/weft/classfile"
	"github.com/chazu/weft/journal"
	"github.com/chazu/weft/selection"
)

const weftTOML = `
[project]
name = "demo"

[catalog]
files = ["catalog.toml"]

[registry]
snapshot = "registry.toml"

[output]
dir = "out"

[hooks]
decorators = ["door.audit"]
`

const catalogTOML = `
[[patch]]
id = "door.jammed"
kind = "entry-guard"
target = "game/Door"
method = "swing"
guard_expr = "args[0] > 10"
cancel_value = -1
cancellable = true

[[patch]]
id = "door.audit"
kind = "return-decorator"
target = "game/Door"
method = "swing"
body = "door.audit"

[[patch]]
id = "door.hinge"
kind = "accessor"
target = "game/Door"
expose = { member = "hinge", accessor = "getHinge", descriptor = "()I" }

[[patch]]
id = "wards.lock"
kind = "entry-guard"
target = "game/Door"
method = "isOpen"
guard_expr = "true"
cancel_value = false
cancellable = true

[[set]]
name = "core"
patches = ["door.jammed", "door.audit", "door.hinge"]

[[set]]
name = "wards"
requires = ["wards"]
patches = ["wards.lock"]
`

func init() {
	color.NoColor = true
}

// setupProject writes a project and a classes directory holding game/Door
// and game/Wall.
func setupProject(t *testing.T) (dir, classes string) {
	t.Helper()
	dir = t.TempDir()
	files := map[string]string{
		"weft.toml":     weftTOML,
		"catalog.toml":  catalogTOML,
		"registry.toml": `side = "client"` + "\n" + `modules = ["core"]`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	classes = filepath.Join(dir, "classes")
	writeClass(t, classes, "game/Door", door(t))
	writeClass(t, classes, "game/Wall", wall(t))
	return dir, classes
}

func door(t *testing.T) []byte {
	t.Helper()
	a := classfile.NewAssembler("game/Door", "", classfile.AccPublic)
	a.Field(classfile.AccPrivate, "hinge", "I")
	a.Method(classfile.AccPublic, "isOpen", "()Z").Op(classfile.OpConstTrue).Op(classfile.OpReturn).End()
	a.Method(classfile.AccPublic, "swing", "(I)I").
		Op(classfile.OpLoadArg, 0).Const(2).Op(classfile.OpMul).Op(classfile.OpReturn).End()
	data, err := a.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func wall(t *testing.T) []byte {
	t.Helper()
	a := classfile.NewAssembler("game/Wall", "", classfile.AccPublic)
	a.Method(classfile.AccPublic, "height", "()I").Const(3).Op(classfile.OpReturn).End()
	data, err := a.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func writeClass(t *testing.T, root, name string, data []byte) {
	t.Helper()
	if err := writeFile(filepath.Join(root, filepath.FromSlash(name)+ClassExt), data); err != nil {
		t.Fatal(err)
	}
}

func runWeft(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"-C", dir}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	dir, _ := setupProject(t)
	out, err := runWeft(t, dir, "validate")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "4 patches, 2 sets") {
		t.Errorf("output:\n%s", out)
	}
}

func TestValidateReportsUndeclaredHook(t *testing.T) {
	dir, _ := setupProject(t)
	if err := os.WriteFile(filepath.Join(dir, "weft.toml"), []byte(`[project]`+"\n"+`name = "demo"`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runWeft(t, dir, "validate")
	if err == nil || !strings.Contains(err.Error(), "door.audit") {
		t.Errorf("err = %v", err)
	}
}

func TestPlan(t *testing.T) {
	dir, _ := setupProject(t)
	snap := filepath.Join(dir, "build", "plan.cbor")
	out, err := runWeft(t, dir, "plan", "-o", snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"active core", "skipped wards", "door.jammed", "door.hinge"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "wards.lock") {
		t.Errorf("inactive patch listed:\n%s", out)
	}
	data, err := os.ReadFile(snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("empty plan snapshot")
	}
}

func TestPlanSideOverride(t *testing.T) {
	dir, _ := setupProject(t)
	if _, err := runWeft(t, dir, "--side", "sideways", "plan"); err == nil {
		t.Error("bad side accepted")
	}
}

func TestApply(t *testing.T) {
	dir, classes := setupProject(t)
	dbPath := filepath.Join(dir, "journal.db")
	out, err := runWeft(t, dir, "apply", classes, "--journal", dbPath, "-j", "2")
	if err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if !strings.Contains(out, "1 rewritten, 1 unchanged, 0 failed") {
		t.Errorf("output:\n%s", out)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out", "game", "Door.wcls"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := classfile.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if c.Method("getHinge", "()I") == nil {
		t.Error("accessor not woven")
	}
	wallOut, err := os.ReadFile(filepath.Join(dir, "out", "game", "Wall.wcls"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(wallOut, wall(t)) {
		t.Error("untargeted class was modified")
	}

	j, err := journal.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	entries, err := j.Entries(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("journal has %d entries", len(entries))
	}
	if entries[0].Session == "" || entries[0].Session != entries[1].Session {
		t.Errorf("sessions %q %q", entries[0].Session, entries[1].Session)
	}
}

func TestApplyFromPlanSnapshot(t *testing.T) {
	dir, classes := setupProject(t)
	snap := filepath.Join(dir, "plan.cbor")
	if _, err := runWeft(t, dir, "plan", "-o", snap); err != nil {
		t.Fatal(err)
	}
	out, err := runWeft(t, dir, "apply", classes, "--plan", snap)
	if err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if !strings.Contains(out, "1 rewritten") {
		t.Errorf("output:\n%s", out)
	}
}

func TestApplyRejectsSnapshotFromOtherHost(t *testing.T) {
	dir, classes := setupProject(t)
	reg := filepath.Join(dir, "wards.toml")
	if err := os.WriteFile(reg, []byte(`modules = ["core", "wards"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	snap := filepath.Join(dir, "plan.cbor")
	if _, err := runWeft(t, dir, "--registry", reg, "plan", "-o", snap); err != nil {
		t.Fatal(err)
	}
	_, err := runWeft(t, dir, "apply", classes, "--plan", snap)
	if !errors.Is(err, selection.ErrStalePlan) {
		t.Errorf("err = %v, want ErrStalePlan", err)
	}
}

func TestApplyFailedClassExits(t *testing.T) {
	dir, classes := setupProject(t)
	// Door's path now holds Wall's bytes.
	writeClass(t, classes, "game/Door", wall(t))

	out, err := runWeft(t, dir, "apply", classes)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 2 {
		t.Fatalf("err = %v\n%s", err, out)
	}
	if !strings.Contains(out, "failed") || !strings.Contains(out, "game/Door") {
		t.Errorf("output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "game", "Door.wcls")); !os.IsNotExist(err) {
		t.Error("failed class was written")
	}
}

func TestRun(t *testing.T) {
	dir, classes := setupProject(t)

	out, err := runWeft(t, dir, "run", classes, "game/Door", "swing", "4")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "8\n") {
		t.Errorf("swing 4:\n%s", out)
	}

	out, err = runWeft(t, dir, "run", classes, "game/Door", "swing", "11")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "-1\n") {
		t.Errorf("swing 11:\n%s", out)
	}

	out, err = runWeft(t, dir, "run", classes, "game/Door", "getHinge")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "0\n") {
		t.Errorf("getHinge:\n%s", out)
	}
}

func TestRunWithModuleLoaded(t *testing.T) {
	dir, classes := setupProject(t)
	reg := filepath.Join(dir, "wards.toml")
	if err := os.WriteFile(reg, []byte(`modules = ["wards"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runWeft(t, dir, "--registry", reg, "run", classes, "game/Door", "isOpen")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "false\n") {
		t.Errorf("isOpen:\n%s", out)
	}
}

func TestDis(t *testing.T) {
	dir, classes := setupProject(t)
	path := filepath.Join(classes, "game", "Door.wcls")
	out, err := runWeft(t, dir, "dis", path, "-m", "swing")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "swing(I)I") || strings.Contains(out, "isOpen") {
		t.Errorf("output:\n%s", out)
	}
	if _, err := runWeft(t, dir, "dis", path, "-m", "missing"); err == nil {
		t.Error("missing method accepted")
	}
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"1.5", 1.5},
		{"true", true},
		{"nil", nil},
		{"door", "door"},
	}
	for _, tt := range tests {
		if got := parseArg(tt.in); got != tt.want {
			t.Errorf("parseArg(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
