package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"

	"github.com/chazu/weft/capability"
	"github.com/chazu/weft/hook"
)

//go:embed schema.cue
var schemaSource string

// resource mirrors the TOML layout after schema validation.
type resource struct {
	Concerns []struct {
		Name      string   `json:"name"`
		Providers []string `json:"providers"`
	} `json:"concern"`
	Patches []struct {
		ID          string `json:"id"`
		Kind        string `json:"kind"`
		Target      string `json:"target"`
		Method      string `json:"method"`
		Descriptor  string `json:"descriptor"`
		Guard       string `json:"guard"`
		GuardExpr   string `json:"guard_expr"`
		CancelValue any    `json:"cancel_value"`
		Body        string `json:"body"`
		Cancellable bool   `json:"cancellable"`
		Optional    bool   `json:"optional"`
		Expose      *struct {
			Member           string `json:"member"`
			Kind             string `json:"kind"`
			MemberDescriptor string `json:"member_descriptor"`
			Accessor         string `json:"accessor"`
			Descriptor       string `json:"descriptor"`
			Widen            bool   `json:"widen"`
		} `json:"expose"`
	} `json:"patch"`
	Sets []struct {
		Name     string   `json:"name"`
		Requires []string `json:"requires"`
		Side     string   `json:"side"`
		Concern  string   `json:"concern"`
		Patches  []string `json:"patches"`
	} `json:"set"`
}

// AddTOML decodes a catalog resource and appends its declarations to b.
// The resource is checked against the embedded schema before anything is
// added, so a rejected file leaves the builder unchanged.
func (b *Builder) AddTOML(data []byte, filename string) error {
	if filename == "" {
		filename = "<input>"
	}

	raw := make(map[string]any)
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal error: compiling catalog schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Catalog"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("internal error: schema definition #Catalog: %w", err)
	}

	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return formatCUEError(err, filename)
	}
	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err, filename)
	}

	var res resource
	if err := unified.Decode(&res); err != nil {
		return formatCUEError(err, filename)
	}

	var pending Builder
	for _, c := range res.Concerns {
		pending.Concern(Concern{Name: c.Name, Providers: identities(c.Providers)})
	}
	for _, p := range res.Patches {
		kind, err := ParseEditKind(p.Kind)
		if err != nil {
			return fmt.Errorf("%s: patch %s: %w", filename, p.ID, err)
		}
		d := PatchDescriptor{
			ID:          p.ID,
			Target:      Selector(p.Target),
			Method:      MethodRef{Name: p.Method, Descriptor: p.Descriptor},
			Kind:        kind,
			Guard:       p.Guard,
			GuardExpr:   p.GuardExpr,
			CancelValue: p.CancelValue,
			Body:        p.Body,
			Cancellable: p.Cancellable,
			Optional:    p.Optional,
		}
		if p.Method == "" && p.Descriptor != "" {
			return fmt.Errorf("%s: patch %s: descriptor given without method", filename, p.ID)
		}
		if e := p.Expose; e != nil {
			d.Exposure = Exposure{
				Member:           e.Member,
				MemberDescriptor: e.MemberDescriptor,
				Accessor:         e.Accessor,
				Descriptor:       e.Descriptor,
				Widen:            e.Widen,
			}
			if e.Kind == "method" {
				d.Exposure.MemberKind = MemberMethod
				if d.Exposure.Descriptor == "" && d.Exposure.Accessor != "" {
					d.Exposure.Descriptor = e.MemberDescriptor
				}
			}
		}
		pending.Patch(d)
	}
	for _, s := range res.Sets {
		side, err := capability.ParseSide(s.Side)
		if err != nil {
			return fmt.Errorf("%s: set %s: %w", filename, s.Name, err)
		}
		pending.Set(PatchSet{
			Name:     s.Name,
			Requires: identities(s.Requires),
			Side:     side,
			Concern:  s.Concern,
			Patches:  s.Patches,
		})
	}

	b.concerns = append(b.concerns, pending.concerns...)
	b.patches = append(b.patches, pending.patches...)
	b.sets = append(b.sets, pending.sets...)
	return nil
}

func identities(ids []string) []capability.ModuleIdentity {
	out := make([]capability.ModuleIdentity, len(ids))
	for i, id := range ids {
		out[i] = capability.ModuleIdentity(id)
	}
	return out
}

// Parse builds a catalog from a single TOML resource.
func Parse(data []byte, filename string, hooks *hook.Registry) (*Catalog, error) {
	b := NewBuilder()
	if err := b.AddTOML(data, filename); err != nil {
		return nil, err
	}
	return b.Build(hooks)
}

// LoadFiles builds one catalog from several resources. Declarations keep
// file order, then order within each file.
func LoadFiles(paths []string, hooks *hook.Registry) (*Catalog, error) {
	b := NewBuilder()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading catalog: %w", err)
		}
		if err := b.AddTOML(data, p); err != nil {
			return nil, err
		}
	}
	return b.Build(hooks)
}

// formatCUEError flattens CUE's error list into one error naming the path
// of each problem.
func formatCUEError(err error, filename string) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}
	lines := make([]string, 0, len(list))
	for _, e := range list {
		msg := e.Error()
		if p := strings.Join(cueerrors.Path(e), "."); p != "" && !strings.HasPrefix(msg, p) {
			msg = p + ": " + msg
		}
		lines = append(lines, msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", filename, lines[0])
	}
	return fmt.Errorf("%s: schema validation failed:\n  %s", filename, strings.Join(lines, "\n  "))
}
