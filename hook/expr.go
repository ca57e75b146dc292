package hook

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("weft.hook")

// FieldReader is implemented by receivers that expose their field values to
// guard expressions as the "fields" variable.
type FieldReader interface {
	FieldValues() map[string]any
}

// exprEnv is the compile-time shape of the guard environment.
var exprEnv = map[string]any{
	"self":   nil,
	"fields": map[string]any{},
	"args":   []any{},
	"class":  "",
	"method": "",
}

// CompileExprGuard compiles a boolean expression into a Guard. The guard
// cancels with cancelValue when the expression is true and continues
// otherwise. Available variables: self, fields, args, class, method.
//
//	args[0] > 10 && class == "game/block/Leaves"
//
// Evaluation errors are logged and treated as "continue".
func CompileExprGuard(src string, cancelValue any) (Guard, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling guard expression %q: %w", src, err)
	}
	return exprGuard(program, src, cancelValue), nil
}

func exprGuard(program *vm.Program, src string, cancelValue any) Guard {
	return func(c Call) Decision {
		env := map[string]any{
			"self":   c.Self,
			"fields": map[string]any{},
			"args":   c.Args,
			"class":  c.Class,
			"method": c.Method,
		}
		if fr, ok := c.Self.(FieldReader); ok {
			env["fields"] = fr.FieldValues()
		}
		out, err := expr.Run(program, env)
		if err != nil {
			log.Warningf("guard %q on %s.%s failed: %v", src, c.Class, c.Method, err)
			return Continue()
		}
		if hit, _ := out.(bool); hit {
			return CancelWith(cancelValue)
		}
		return Continue()
	}
}
