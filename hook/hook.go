// Package hook defines the host-side logic that woven bytecode calls into:
// entry guards, replacement bodies and return decorators.
//
// Patched methods reference hooks by name through the class constant pool.
// The runtime that executes a patched class resolves those names against a
// Registry populated before the catalog is built.
package hook

import "fmt"

// Call describes the invocation a hook is intercepting.
type Call struct {
	Class      string
	Method     string
	Descriptor string
	Self       any
	Args       []any
}

// Decision is the result of evaluating an entry guard.
type Decision struct {
	cancel bool
	value  any
}

// Continue lets execution proceed to the next guard or the method body.
func Continue() Decision { return Decision{} }

// CancelWith stops the method and returns v to the caller.
func CancelWith(v any) Decision { return Decision{cancel: true, value: v} }

// Cancelled reports whether the guard asked to cancel.
func (d Decision) Cancelled() bool { return d.cancel }

// Value is the substitute return value of a cancelling decision.
func (d Decision) Value() any { return d.value }

func (d Decision) String() string {
	if d.cancel {
		return fmt.Sprintf("cancel(%v)", d.value)
	}
	return "continue"
}

// Guard runs at method entry. Guards on non-cancellable patches may still
// return CancelWith; the runtime ignores the cancellation in that case.
type Guard func(Call) Decision

// Replacement supplies the whole body of an overwritten method.
type Replacement func(Call) (any, error)

// Decorator observes and may adjust a method's return value.
type Decorator func(Call, any) (any, error)

// Kind distinguishes the three hook tables.
type Kind int

const (
	KindGuard Kind = iota
	KindReplacement
	KindDecorator
)

func (k Kind) String() string {
	switch k {
	case KindGuard:
		return "guard"
	case KindReplacement:
		return "replacement"
	case KindDecorator:
		return "decorator"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}
