package rewrite

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome is the terminal state of one transform.
type Outcome int

const (
	Unchanged Outcome = iota
	Rewritten
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Rewritten:
		return "rewritten"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// SkippedPatch is an optional patch that could not be applied.
type SkippedPatch struct {
	ID     string
	Reason string
}

// EditResult is what a transform produced. Bytes is the original slice for
// Unchanged, a fresh slice for Rewritten and nil for Failed.
type EditResult struct {
	Outcome    Outcome
	Bytes      []byte
	Applied    []string
	Skipped    []SkippedPatch
	Diagnostic string
	Err        error
}

func unchanged(original []byte, diagnostic string) EditResult {
	return EditResult{Outcome: Unchanged, Bytes: original, Diagnostic: diagnostic}
}

func failed(err error) EditResult {
	return EditResult{Outcome: Failed, Err: err, Diagnostic: err.Error()}
}

// Sentinel errors for idempotency and input problems.
var (
	ErrAlreadyTransformed  = errors.New("class already transformed in this session")
	ErrTransformInProgress = errors.New("class transform already in progress")
	ErrClassNameMismatch   = errors.New("class binary names a different class")
)

// TargetNotFoundError means a patch's target member is absent from the
// class. For a mandatory patch the class fails to load.
type TargetNotFoundError struct {
	Class  string
	Patch  string
	Member string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("patch %s: target %s not found in %s", e.Patch, e.Member, e.Class)
}

// EditApplicationError means an edit could not be woven into the class.
type EditApplicationError struct {
	Class string
	Patch string
	Err   error
}

func (e *EditApplicationError) Error() string {
	if e.Patch == "" {
		return fmt.Sprintf("rewriting %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("patch %s on %s: %v", e.Patch, e.Class, e.Err)
}

func (e *EditApplicationError) Unwrap() error { return e.Err }

func skippedSummary(skipped []SkippedPatch) string {
	if len(skipped) == 0 {
		return ""
	}
	parts := make([]string, len(skipped))
	for i, s := range skipped {
		parts[i] = s.ID + ": " + s.Reason
	}
	return "skipped " + strings.Join(parts, "; ")
}
