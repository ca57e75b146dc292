package selection

import (
	"errors"
	"fmt"
)

// ErrStalePlan is returned when a plan snapshot no longer fits the catalog
// it is restored against.
var ErrStalePlan = errors.New("plan snapshot does not match catalog")

// ConflictingOverwriteError reports two FullOverwrite patches on the same
// method.
type ConflictingOverwriteError struct {
	First, Second string
	Target        string
	Method        string
}

func (e *ConflictingOverwriteError) Error() string {
	return fmt.Sprintf("conflicting overwrites %s and %s on %s.%s", e.First, e.Second, e.Target, e.Method)
}

// GuardOverwriteConflictError reports an EntryGuard and a FullOverwrite on
// the same method. The overwrite would discard the guard.
type GuardOverwriteConflictError struct {
	Guard, Overwrite string
	Target           string
	Method           string
}

func (e *GuardOverwriteConflictError) Error() string {
	return fmt.Sprintf("entry guard %s conflicts with overwrite %s on %s.%s", e.Guard, e.Overwrite, e.Target, e.Method)
}

// AccessorCollisionError reports two exposures generating the same
// accessor on one class.
type AccessorCollisionError struct {
	First, Second string
	Target        string
	Accessor      string
}

func (e *AccessorCollisionError) Error() string {
	return fmt.Sprintf("accessors from %s and %s collide on %s.%s", e.First, e.Second, e.Target, e.Accessor)
}
