package backend

import "fmt"

// MismatchError is the configuration error returned when a Manager is
// requested for a backend kind other than the one already bound to the
// process.
type MismatchError struct {
	// Bound is the backend kind fixed by the first Manager construction
	Bound string

	// Requested is the conflicting kind named by the later request
	Requested string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("backend manager already bound to %q, cannot rebind to %q", e.Bound, e.Requested)
}

// StepError reports which step of a multi-step provider operation failed.
// The sequence has no rollback, so the VM is left in the state the last
// successful step produced; the caller decides on remediation.
type StepError struct {
	// Op is the operation ("snapshot", "restore")
	Op string

	// Step is the step that failed ("stop", "snapshot", "restore", "start")
	Step string

	// Err is the underlying provider failure
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed at step %q: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
