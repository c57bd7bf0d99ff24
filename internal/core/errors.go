package core

import (
	"errors"
	"fmt"

	"github.com/3cpo-dev/bootnode/pkg/api"
)

// ErrTimedOut is returned when a bounded wait gives up.
var ErrTimedOut = errors.New("timed out")

// StepError reports the stage at which a run stopped.
type StepError struct {
	Stage api.Stage
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Diagnostic is a non-fatal failure observed during a run.
type Diagnostic struct {
	Stage api.Stage
	Err   error
}

func (d Diagnostic) String() string { return fmt.Sprintf("%s: %v", d.Stage, d.Err) }
