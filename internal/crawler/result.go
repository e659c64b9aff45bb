package crawler

import (
	"errors"
	"fmt"
)

// Status classifies the outcome of one extraction strategy.
type Status int

// Extraction outcomes.
const (
	StatusEmpty Status = iota
	StatusOK
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return "empty"
	}
}

// Result is what an extraction strategy returns. An empty result is a valid
// answer ("nothing here"); a failed one means the strategy could not run.
type Result struct {
	Fields Fields
	Status Status
	Err    error
}

// OK wraps extracted fields, downgrading to Empty when nothing was found.
func OK(f Fields) Result {
	if f.IsEmpty() {
		return Result{Status: StatusEmpty}
	}
	return Result{Fields: f, Status: StatusOK}
}

// Empty reports that the strategy ran and found nothing.
func Empty() Result {
	return Result{Status: StatusEmpty}
}

// Failed reports a strategy error.
func Failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

var (
	// ErrNotFound is returned by stores when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTarget marks malformed crawl targets.
	ErrInvalidTarget = errors.New("invalid target")
)

// ExtractionFailure is returned when a target yields no usable identity.
// Partial carries whatever was gathered before giving up.
type ExtractionFailure struct {
	Target  string
	Partial Fields
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed for %s: no name could be determined", e.Target)
}
