// Package pipeline holds types shared by the build and deploy pipelines.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/chiefdeploy/chief/internal/domain"
)

// Failure is a terminal pipeline outcome. The failed status has already
// been recorded on the build, so the job must not be retried.
type Failure struct {
	Status domain.BuildStatus
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("pipeline failed with status %s", f.Status)
	}
	return fmt.Sprintf("pipeline failed with status %s: %v", f.Status, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Failed constructs a Failure.
func Failed(status domain.BuildStatus, err error) *Failure {
	return &Failure{Status: status, Err: err}
}

// AsFailure extracts a Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
