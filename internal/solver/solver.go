// Package solver wraps the exact boundary-element forward computation. The
// numerical work happens in an external program; this package only frames
// the request, runs it and decodes the leadfield it returns.
package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

// ErrNoSourcePoints reports that the position lies outside the modeled
// volume, so no forward solution can exist there.
var ErrNoSourcePoints = errors.New("no source points left in source space")

// Request is one exact solve.
type Request struct {
	Subject  string
	Position transform.Point3 // head frame, meters
	BEMPath  string
}

// Solver computes a free-orientation forward solution for an exact position.
type Solver interface {
	Solve(ctx context.Context, req Request) (*models.ForwardSolution, error)
}

// ExactSolveError carries the failed position and any diagnostic output.
type ExactSolveError struct {
	Position transform.Point3
	Detail   string
	Err      error
}

func (e *ExactSolveError) Error() string {
	msg := fmt.Sprintf("exact solve at %s: %v", transform.FormatPoint(e.Position), e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ExactSolveError) Unwrap() error { return e.Err }

// Func adapts a function to the Solver interface.
type Func func(ctx context.Context, req Request) (*models.ForwardSolution, error)

// Solve implements Solver.
func (f Func) Solve(ctx context.Context, req Request) (*models.ForwardSolution, error) {
	return f(ctx, req)
}
