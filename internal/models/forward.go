package models

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// FreeOrientations is the number of leadfield columns: one per axis of a
// freely oriented source.
const FreeOrientations = 3

// ForwardSolution holds the free-orientation leadfield for one source
// location: rows are sensors, columns the x, y, z source components.
// It is immutable once built.
type ForwardSolution struct {
	leadfield *mat.Dense
}

// NewForwardSolution validates and copies a sensors x 3 leadfield.
func NewForwardSolution(leadfield mat.Matrix) (*ForwardSolution, error) {
	if leadfield == nil {
		return nil, errors.New("forward solution: nil leadfield")
	}
	rows, cols := leadfield.Dims()
	if cols != FreeOrientations {
		return nil, fmt.Errorf("forward solution: expected %d columns, got %d", FreeOrientations, cols)
	}
	if rows == 0 {
		return nil, errors.New("forward solution: no sensors")
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := leadfield.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("forward solution: non-finite value at (%d,%d)", i, j)
			}
		}
	}
	return &ForwardSolution{leadfield: mat.DenseCopyOf(leadfield)}, nil
}

// Sensors returns the number of leadfield rows.
func (s *ForwardSolution) Sensors() int {
	r, _ := s.leadfield.Dims()
	return r
}

// Leadfield exposes the matrix read-only.
func (s *ForwardSolution) Leadfield() mat.Matrix {
	return s.leadfield
}

// MarshalBinary encodes the leadfield with gonum's binary matrix format.
func (s *ForwardSolution) MarshalBinary() ([]byte, error) {
	return s.leadfield.MarshalBinary()
}

// DecodeForwardSolution parses bytes produced by MarshalBinary.
func DecodeForwardSolution(data []byte) (*ForwardSolution, error) {
	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode forward solution: %w", err)
	}
	return NewForwardSolution(&m)
}
