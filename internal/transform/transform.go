// Package transform composes affine coordinate transforms between the
// anatomical image frames and the sensor array's head frame.
//
// Transforms are purely geometric: they carry no unit information. Anatomical
// frames are expressed in millimeters and the head frame in meters, and the
// conversion happens explicitly at the output boundary (see MillimetersToMeters).
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Frame names a node in the transform graph.
type Frame string

const (
	ScannerVoxel  Frame = "scanner_voxel"
	AnatomicalRAS Frame = "anatomical_ras"
	AnatomicalMRI Frame = "anatomical_mri"
	SensorHead    Frame = "sensor_head"
)

// affineTolerance bounds the deviation allowed in the homogeneous bottom row.
const affineTolerance = 1e-9

// Point3 is a location; translation applies to it.
type Point3 struct {
	X, Y, Z float64
}

// Direction3 is a free vector; translation does not apply to it.
type Direction3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean length of the direction.
func (d Direction3) Norm() float64 {
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// Affine is a 4x4 homogeneous transform from one frame to another.
type Affine struct {
	From Frame
	To   Frame
	m    *mat.Dense
}

// ChainError reports an attempt to compose transforms whose frames do not meet.
type ChainError struct {
	Left  Affine
	Right Affine
	Msg   string
}

func (e *ChainError) Error() string {
	if e.Msg != "" {
		return "transform chain: " + e.Msg
	}
	return fmt.Sprintf("transform chain: %s->%s cannot be followed by %s->%s",
		e.Left.From, e.Left.To, e.Right.From, e.Right.To)
}

// NewAffine builds a transform from row-major matrix entries.
func NewAffine(from, to Frame, rows [4][4]float64) (Affine, error) {
	if from == "" || to == "" {
		return Affine{}, fmt.Errorf("affine frames must be named (from=%q, to=%q)", from, to)
	}
	data := make([]float64, 0, 16)
	for _, row := range rows {
		data = append(data, row[:]...)
	}
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Affine{}, fmt.Errorf("affine %s->%s: non-finite entry at (%d,%d)", from, to, i/4, i%4)
		}
	}
	bottom := rows[3]
	if math.Abs(bottom[0]) > affineTolerance || math.Abs(bottom[1]) > affineTolerance ||
		math.Abs(bottom[2]) > affineTolerance || math.Abs(bottom[3]-1) > affineTolerance {
		return Affine{}, fmt.Errorf("affine %s->%s: bottom row must be [0 0 0 1], got %v", from, to, bottom)
	}
	return Affine{From: from, To: to, m: mat.NewDense(4, 4, data)}, nil
}

// Identity returns the identity transform on a single frame.
func Identity(frame Frame) Affine {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return Affine{From: frame, To: frame, m: m}
}

// Translation returns a pure translation between two frames.
func Translation(from, to Frame, dx, dy, dz float64) Affine {
	t := Identity(from)
	t.To = to
	t.m.Set(0, 3, dx)
	t.m.Set(1, 3, dy)
	t.m.Set(2, 3, dz)
	return t
}

// Matrix returns a copy of the 4x4 matrix.
func (a Affine) Matrix() *mat.Dense {
	if a.m == nil {
		return Identity(a.From).m
	}
	return mat.DenseCopyOf(a.m)
}

// Rows returns the matrix entries row-major.
func (a Affine) Rows() [4][4]float64 {
	var rows [4][4]float64
	m := a.Matrix()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}

// Compose returns the transform applying a and then b. b must start where a ends.
func Compose(a, b Affine) (Affine, error) {
	if a.To != b.From {
		return Affine{}, &ChainError{Left: a, Right: b}
	}
	var out mat.Dense
	out.Mul(b.Matrix(), a.Matrix())
	return Affine{From: a.From, To: b.To, m: &out}, nil
}

// BuildChain composes an ordered list of transforms into one end-to-end transform.
func BuildChain(chain ...Affine) (Affine, error) {
	if len(chain) == 0 {
		return Affine{}, &ChainError{Msg: "empty chain"}
	}
	out := chain[0]
	for _, next := range chain[1:] {
		var err error
		out, err = Compose(out, next)
		if err != nil {
			return Affine{}, err
		}
	}
	return out, nil
}

// Invert returns the algebraic inverse, mapping a.To back to a.From.
func Invert(a Affine) (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.Matrix()); err != nil {
		return Affine{}, fmt.Errorf("invert %s->%s: %w", a.From, a.To, err)
	}
	return Affine{From: a.To, To: a.From, m: &inv}, nil
}

// ApplyPoint maps a point through the transform (homogeneous coordinate 1).
func ApplyPoint(a Affine, p Point3) Point3 {
	x, y, z := apply(a, p.X, p.Y, p.Z, 1)
	return Point3{X: x, Y: y, Z: z}
}

// ApplyDirection maps a direction through the transform (homogeneous coordinate 0).
func ApplyDirection(a Affine, d Direction3) Direction3 {
	x, y, z := apply(a, d.X, d.Y, d.Z, 0)
	return Direction3{X: x, Y: y, Z: z}
}

func apply(a Affine, x, y, z, w float64) (float64, float64, float64) {
	in := mat.NewVecDense(4, []float64{x, y, z, w})
	var out mat.VecDense
	out.MulVec(a.Matrix(), in)
	return out.AtVec(0), out.AtVec(1), out.AtVec(2)
}
