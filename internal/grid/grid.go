// Package grid discretizes the head volume into the fixed set of locations
// for which forward solutions are precomputed, and snaps continuous query
// positions onto it.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/dipolesim/dipole-engine/internal/transform"
)

// Decimals is the fixed precision of every grid coordinate and key.
const Decimals = 3

// DefaultSteps is the per-axis sample count used when none is configured.
const DefaultSteps = 50

// SpatialGrid holds the sorted per-axis coordinates, in head-frame meters.
// The resolvable locations are the full Cartesian product of the three axes.
type SpatialGrid struct {
	X []float64
	Y []float64
	Z []float64
}

// Bounds is an axis-aligned box.
type Bounds struct {
	Min transform.Point3
	Max transform.Point3
}

// ErrNoPositions is returned when a grid is requested from an empty sensor set.
var ErrNoPositions = errors.New("grid: no sensor positions")

// Extent returns the axis-aligned bounds of the positions.
func Extent(positions []transform.Point3) (Bounds, error) {
	if len(positions) == 0 {
		return Bounds{}, ErrNoPositions
	}
	b := Bounds{Min: positions[0], Max: positions[0]}
	for _, p := range positions[1:] {
		b.Min.X, b.Max.X = math.Min(b.Min.X, p.X), math.Max(b.Max.X, p.X)
		b.Min.Y, b.Max.Y = math.Min(b.Min.Y, p.Y), math.Max(b.Max.Y, p.Y)
		b.Min.Z, b.Max.Z = math.Min(b.Min.Z, p.Z), math.Max(b.Max.Z, p.Z)
	}
	return b, nil
}

// Build derives the grid from the extent of the sensor positions, with steps
// evenly spaced values per axis from min to max inclusive.
func Build(positions []transform.Point3, steps int) (SpatialGrid, error) {
	b, err := Extent(positions)
	if err != nil {
		return SpatialGrid{}, err
	}
	return FromBounds(b, steps)
}

// FromBounds builds the grid over an explicit bounding box.
func FromBounds(b Bounds, steps int) (SpatialGrid, error) {
	if steps < 2 {
		return SpatialGrid{}, fmt.Errorf("grid: steps must be at least 2, got %d", steps)
	}
	return SpatialGrid{
		X: linspace(b.Min.X, b.Max.X, steps),
		Y: linspace(b.Min.Y, b.Max.Y, steps),
		Z: linspace(b.Min.Z, b.Max.Z, steps),
	}, nil
}

// Len returns the number of grid locations.
func (g SpatialGrid) Len() int {
	return len(g.X) * len(g.Y) * len(g.Z)
}

// Points returns every grid location as a key, x-major then y then z.
func (g SpatialGrid) Points() []Key {
	keys := make([]Key, 0, g.Len())
	for _, x := range g.X {
		for _, y := range g.Y {
			for _, z := range g.Z {
				keys = append(keys, Key{X: x, Y: y, Z: z})
			}
		}
	}
	return keys
}

func linspace(start, stop float64, num int) []float64 {
	out := make([]float64, num)
	step := (stop - start) / float64(num-1)
	for i := 0; i < num; i++ {
		out[i] = transform.Round(start+float64(i)*step, Decimals)
	}
	// Pin the endpoint so accumulated error never moves it off max.
	out[num-1] = transform.Round(stop, Decimals)
	return out
}
