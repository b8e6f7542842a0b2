package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dipolesim/dipole-engine/internal/transform"
)

// Key identifies a grid location. Its string forms are fixed at three
// decimals so they stay stable across runs and machines.
type Key struct {
	X, Y, Z float64
}

// Point returns the key as a head-frame location.
func (k Key) Point() transform.Point3 {
	return transform.Point3{X: k.X, Y: k.Y, Z: k.Z}
}

// String renders "x-y-z" with three decimals per coordinate.
func (k Key) String() string {
	return fmt.Sprintf("%.3f-%.3f-%.3f", k.X, k.Y, k.Z)
}

// Filename returns the cache and remote file name for the key:
// {subject}-{x:.3f}-{y:.3f}-{z:.3f}-fwd.
func (k Key) Filename(subject string) string {
	return subject + "-" + k.String() + "-fwd"
}

// ParseKey reads three coordinates back into a key rounded to grid precision.
func ParseKey(x, y, z string) (Key, error) {
	var vals [3]float64
	for i, s := range []string{x, y, z} {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Key{}, fmt.Errorf("parse key coordinate %q: %w", s, err)
		}
		vals[i] = transform.Round(v, Decimals)
	}
	return Key{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// Snap maps a point onto the grid by choosing, independently per axis, the
// coordinate closest to the query. On ties the first minimum in ascending
// axis order wins.
//
// Snapping per axis is exact only because the grid is a full Cartesian
// product. The chosen location may still have no solution while a neighbour
// does; callers see that as an out-of-volume resolution.
func Snap(p transform.Point3, g SpatialGrid) Key {
	return Key{
		X: closest(g.X, p.X),
		Y: closest(g.Y, p.Y),
		Z: closest(g.Z, p.Z),
	}
}

func closest(axis []float64, v float64) float64 {
	if len(axis) == 0 {
		return v
	}
	best := axis[0]
	bestDist := math.Abs(axis[0] - v)
	for _, c := range axis[1:] {
		if d := math.Abs(c - v); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
