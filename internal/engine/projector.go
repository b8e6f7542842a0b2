package engine

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

// ErrDegenerateOrientation is returned for a zero-length dipole orientation.
var ErrDegenerateOrientation = errors.New("dipole orientation has zero length")

// UnitOrientation normalises d. A zero or non-finite norm is rejected; no
// default direction is ever substituted.
func UnitOrientation(d transform.Direction3) (transform.Direction3, error) {
	n := d.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return transform.Direction3{}, fmt.Errorf("%w: (%g, %g, %g)", ErrDegenerateOrientation, d.X, d.Y, d.Z)
	}
	return transform.Direction3{X: d.X / n, Y: d.Y / n, Z: d.Z / n}, nil
}

// Project collapses the free-orientation leadfield onto the dipole orientation
// and scales by amplitude (A·m). When channels are given they must match the
// leadfield rows one to one and the result is split per channel type.
func Project(sol *models.ForwardSolution, orientation transform.Direction3, amplitude float64, channels []models.Channel) (models.EvokedSignal, error) {
	if sol == nil {
		return models.EvokedSignal{}, errors.New("project: nil forward solution")
	}
	unit, err := UnitOrientation(orientation)
	if err != nil {
		return models.EvokedSignal{}, err
	}
	sensors := sol.Sensors()
	if len(channels) > 0 && len(channels) != sensors {
		return models.EvokedSignal{}, fmt.Errorf("project: %d channels for a leadfield with %d sensors", len(channels), sensors)
	}

	var out mat.VecDense
	out.MulVec(sol.Leadfield(), mat.NewVecDense(models.FreeOrientations, []float64{unit.X, unit.Y, unit.Z}))
	out.ScaleVec(amplitude, &out)

	data := make([]float64, sensors)
	for i := range data {
		data[i] = out.AtVec(i)
	}

	signal := models.EvokedSignal{Data: data}
	if len(channels) > 0 {
		signal.Channels = append([]models.Channel(nil), channels...)
		signal.ByType = make(map[models.ChannelType][]float64, 3)
		for i, ch := range channels {
			signal.ByType[ch.Type] = append(signal.ByType[ch.Type], data[i])
		}
	}
	return signal, nil
}
