package models

import (
	"fmt"
	"math"

	"github.com/dipolesim/dipole-engine/internal/transform"
)

// DipoleQuery is one user request to place a dipole and observe its field.
// Position and orientation are expressed in SourceFrame; for anatomical_ras
// that means millimeters, for sensor_head meters.
type DipoleQuery struct {
	Position    transform.Point3
	Orientation transform.Direction3
	Amplitude   float64 // A·m
	SourceFrame transform.Frame
	Exact       bool
}

// Validate checks the query before it enters the pipeline. Orientation
// normalisation happens later; only a zero vector is rejected here.
func (q DipoleQuery) Validate() error {
	switch q.SourceFrame {
	case transform.AnatomicalRAS, transform.SensorHead:
	default:
		return fmt.Errorf("unsupported source frame %q", q.SourceFrame)
	}
	fields := []struct {
		name string
		v    float64
	}{
		{"position.x", q.Position.X}, {"position.y", q.Position.Y}, {"position.z", q.Position.Z},
		{"orientation.x", q.Orientation.X}, {"orientation.y", q.Orientation.Y}, {"orientation.z", q.Orientation.Z},
		{"amplitude", q.Amplitude},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s must be finite", f.name)
		}
	}
	return nil
}
