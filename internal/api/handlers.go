package api

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dipolesim/dipole-engine/internal/engine"
	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/sensors"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

// FromProtoQuery maps a Simulate request into a DipoleQuery.
//
//	{
//	  "position":    {"x": .., "y": .., "z": ..},
//	  "orientation": {"x": .., "y": .., "z": ..},
//	  "amplitude":   50e-9,
//	  "frame":       "anatomical_ras" | "sensor_head",
//	  "exact":       false
//	}
//
// frame defaults to anatomical_ras, where positions are millimeters.
func FromProtoQuery(req *structpb.Struct) (models.DipoleQuery, error) {
	if req == nil {
		return models.DipoleQuery{}, errors.New("request is nil")
	}
	fields := req.GetFields()

	pos, err := vector(fields, "position")
	if err != nil {
		return models.DipoleQuery{}, err
	}
	ori, err := vector(fields, "orientation")
	if err != nil {
		return models.DipoleQuery{}, err
	}
	amp, ok := fields["amplitude"]
	if !ok {
		return models.DipoleQuery{}, errors.New("amplitude is required")
	}
	if _, isNum := amp.GetKind().(*structpb.Value_NumberValue); !isNum {
		return models.DipoleQuery{}, errors.New("amplitude must be a number")
	}

	frame := transform.AnatomicalRAS
	if v, ok := fields["frame"]; ok && v.GetStringValue() != "" {
		frame = transform.Frame(v.GetStringValue())
	}

	return models.DipoleQuery{
		Position:    transform.Point3{X: pos[0], Y: pos[1], Z: pos[2]},
		Orientation: transform.Direction3{X: ori[0], Y: ori[1], Z: ori[2]},
		Amplitude:   amp.GetNumberValue(),
		SourceFrame: frame,
		Exact:       fields["exact"].GetBoolValue(),
	}, nil
}

func vector(fields map[string]*structpb.Value, name string) ([3]float64, error) {
	var out [3]float64
	v, ok := fields[name]
	if !ok || v.GetStructValue() == nil {
		return out, fmt.Errorf("%s must be an object with x, y and z", name)
	}
	inner := v.GetStructValue().GetFields()
	for i, axis := range []string{"x", "y", "z"} {
		c, ok := inner[axis]
		if !ok {
			return out, fmt.Errorf("%s.%s is required", name, axis)
		}
		if _, isNum := c.GetKind().(*structpb.Value_NumberValue); !isNum {
			return out, fmt.Errorf("%s.%s must be a number", name, axis)
		}
		out[i] = c.GetNumberValue()
	}
	return out, nil
}

// ToProtoResult converts a pipeline result into the Simulate response.
func ToProtoResult(requestID string, res engine.Result) (*structpb.Struct, error) {
	signals := make(map[string]any, 3)
	for _, t := range res.Signal.Types() {
		signals[string(t)] = map[string]any{
			"unit":   t.Unit(),
			"values": floats(res.Signal.ByType[t]),
		}
	}
	channels := make([]any, 0, len(res.Signal.Channels))
	for _, ch := range res.Signal.Channels {
		channels = append(channels, map[string]any{"name": ch.Name, "type": string(ch.Type)})
	}

	out := map[string]any{
		"request_id": requestID,
		"exact":      res.Exact,
		"requested":  point(res.Requested, res.RequestedLabel()),
		"resolved":   point(res.Resolved, res.ResolvedLabel()),
		"data":       floats(res.Signal.Data),
		"signals":    signals,
		"channels":   channels,
	}
	if !res.Exact {
		out["key"] = res.Key.String()
	}
	display, err := displayLabels(res)
	if err != nil {
		return nil, err
	}
	out["display"] = display
	return structpb.NewStruct(out)
}

// displayLabels renders cursor labels for the slice and topomap views. Slice
// labels are only available when the query came in RAS millimeters.
func displayLabels(res engine.Result) (map[string]any, error) {
	display := map[string]any{
		"topomap": transform.FormatTopomap(res.Requested.X, res.Requested.Y),
	}
	if res.Anatomical == nil {
		return display, nil
	}
	coord := map[string]float64{"x": res.Anatomical.X, "y": res.Anatomical.Y, "z": res.Anatomical.Z}
	slices := make(map[string]any, 3)
	for _, axis := range []string{"x", "y", "z"} {
		first, second, err := transform.SliceAxes(axis)
		if err != nil {
			return nil, err
		}
		label, err := transform.FormatSlice(axis, coord[first], coord[second])
		if err != nil {
			return nil, err
		}
		slices[axis] = label
	}
	display["slices"] = slices
	return display, nil
}

// ToProtoDescription reports the subject, solution grid, channel counts and,
// when configured, the RAS to head transform served by the engine.
func ToProtoDescription(g grid.SpatialGrid, layout sensors.Layout, rasToHead *transform.Affine) (*structpb.Struct, error) {
	counts := make(map[string]any, 3)
	for kind, n := range layout.CountByType() {
		counts[string(kind)] = n
	}
	out := map[string]any{
		"subject": layout.Subject,
		"grid": map[string]any{
			"x":      floats(g.X),
			"y":      floats(g.Y),
			"z":      floats(g.Z),
			"points": g.Len(),
		},
		"channels": counts,
	}
	if rasToHead != nil {
		rows := rasToHead.Rows()
		matrix := make([]any, len(rows))
		for i := range rows {
			matrix[i] = floats(rows[i][:])
		}
		out["ras_to_head"] = map[string]any{
			"from": string(rasToHead.From),
			"to":   string(rasToHead.To),
			"rows": matrix,
		}
	}
	return structpb.NewStruct(out)
}

func point(p transform.Point3, label string) map[string]any {
	return map[string]any{"x": p.X, "y": p.Y, "z": p.Z, "label": label}
}

func floats(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
