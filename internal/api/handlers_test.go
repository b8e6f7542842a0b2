package api

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dipolesim/dipole-engine/internal/engine"
	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/sensors"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestFromProtoQuery(t *testing.T) {
	req := mustStruct(t, map[string]any{
		"position":    map[string]any{"x": 10.0, "y": -5.0, "z": 42.5},
		"orientation": map[string]any{"x": 0.0, "y": 1.0, "z": 0.0},
		"amplitude":   50e-9,
		"exact":       true,
	})

	q, err := FromProtoQuery(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if q.SourceFrame != transform.AnatomicalRAS {
		t.Fatalf("expected anatomical frame by default, got %s", q.SourceFrame)
	}
	if q.Position != (transform.Point3{X: 10, Y: -5, Z: 42.5}) || q.Orientation.Y != 1 {
		t.Fatalf("unexpected vectors: %+v", q)
	}
	if q.Amplitude != 50e-9 || !q.Exact {
		t.Fatalf("unexpected scalars: %+v", q)
	}
}

func TestFromProtoQueryErrors(t *testing.T) {
	full := func() map[string]any {
		return map[string]any{
			"position":    map[string]any{"x": 1.0, "y": 2.0, "z": 3.0},
			"orientation": map[string]any{"x": 1.0, "y": 0.0, "z": 0.0},
			"amplitude":   1.0,
		}
	}
	cases := map[string]func(m map[string]any){
		"missing position":  func(m map[string]any) { delete(m, "position") },
		"missing axis":      func(m map[string]any) { m["orientation"] = map[string]any{"x": 1.0, "y": 0.0} },
		"string coordinate": func(m map[string]any) { m["position"] = map[string]any{"x": "1", "y": 0.0, "z": 0.0} },
		"missing amplitude": func(m map[string]any) { delete(m, "amplitude") },
		"string amplitude":  func(m map[string]any) { m["amplitude"] = "big" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := full()
			mutate(m)
			if _, err := FromProtoQuery(mustStruct(t, m)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := FromProtoQuery(nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestToProtoResult(t *testing.T) {
	res := engine.Result{
		Signal: models.EvokedSignal{
			Channels: []models.Channel{{Name: "MEG 0111", Type: models.ChannelGrad}, {Name: "EEG 001", Type: models.ChannelEEG}},
			Data:     []float64{1e-12, 2e-6},
			ByType: map[models.ChannelType][]float64{
				models.ChannelGrad: {1e-12},
				models.ChannelEEG:  {2e-6},
			},
		},
		Requested:  transform.Point3{X: 0.059},
		Resolved:   transform.Point3{X: 0.06},
		Anatomical: &transform.Point3{X: 49, Y: -12.5, Z: 30},
		Key:        grid.Key{X: 0.06},
	}

	out, err := ToProtoResult("req-1", res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := out.GetFields()
	if fields["request_id"].GetStringValue() != "req-1" || fields["key"].GetStringValue() != "0.060-0.000-0.000" {
		t.Fatalf("unexpected identifiers: %v", out)
	}
	if got := fields["resolved"].GetStructValue().GetFields()["label"].GetStringValue(); got != "x=0.060, y=0.000, z=0.000 [m, head]" {
		t.Fatalf("unexpected resolved label %q", got)
	}
	eeg := fields["signals"].GetStructValue().GetFields()["eeg"].GetStructValue().GetFields()
	if eeg["unit"].GetStringValue() != "µV" || eeg["values"].GetListValue().GetValues()[0].GetNumberValue() != 2e-6 {
		t.Fatalf("unexpected eeg signal: %v", eeg)
	}
	if _, ok := fields["signals"].GetStructValue().GetFields()["mag"]; ok {
		t.Fatalf("absent channel types must not be reported")
	}
	display := fields["display"].GetStructValue().GetFields()
	if got := display["topomap"].GetStringValue(); got != "x=59 mm, y=0 mm" {
		t.Fatalf("unexpected topomap label %q", got)
	}
	slices := display["slices"].GetStructValue().GetFields()
	for axis, want := range map[string]string{
		"x": "y=-12.5 mm, z=30.0 mm",
		"y": "x=49.0 mm, z=30.0 mm",
		"z": "x=49.0 mm, y=-12.5 mm",
	} {
		if got := slices[axis].GetStringValue(); got != want {
			t.Fatalf("slice %s: got %q, want %q", axis, got, want)
		}
	}

	res.Exact = true
	res.Anatomical = nil
	out, err = ToProtoResult("req-2", res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.GetFields()["key"]; ok {
		t.Fatalf("exact results carry no grid key")
	}
	if _, ok := out.GetFields()["display"].GetStructValue().GetFields()["slices"]; ok {
		t.Fatalf("head-frame queries carry no slice labels")
	}
}

func TestToProtoDescription(t *testing.T) {
	g := grid.SpatialGrid{X: []float64{0, 1}, Y: []float64{0}, Z: []float64{0, 1, 2}}
	layout := sensors.Layout{
		Subject:  "sample",
		Channels: []models.Channel{{Name: "a", Type: models.ChannelMag}, {Name: "b", Type: models.ChannelMag}, {Name: "c", Type: models.ChannelEEG}},
	}
	rasToHead := transform.Translation(transform.AnatomicalRAS, transform.SensorHead, 1, 2, 3)

	out, err := ToProtoDescription(g, layout, &rasToHead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := out.GetFields()
	if fields["subject"].GetStringValue() != "sample" {
		t.Fatalf("unexpected subject: %v", fields["subject"])
	}
	if fields["grid"].GetStructValue().GetFields()["points"].GetNumberValue() != 6 {
		t.Fatalf("unexpected grid size: %v", fields["grid"])
	}
	counts := fields["channels"].GetStructValue().GetFields()
	if counts["mag"].GetNumberValue() != 2 || counts["eeg"].GetNumberValue() != 1 {
		t.Fatalf("unexpected channel counts: %v", fields["channels"])
	}
	affine := fields["ras_to_head"].GetStructValue().GetFields()
	if affine["from"].GetStringValue() != string(transform.AnatomicalRAS) || affine["to"].GetStringValue() != string(transform.SensorHead) {
		t.Fatalf("unexpected transform frames: %v", affine)
	}
	rows := affine["rows"].GetListValue().GetValues()
	if len(rows) != 4 || rows[1].GetListValue().GetValues()[3].GetNumberValue() != 2 {
		t.Fatalf("unexpected transform rows: %v", affine["rows"])
	}

	out, err = ToProtoDescription(g, layout, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.GetFields()["ras_to_head"]; ok {
		t.Fatalf("transform must be omitted when not configured")
	}
}
