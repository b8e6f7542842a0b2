package transform

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// MillimetersPerMeter converts anatomical (mm) coordinates into head-frame meters.
const MillimetersPerMeter = 1000.0

// MillimetersToMeters scales a point expressed in millimeters into meters.
func MillimetersToMeters(p Point3) Point3 {
	return Point3{X: p.X / MillimetersPerMeter, Y: p.Y / MillimetersPerMeter, Z: p.Z / MillimetersPerMeter}
}

// RoundPoint rounds each coordinate to the given number of decimals.
func RoundPoint(p Point3, decimals int) Point3 {
	return Point3{X: Round(p.X, decimals), Y: Round(p.Y, decimals), Z: Round(p.Z, decimals)}
}

// Round rounds to the given number of decimals, resolving halves to even so
// keys match grids produced by numpy-based generators. Negative zero is
// folded into zero so keys never render as "-0.000".
func Round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	r := math.RoundToEven(v*scale) / scale
	if r == 0 {
		return 0
	}
	return r
}

// RASToHead combines the image-header affines with the head<->MRI registration
// into a single anatomical_ras -> sensor_head transform:
//
//	ras -> voxel (inverse of vox2ras), voxel -> mri (vox2ras_tkr), mri -> head (inverse of head_to_mri).
//
// The result operates in millimeters; callers convert to meters afterwards.
func RASToHead(vox2ras, vox2tkr, headToMRI Affine) (Affine, error) {
	if vox2ras.From != ScannerVoxel || vox2ras.To != AnatomicalRAS {
		return Affine{}, fmt.Errorf("vox2ras must map %s->%s, got %s->%s", ScannerVoxel, AnatomicalRAS, vox2ras.From, vox2ras.To)
	}
	if vox2tkr.From != ScannerVoxel || vox2tkr.To != AnatomicalMRI {
		return Affine{}, fmt.Errorf("vox2ras_tkr must map %s->%s, got %s->%s", ScannerVoxel, AnatomicalMRI, vox2tkr.From, vox2tkr.To)
	}
	if headToMRI.From != SensorHead || headToMRI.To != AnatomicalMRI {
		return Affine{}, fmt.Errorf("head_to_mri must map %s->%s, got %s->%s", SensorHead, AnatomicalMRI, headToMRI.From, headToMRI.To)
	}

	rasToVox, err := Invert(vox2ras)
	if err != nil {
		return Affine{}, err
	}
	mriToHead, err := Invert(headToMRI)
	if err != nil {
		return Affine{}, err
	}
	return BuildChain(rasToVox, vox2tkr, mriToHead)
}

// Inputs holds the affines supplied by the image-metadata and registration collaborators.
type Inputs struct {
	Vox2RAS   Affine
	Vox2TKR   Affine
	HeadToMRI Affine
}

type inputsFile struct {
	Vox2RAS   [][]float64 `yaml:"vox2ras"`
	Vox2TKR   [][]float64 `yaml:"vox2ras_tkr"`
	HeadToMRI [][]float64 `yaml:"head_to_mri"`
}

// LoadInputs reads the collaborator affines from a YAML file.
func LoadInputs(path string) (Inputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Inputs{}, fmt.Errorf("transform inputs %s not found: %w", path, err)
		}
		return Inputs{}, fmt.Errorf("read transform inputs: %w", err)
	}
	var raw inputsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Inputs{}, fmt.Errorf("parse transform inputs: %w", err)
	}

	var in Inputs
	if in.Vox2RAS, err = affineFromRows(ScannerVoxel, AnatomicalRAS, "vox2ras", raw.Vox2RAS); err != nil {
		return Inputs{}, err
	}
	if in.Vox2TKR, err = affineFromRows(ScannerVoxel, AnatomicalMRI, "vox2ras_tkr", raw.Vox2TKR); err != nil {
		return Inputs{}, err
	}
	if in.HeadToMRI, err = affineFromRows(SensorHead, AnatomicalMRI, "head_to_mri", raw.HeadToMRI); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

// RASToHead builds the combined transform from the loaded inputs.
func (in Inputs) RASToHead() (Affine, error) {
	return RASToHead(in.Vox2RAS, in.Vox2TKR, in.HeadToMRI)
}

func affineFromRows(from, to Frame, name string, rows [][]float64) (Affine, error) {
	if len(rows) != 4 {
		return Affine{}, fmt.Errorf("%s: expected 4 rows, got %d", name, len(rows))
	}
	var fixed [4][4]float64
	for i, row := range rows {
		if len(row) != 4 {
			return Affine{}, fmt.Errorf("%s: row %d has %d columns, expected 4", name, i, len(row))
		}
		copy(fixed[i][:], row)
	}
	a, err := NewAffine(from, to, fixed)
	if err != nil {
		return Affine{}, fmt.Errorf("%s: %w", name, err)
	}
	return a, nil
}
