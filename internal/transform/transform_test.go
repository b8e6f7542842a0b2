package transform

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relDelta(v float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(v))
}

func assertPointNear(t *testing.T, want, got Point3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, relDelta(want.X))
	assert.InDelta(t, want.Y, got.Y, relDelta(want.Y))
	assert.InDelta(t, want.Z, got.Z, relDelta(want.Z))
}

func rotationZ(t *testing.T, from, to Frame, theta, dx, dy, dz float64) Affine {
	t.Helper()
	c, s := math.Cos(theta), math.Sin(theta)
	a, err := NewAffine(from, to, [4][4]float64{
		{c, -s, 0, dx},
		{s, c, 0, dy},
		{0, 0, 1, dz},
		{0, 0, 0, 1},
	})
	require.NoError(t, err)
	return a
}

func scaled(t *testing.T, from, to Frame, sx, sy, sz, dx, dy, dz float64) Affine {
	t.Helper()
	a, err := NewAffine(from, to, [4][4]float64{
		{sx, 0.1, 0, dx},
		{0, sy, 0.2, dy},
		{0.05, 0, sz, dz},
		{0, 0, 0, 1},
	})
	require.NoError(t, err)
	return a
}

func TestInvertRoundTrip(t *testing.T) {
	tr := scaled(t, ScannerVoxel, AnatomicalRAS, 0.9, 1.1, 1.3, -128, 127.5, 64)
	inv, err := Invert(tr)
	require.NoError(t, err)
	assert.Equal(t, AnatomicalRAS, inv.From)
	assert.Equal(t, ScannerVoxel, inv.To)

	points := []Point3{{0, 0, 0}, {12.5, -3.25, 88}, {-1e3, 1e3, 0.001}, {256, 256, 256}}
	for _, p := range points {
		assertPointNear(t, p, ApplyPoint(inv, ApplyPoint(tr, p)))
	}
}

func TestInvertSingular(t *testing.T) {
	tr, err := NewAffine(ScannerVoxel, AnatomicalRAS, [4][4]float64{
		{1, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	})
	require.NoError(t, err)
	_, err = Invert(tr)
	require.Error(t, err)
}

func TestComposeAssociative(t *testing.T) {
	a := rotationZ(t, AnatomicalRAS, ScannerVoxel, 0.3, 1, 2, 3)
	b := scaled(t, ScannerVoxel, AnatomicalMRI, 1.2, 0.8, 1.0, -5, 4, 2)
	c := rotationZ(t, AnatomicalMRI, SensorHead, -1.1, 0.5, -7, 10)

	direct, err := BuildChain(a, b, c)
	require.NoError(t, err)

	ab, err := Compose(a, b)
	require.NoError(t, err)
	left, err := Compose(ab, c)
	require.NoError(t, err)

	bc, err := Compose(b, c)
	require.NoError(t, err)
	right, err := Compose(a, bc)
	require.NoError(t, err)

	assert.Equal(t, AnatomicalRAS, direct.From)
	assert.Equal(t, SensorHead, direct.To)

	d, l, r := direct.Rows(), left.Rows(), right.Rows()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			assert.InDelta(t, d[i][j], l[i][j], relDelta(d[i][j]))
			assert.InDelta(t, d[i][j], r[i][j], relDelta(d[i][j]))
		}
	}

	p := Point3{X: 10, Y: -20, Z: 30}
	stepwise := ApplyPoint(c, ApplyPoint(b, ApplyPoint(a, p)))
	assertPointNear(t, stepwise, ApplyPoint(direct, p))
}

func TestComposeRejectsBrokenChain(t *testing.T) {
	a := Identity(AnatomicalRAS)
	b := Translation(AnatomicalMRI, SensorHead, 1, 2, 3)

	_, err := Compose(a, b)
	var chainErr *ChainError
	require.True(t, errors.As(err, &chainErr), "expected ChainError, got %v", err)
	assert.Equal(t, AnatomicalRAS, chainErr.Left.To)
	assert.Equal(t, AnatomicalMRI, chainErr.Right.From)

	_, err = BuildChain()
	require.True(t, errors.As(err, &chainErr))
}

func TestDirectionIgnoresTranslation(t *testing.T) {
	shift := Translation(AnatomicalRAS, AnatomicalMRI, 5, -6, 7)

	p := ApplyPoint(shift, Point3{X: 1, Y: 2, Z: 3})
	assert.Equal(t, Point3{X: 6, Y: -4, Z: 10}, p)

	d := ApplyDirection(shift, Direction3{X: 1, Y: 2, Z: 3})
	assert.Equal(t, Direction3{X: 1, Y: 2, Z: 3}, d)
}

func TestNewAffineValidatesBottomRow(t *testing.T) {
	_, err := NewAffine(ScannerVoxel, AnatomicalRAS, [4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 1, 1},
	})
	require.Error(t, err)

	_, err = NewAffine("", AnatomicalRAS, [4][4]float64{{1}, {0, 1}, {0, 0, 1}, {0, 0, 0, 1}})
	require.Error(t, err)
}

func TestRASToHead(t *testing.T) {
	vox2ras := scaled(t, ScannerVoxel, AnatomicalRAS, 1, 1, 1, -128, -128, -128)
	vox2tkr, err := NewAffine(ScannerVoxel, AnatomicalMRI, [4][4]float64{
		{-1, 0, 0, 128},
		{0, 0, 1, -128},
		{0, -1, 0, 128},
		{0, 0, 0, 1},
	})
	require.NoError(t, err)
	headToMRI := rotationZ(t, SensorHead, AnatomicalMRI, 0.2, 2, -3, 40)

	rasToHead, err := RASToHead(vox2ras, vox2tkr, headToMRI)
	require.NoError(t, err)
	assert.Equal(t, AnatomicalRAS, rasToHead.From)
	assert.Equal(t, SensorHead, rasToHead.To)

	rasToVox, err := Invert(vox2ras)
	require.NoError(t, err)
	mriToHead, err := Invert(headToMRI)
	require.NoError(t, err)

	p := Point3{X: 15, Y: -22, Z: 31}
	want := ApplyPoint(mriToHead, ApplyPoint(vox2tkr, ApplyPoint(rasToVox, p)))
	assertPointNear(t, want, ApplyPoint(rasToHead, p))

	_, err = RASToHead(vox2tkr, vox2ras, headToMRI)
	require.Error(t, err)
}

func TestMillimetersToMeters(t *testing.T) {
	got := MillimetersToMeters(Point3{X: 59, Y: -1000, Z: 0.5})
	assert.InDelta(t, 0.059, got.X, 1e-15)
	assert.InDelta(t, -1.0, got.Y, 1e-15)
	assert.InDelta(t, 0.0005, got.Z, 1e-15)
}

func TestRoundHalfEven(t *testing.T) {
	assert.Equal(t, 2.0, Round(2.5, 0))
	assert.Equal(t, 4.0, Round(3.5, 0))
	assert.Equal(t, 0.059, Round(0.05912, 3))
	assert.Equal(t, -0.03, Round(-0.0300001, 3))
}

func TestLoadInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trans.yaml")
	doc := `vox2ras:
  - [-1, 0, 0, 128]
  - [0, 0, 1, -128]
  - [0, -1, 0, 128]
  - [0, 0, 0, 1]
vox2ras_tkr:
  - [-1, 0, 0, 128]
  - [0, 0, 1, -128]
  - [0, -1, 0, 128]
  - [0, 0, 0, 1]
head_to_mri:
  - [1, 0, 0, 0]
  - [0, 1, 0, 0]
  - [0, 0, 1, 40]
  - [0, 0, 0, 1]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	in, err := LoadInputs(path)
	require.NoError(t, err)
	rasToHead, err := in.RASToHead()
	require.NoError(t, err)

	// Identical vox2ras and tkr affines leave only the head<->MRI offset.
	got := ApplyPoint(rasToHead, Point3{X: 10, Y: 20, Z: 50})
	assertPointNear(t, Point3{X: 10, Y: 20, Z: 10}, got)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("vox2ras: [[1, 0, 0]]\n"), 0o644))
	_, err = LoadInputs(bad)
	require.Error(t, err)
}

func TestFormatters(t *testing.T) {
	s, err := FormatSlice("y", 12, -3.45)
	require.NoError(t, err)
	assert.Equal(t, "x=12.0 mm, z=-3.5 mm", s)

	_, err = FormatSlice("w", 0, 0)
	require.Error(t, err)

	assert.Equal(t, "x=59 mm, y=-12 mm", FormatTopomap(0.0591, -0.0118))
	assert.Equal(t, "x=0.060, y=0.000, z=-0.030 [m, head]", FormatPoint(Point3{X: 0.06, Y: 0, Z: -0.03}))
}
