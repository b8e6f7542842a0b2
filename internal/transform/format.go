package transform

import (
	"fmt"
	"math"
)

// FormatPoint renders a head-frame location for logs and responses.
func FormatPoint(p Point3) string {
	return fmt.Sprintf("x=%.3f, y=%.3f, z=%.3f [m, head]", p.X, p.Y, p.Z)
}

// FormatSlice renders the in-plane coordinates of an anatomical slice viewed
// along axis ("x", "y" or "z"). Values are millimeters.
func FormatSlice(axis string, a, b float64) (string, error) {
	first, second, err := SliceAxes(axis)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s=%.1f mm, %s=%.1f mm", first, a, second, b), nil
}

// SliceAxes returns the two in-plane axis names for a slice normal to axis.
func SliceAxes(axis string) (string, string, error) {
	switch axis {
	case "x":
		return "y", "z", nil
	case "y":
		return "x", "z", nil
	case "z":
		return "x", "y", nil
	default:
		return "", "", fmt.Errorf("unknown slice axis %q", axis)
	}
}

// FormatTopomap renders sensor-plane coordinates given in meters as whole millimeters.
func FormatTopomap(x, y float64) string {
	return fmt.Sprintf("x=%d mm, y=%d mm", int(math.Round(x*MillimetersPerMeter)), int(math.Round(y*MillimetersPerMeter)))
}
