// Package sensors loads the sensor array description: the channels whose
// order matches leadfield rows and the head digitization used to size the
// solution grid.
package sensors

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

// Layout is the sensor configuration for one subject and recording.
type Layout struct {
	Subject      string
	Channels     []models.Channel
	Digitization []transform.Point3
}

type layoutFile struct {
	Subject  string `yaml:"subject"`
	Channels []struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	} `yaml:"channels"`
	Digitization [][]float64 `yaml:"digitization"`
}

// Load reads a YAML sensor layout. Digitization points are in meters, head frame.
func Load(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read sensor layout: %w", err)
	}
	layout, err := Parse(data)
	if err != nil {
		return Layout{}, fmt.Errorf("sensor layout %s: %w", path, err)
	}
	return layout, nil
}

// Parse decodes a YAML sensor layout document.
func Parse(data []byte) (Layout, error) {
	var raw layoutFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Layout{}, fmt.Errorf("decode: %w", err)
	}

	layout := Layout{Subject: raw.Subject}
	seen := make(map[string]struct{}, len(raw.Channels))
	for i, ch := range raw.Channels {
		if ch.Name == "" {
			return Layout{}, fmt.Errorf("channel %d: missing name", i)
		}
		if _, dup := seen[ch.Name]; dup {
			return Layout{}, fmt.Errorf("channel %q listed twice", ch.Name)
		}
		seen[ch.Name] = struct{}{}
		kind := models.ChannelType(ch.Type)
		if !kind.Valid() {
			return Layout{}, fmt.Errorf("channel %q: unknown type %q", ch.Name, ch.Type)
		}
		layout.Channels = append(layout.Channels, models.Channel{Name: ch.Name, Type: kind})
	}

	for i, r := range raw.Digitization {
		if len(r) != 3 {
			return Layout{}, fmt.Errorf("digitization point %d: want 3 coordinates, got %d", i, len(r))
		}
		layout.Digitization = append(layout.Digitization, transform.Point3{X: r[0], Y: r[1], Z: r[2]})
	}
	return layout, nil
}

// Positions returns the points bounding the solution grid.
func (l Layout) Positions() ([]transform.Point3, error) {
	if len(l.Digitization) == 0 {
		return nil, errors.New("sensor layout has no digitization points")
	}
	out := make([]transform.Point3, len(l.Digitization))
	copy(out, l.Digitization)
	return out, nil
}

// CountByType tallies channels per type.
func (l Layout) CountByType() map[models.ChannelType]int {
	counts := make(map[models.ChannelType]int, 3)
	for _, ch := range l.Channels {
		counts[ch.Type]++
	}
	return counts
}
