// Package theme loads the chart color scheme from a YAML file, falling
// back to built-in defaults when no file is configured.
package theme

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Theme names every color the render pipeline uses. Values are terminal
// color strings understood by lipgloss (hex or ANSI index).
type Theme struct {
	Background string `yaml:"background"`
	Grid       string `yaml:"grid"`
	Axis       string `yaml:"axis"`
	Bull       string `yaml:"bull"`
	Bear       string `yaml:"bear"`
	Wick       string `yaml:"wick"`
	Line       string `yaml:"line"`
	Area       string `yaml:"area"`
	Volume     string `yaml:"volume"`
	Crosshair  string `yaml:"crosshair"`
	Label      string `yaml:"label"`
	Marker     string `yaml:"marker"`
	Drawing    string `yaml:"drawing"`
}

// Default is the scheme used when no theme file is configured.
func Default() Theme {
	return Theme{
		Background: "#101014",
		Grid:       "#2a2a31",
		Axis:       "#555555",
		Bull:       "#26a641",
		Bear:       "#e05c5c",
		Wick:       "#888888",
		Line:       "#58a6ff",
		Area:       "#1f4a73",
		Volume:     "#3b5263",
		Crosshair:  "#aaaaaa",
		Label:      "#cccccc",
		Marker:     "#e3b341",
		Drawing:    "#d2a8ff",
	}
}

// Load reads a theme file; fields left empty in the file keep their
// default value. An empty path returns the defaults.
func Load(path string) (Theme, error) {
	th := Default()
	if path == "" {
		return th, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("read theme: %w", err)
	}
	var file Theme
	if err := yaml.Unmarshal(data, &file); err != nil {
		return th, fmt.Errorf("parse theme: %w", err)
	}
	merge(&th, file)
	return th, nil
}

func merge(dst *Theme, src Theme) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Background, src.Background)
	set(&dst.Grid, src.Grid)
	set(&dst.Axis, src.Axis)
	set(&dst.Bull, src.Bull)
	set(&dst.Bear, src.Bear)
	set(&dst.Wick, src.Wick)
	set(&dst.Line, src.Line)
	set(&dst.Area, src.Area)
	set(&dst.Volume, src.Volume)
	set(&dst.Crosshair, src.Crosshair)
	set(&dst.Label, src.Label)
	set(&dst.Marker, src.Marker)
	set(&dst.Drawing, src.Drawing)
}
