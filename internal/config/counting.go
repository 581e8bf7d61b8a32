// Package config loads the per-run counting configuration. Fields omitted
// from the JSON file keep their defaults, so partial configs are safe; the
// Get* accessors are the single source of default values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crosswatch-data/crossing.report/internal/counter"
	"github.com/crosswatch-data/crossing.report/internal/geom"
)

// CountingConfig is the root configuration for a counting run. Line endpoints
// are fractions of the frame dimensions (0..1) and are scaled once at startup,
// so the same config works across video resolutions.
type CountingConfig struct {
	LineX1 *float64 `json:"line_x1,omitempty"`
	LineY1 *float64 `json:"line_y1,omitempty"`
	LineX2 *float64 `json:"line_x2,omitempty"`
	LineY2 *float64 `json:"line_y2,omitempty"`

	// Polarity is "neg_to_pos_enters" or "pos_to_neg_enters".
	Polarity *string `json:"polarity,omitempty"`

	HistoryDepth     *int   `json:"history_depth,omitempty"`
	StaleAfterFrames *int64 `json:"stale_after_frames,omitempty"`

	FrameWidth  *int `json:"frame_width,omitempty"`
	FrameHeight *int `json:"frame_height,omitempty"`
}

// Load reads a CountingConfig from a JSON file. The file must have a .json
// extension and stay under a 1MB safety cap.
func Load(path string) (*CountingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &CountingConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *CountingConfig) Validate() error {
	for name, v := range map[string]*float64{
		"line_x1": c.LineX1, "line_y1": c.LineY1,
		"line_x2": c.LineX2, "line_y2": c.LineY2,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be a fraction between 0 and 1, got %f", name, *v)
		}
	}

	if c.Polarity != nil {
		switch counter.Polarity(*c.Polarity) {
		case counter.NegativeToPositiveEnters, counter.PositiveToNegativeEnters:
		default:
			return fmt.Errorf("unknown polarity %q", *c.Polarity)
		}
	}

	if c.HistoryDepth != nil && *c.HistoryDepth < 2 {
		return fmt.Errorf("history_depth must be at least 2, got %d", *c.HistoryDepth)
	}
	if c.StaleAfterFrames != nil && *c.StaleAfterFrames < 1 {
		return fmt.Errorf("stale_after_frames must be positive, got %d", *c.StaleAfterFrames)
	}
	if c.FrameWidth != nil && *c.FrameWidth < 1 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight < 1 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	return nil
}

// GetLineFractions returns the relative line endpoints or the default
// horizontal line at 60% of frame height.
func (c *CountingConfig) GetLineFractions() (x1, y1, x2, y2 float64) {
	x1, y1, x2, y2 = 0.1, 0.6, 0.9, 0.6
	if c.LineX1 != nil {
		x1 = *c.LineX1
	}
	if c.LineY1 != nil {
		y1 = *c.LineY1
	}
	if c.LineX2 != nil {
		x2 = *c.LineX2
	}
	if c.LineY2 != nil {
		y2 = *c.LineY2
	}
	return x1, y1, x2, y2
}

// GetPolarity returns the configured polarity or the default.
func (c *CountingConfig) GetPolarity() counter.Polarity {
	if c.Polarity == nil {
		return counter.NegativeToPositiveEnters
	}
	return counter.Polarity(*c.Polarity)
}

// GetHistoryDepth returns the history retention depth or the default.
func (c *CountingConfig) GetHistoryDepth() int {
	if c.HistoryDepth == nil {
		return counter.DefaultHistoryDepth
	}
	return *c.HistoryDepth
}

// GetStaleAfterFrames returns the staleness threshold or the default.
func (c *CountingConfig) GetStaleAfterFrames() int64 {
	if c.StaleAfterFrames == nil {
		return counter.DefaultStaleAfterFrames
	}
	return *c.StaleAfterFrames
}

// GetFrameWidth returns the frame width or the default 1920.
func (c *CountingConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 1920
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame height or the default 1080.
func (c *CountingConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 1080
	}
	return *c.FrameHeight
}

// EngineConfig scales the relative line to the configured frame dimensions
// and assembles the engine configuration.
func (c *CountingConfig) EngineConfig() counter.Config {
	w := float64(c.GetFrameWidth())
	h := float64(c.GetFrameHeight())
	x1, y1, x2, y2 := c.GetLineFractions()

	return counter.Config{
		Line: geom.Line{
			Start: geom.Point{X: x1 * w, Y: y1 * h},
			End:   geom.Point{X: x2 * w, Y: y2 * h},
		},
		Polarity:         c.GetPolarity(),
		HistoryDepth:     c.GetHistoryDepth(),
		StaleAfterFrames: c.GetStaleAfterFrames(),
	}
}
