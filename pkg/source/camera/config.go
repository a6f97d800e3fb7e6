// Package camera captures frames from a local video device through OpenCV.
package camera

// Config holds the capture settings applied to the device.
type Config struct {
	Device    int `json:"device" yaml:"device"`       // V4L2 index
	Width     int `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int `json:"framerate" yaml:"framerate"` // Requested FPS

	// Brightness adjustment (-1.0 to +1.0). 0 leaves the driver default.
	Brightness float64 `json:"brightness" yaml:"brightness"`
}

// Capture limits accepted by Validate.
const (
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns 720p at 30 FPS, which letterboxes cleanly to the
// default model input.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Width:     1280,
		Height:    720,
		Framerate: 30,
	}
}

// LegacyConfig returns 640x480 for older USB cameras.
func LegacyConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

// Validate checks the values are within range.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device < 0 {
		errors = append(errors, "device must be >= 0")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Brightness < -1.0 || c.Brightness > 1.0 {
		errors = append(errors, "brightness must be between -1.0 and 1.0")
	}

	return errors
}
