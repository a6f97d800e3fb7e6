package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrClosed is returned by Capture after Close.
var ErrClosed = errors.New("camera: closed")

// Camera wraps an OpenCV VideoCapture device.
type Camera struct {
	mu     sync.Mutex
	config Config
	dev    *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

// Open opens the device and applies cfg.
func Open(cfg Config) (*Camera, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera config: %v", errs)
	}
	dev, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.Device, err)
	}
	c := &Camera{config: cfg, dev: dev, mat: gocv.NewMat()}
	c.apply(cfg)
	return c, nil
}

// apply pushes cfg to the driver. Drivers silently ignore unsupported
// properties.
func (c *Camera) apply(cfg Config) {
	c.dev.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	c.dev.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	c.dev.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	if cfg.Brightness != 0 {
		// V4L2 brightness is normalised to [0,1].
		c.dev.Set(gocv.VideoCaptureBrightness, (cfg.Brightness+1)/2)
	}
}

// Config returns the current configuration.
func (c *Camera) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// SetConfig validates cfg and applies it to the open device. The device
// index cannot change.
func (c *Camera) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if cfg.Device != c.config.Device {
		return fmt.Errorf("camera: cannot switch device %d to %d", c.config.Device, cfg.Device)
	}
	c.apply(cfg)
	c.config = cfg
	return nil
}

// Capture implements frame.Source.
func (c *Camera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if ok := c.dev.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, fmt.Errorf("camera %d: no frame", c.config.Device)
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("camera %d: convert frame: %w", c.config.Device, err)
	}
	return img, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.dev.Close()
}
