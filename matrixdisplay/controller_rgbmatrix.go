//go:build linux && rgbmatrix

package matrixdisplay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	rgbmatrix "github.com/mcuadros/go-rpi-rgb-led-matrix"
)

// Controller drives a 64x64 HUB75 RGB LED matrix used as a meme frame.
type Controller struct {
	matrix rgbmatrix.Matrix
	canvas *rgbmatrix.Canvas
}

// NewController initializes the LED matrix at the given brightness (1-100)
// and clears it. Call Close when finished to release the GPIO.
func NewController(brightness int) (*Controller, error) {
	if brightness < 1 || brightness > 100 {
		return nil, fmt.Errorf("matrixdisplay: brightness must be between 1 and 100, got %d", brightness)
	}

	config := rgbmatrix.DefaultConfig
	config.Rows = PanelHeight
	config.Cols = PanelWidth
	config.ChainLength = 1
	config.Parallel = 1
	config.Brightness = brightness
	// GPIO mapping of the Adafruit RGB Matrix Bonnet.
	config.HardwareMapping = "adafruit-hat-pwm"

	matrix, err := rgbmatrix.NewRGBLedMatrix(&config)
	if err != nil {
		return nil, fmt.Errorf("matrixdisplay: create matrix: %w", err)
	}

	ctrl := &Controller{
		matrix: matrix,
		canvas: rgbmatrix.NewCanvas(matrix),
	}

	if err := ctrl.Clear(); err != nil {
		_ = ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

// Show puts img on the panel, fitting it first if it is not already 64x64.
func (c *Controller) Show(img image.Image) error {
	if img == nil {
		return fmt.Errorf("matrixdisplay: nil image")
	}
	bounds := img.Bounds()
	if bounds.Dx() != PanelWidth || bounds.Dy() != PanelHeight {
		img = Fit(img)
		bounds = img.Bounds()
	}

	draw.Draw(c.canvas, c.canvas.Bounds(), img, bounds.Min, draw.Src)
	if err := c.canvas.Render(); err != nil {
		return fmt.Errorf("matrixdisplay: render image: %w", err)
	}
	return nil
}

// Clear turns off all pixels.
func (c *Controller) Clear() error {
	draw.Draw(c.canvas, c.canvas.Bounds(), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	if err := c.canvas.Render(); err != nil {
		return fmt.Errorf("matrixdisplay: clear display: %w", err)
	}
	return nil
}

// Close releases the matrix.
func (c *Controller) Close() error {
	return c.canvas.Close()
}
