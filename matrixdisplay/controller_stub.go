//go:build !linux || !rgbmatrix

package matrixdisplay

import (
	"errors"
	"image"
)

// ErrUnsupported is returned by every Controller method in builds without
// the rgbmatrix tag.
var ErrUnsupported = errors.New("matrixdisplay: RGB LED matrix support not built in (linux, -tags rgbmatrix)")

// Controller is unavailable without the rgbmatrix build tag.
type Controller struct{}

func NewController(int) (*Controller, error) { return nil, ErrUnsupported }

func (c *Controller) Show(image.Image) error { return ErrUnsupported }

func (c *Controller) Clear() error { return ErrUnsupported }

func (c *Controller) Close() error { return ErrUnsupported }
