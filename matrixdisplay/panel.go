package matrixdisplay

import (
	"image"
	imagedraw "image/draw"

	xdraw "golang.org/x/image/draw"
)

const (
	PanelWidth  = 64
	PanelHeight = 64

	DefaultBrightness = 60
)

// Fit center-crops img to a square and scales it to the panel resolution.
func Fit(img image.Image) *image.NRGBA {
	img = cropToSquare(img)
	dst := image.NewNRGBA(image.Rect(0, 0, PanelWidth, PanelHeight))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

func cropToSquare(img image.Image) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == height {
		return img
	}

	size := width
	if height < width {
		size = height
	}

	x0 := bounds.Min.X + (width-size)/2
	y0 := bounds.Min.Y + (height-size)/2
	cropRect := image.Rect(x0, y0, x0+size, y0+size)

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(cropRect)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(dst, dst.Bounds(), img, cropRect.Min, imagedraw.Src)
	return dst
}
