package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultSizeRatio   = 0.1
	DefaultMinSize     = 12.0
	DefaultMarginRatio = 0.04
	DefaultStrokeRatio = 0.05
)

// Style controls how captions are drawn. Zero numeric fields fall back to the
// package defaults and a nil Font uses the embedded Go bold face.
type Style struct {
	Font   *opentype.Font
	Fill   color.Color
	Stroke color.Color

	// SizeRatio is the starting font size as a fraction of the image height.
	SizeRatio float64
	// MinSize is the smallest size in points a caption is shrunk to when it
	// does not fit the image width.
	MinSize float64
	// MarginRatio is the padding between a caption and the image edge as a
	// fraction of the image height.
	MarginRatio float64
	// StrokeRatio is the outline width as a fraction of the font size.
	StrokeRatio float64
}

// DefaultStyle is the classic meme look: bold white letters with a black outline.
func DefaultStyle() Style {
	return Style{
		Fill:        color.White,
		Stroke:      color.Black,
		SizeRatio:   DefaultSizeRatio,
		MinSize:     DefaultMinSize,
		MarginRatio: DefaultMarginRatio,
		StrokeRatio: DefaultStrokeRatio,
	}
}

func (s Style) withDefaults() Style {
	if s.Fill == nil {
		s.Fill = color.White
	}
	if s.Stroke == nil {
		s.Stroke = color.Black
	}
	if s.SizeRatio == 0 {
		s.SizeRatio = DefaultSizeRatio
	}
	if s.MinSize == 0 {
		s.MinSize = DefaultMinSize
	}
	if s.MarginRatio == 0 {
		s.MarginRatio = DefaultMarginRatio
	}
	if s.StrokeRatio == 0 {
		s.StrokeRatio = DefaultStrokeRatio
	}
	return s
}

// Validate reports style values that cannot produce a legible caption.
func (s Style) Validate() error {
	s = s.withDefaults()
	switch {
	case s.SizeRatio < 0 || s.SizeRatio > 1:
		return fmt.Errorf("overlay: size ratio must be between 0 and 1, got %g", s.SizeRatio)
	case s.MinSize < 0:
		return fmt.Errorf("overlay: min size must be positive, got %g", s.MinSize)
	case s.MarginRatio < 0 || s.MarginRatio >= 0.5:
		return fmt.Errorf("overlay: margin ratio must be between 0 and 0.5, got %g", s.MarginRatio)
	case s.StrokeRatio < 0 || s.StrokeRatio > 0.5:
		return fmt.Errorf("overlay: stroke ratio must be between 0 and 0.5, got %g", s.StrokeRatio)
	}
	return nil
}

var (
	fontOnce sync.Once
	boldFont *opentype.Font
	fontErr  error
)

// loadFont parses the embedded Go bold font once using the opentype API.
func loadFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		parsed, err := opentype.Parse(gobold.TTF)
		if err != nil {
			fontErr = fmt.Errorf("overlay: parse embedded font: %w", err)
			return
		}
		boldFont = parsed
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return boldFont, nil
}

// ParseFont parses a TrueType or OpenType font for use in Style.Font.
func ParseFont(data []byte) (*opentype.Font, error) {
	if len(data) == 0 {
		return nil, errors.New("overlay: empty font data")
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("overlay: parse font: %w", err)
	}
	return parsed, nil
}

type placement int

const (
	placeTop placement = iota
	placeBottom
)

// Captions draws top and bottom captions onto a copy of src. The result has
// exactly the bounds of src; src itself is never written to. Empty captions
// are skipped, so Captions(src, "", "", style) is a plain copy.
func Captions(src image.Image, top, bottom string, style Style) (*image.RGBA, error) {
	if src == nil {
		return nil, errors.New("overlay: nil source image")
	}
	if err := style.Validate(); err != nil {
		return nil, err
	}
	style = style.withDefaults()

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("overlay: empty source image %v", bounds)
	}

	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	top = normalizeCaption(top)
	bottom = normalizeCaption(bottom)
	if top == "" && bottom == "" {
		return dst, nil
	}

	parsed := style.Font
	if parsed == nil {
		var err error
		parsed, err = loadFont()
		if err != nil {
			return nil, err
		}
	}

	if err := drawCaption(dst, parsed, top, placeTop, style); err != nil {
		return nil, err
	}
	if err := drawCaption(dst, parsed, bottom, placeBottom, style); err != nil {
		return nil, err
	}
	return dst, nil
}

func normalizeCaption(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func drawCaption(dst *image.RGBA, parsed *opentype.Font, text string, where placement, style Style) error {
	if text == "" {
		return nil
	}

	bounds := dst.Bounds()
	height := float64(bounds.Dy())
	margin := int(math.Round(height * style.MarginRatio))
	maxWidth := bounds.Dx() - 2*margin

	face, size, err := fitFace(parsed, text, math.Max(style.MinSize, math.Round(height*style.SizeRatio)), style.MinSize, maxWidth)
	if err != nil {
		return err
	}
	defer face.Close()

	textBounds, advance := font.BoundString(face, text)
	metrics := face.Metrics()

	x := bounds.Min.X + (bounds.Dx()-advance.Ceil())/2
	var baseline int
	switch where {
	case placeTop:
		baseline = bounds.Min.Y + margin + metrics.Ascent.Ceil()
	default:
		baseline = bounds.Max.Y - margin - metrics.Descent.Ceil()
	}

	stroke := int(math.Round(size * style.StrokeRatio))
	if stroke < 1 {
		stroke = 1
	}

	area := image.Rect(
		x+textBounds.Min.X.Floor()-stroke,
		baseline+textBounds.Min.Y.Floor()-stroke,
		x+textBounds.Max.X.Ceil()+stroke,
		baseline+textBounds.Max.Y.Ceil()+stroke,
	)
	visible := area.Intersect(bounds)
	if visible.Empty() {
		return nil
	}

	mask := image.NewAlpha(area)
	drawer := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	drawer.DrawString(text)

	outline := dilateAlpha(mask, stroke)

	draw.DrawMask(dst, visible, image.NewUniform(style.Stroke), image.Point{}, outline, visible.Min, draw.Over)
	draw.DrawMask(dst, visible, image.NewUniform(style.Fill), image.Point{}, mask, visible.Min, draw.Over)
	return nil
}

// fitFace returns a face no larger than size whose rendering of text fits in
// maxWidth pixels, or a face at minSize when nothing fits.
func fitFace(parsed *opentype.Font, text string, size, minSize float64, maxWidth int) (font.Face, float64, error) {
	for {
		face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("overlay: create font face: %w", err)
		}

		width := font.MeasureString(face, text).Ceil()
		if width <= maxWidth || size <= minSize {
			return face, size, nil
		}
		face.Close()

		next := math.Floor(size * float64(maxWidth) / float64(width))
		if next >= size {
			next = size - 1
		}
		if next < minSize {
			next = minSize
		}
		size = next
	}
}

// dilateAlpha grows every covered pixel of src by a disc of the given radius,
// keeping the strongest coverage seen, which gives an even outline around glyphs.
func dilateAlpha(src *image.Alpha, radius int) *image.Alpha {
	bounds := src.Bounds()
	dst := image.NewAlpha(bounds)
	offsets := discOffsets(radius)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			var strongest uint8
			for _, off := range offsets {
				sx, sy := x+off.X, y+off.Y
				if sx < bounds.Min.X || sx >= bounds.Max.X || sy < bounds.Min.Y || sy >= bounds.Max.Y {
					continue
				}
				if a := src.Pix[src.PixOffset(sx, sy)]; a > strongest {
					strongest = a
					if strongest == 0xff {
						break
					}
				}
			}
			dst.Pix[dst.PixOffset(x, y)] = strongest
		}
	}
	return dst
}

func discOffsets(radius int) []image.Point {
	limit := radius*radius + radius
	offsets := make([]image.Point, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= limit {
				offsets = append(offsets, image.Point{X: dx, Y: dy})
			}
		}
	}
	return offsets
}
