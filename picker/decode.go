package picker

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned for data no registered decoder recognises.
var ErrUnsupportedFormat = errors.New("picker: unsupported image format")

// maxImageBytes caps how much of a single upload or download is read.
const maxImageBytes = 32 << 20

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsImagePath reports whether the file name has an extension Decode handles.
func IsImagePath(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Decode reads one image from r and reports the format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(bufio.NewReader(io.LimitReader(r, maxImageBytes)))
	if errors.Is(err, image.ErrFormat) {
		return nil, "", ErrUnsupportedFormat
	}
	if err != nil {
		return nil, "", fmt.Errorf("picker: decode image: %w", err)
	}
	return img, format, nil
}

// DecodeFile opens and decodes path.
func DecodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("picker: open %q: %w", path, err)
	}
	defer file.Close()

	img, _, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("picker: %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
