package share

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"memeMe/composer"
	"memeMe/matrixdisplay"
)

// DirectorySink exports shared memes as PNG files into an outbox folder.
type DirectorySink struct {
	Dir    string
	Logger *zap.Logger
}

func (s *DirectorySink) Share(ctx context.Context, meme composer.Meme) error {
	if meme.CompositeImage == nil {
		return errors.New("share: meme has no composite image")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("share: create outbox: %w", err)
	}

	path := filepath.Join(s.Dir, exportName(meme))
	if err := writePNG(path, meme.CompositeImage); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("meme exported", zap.String("meme_id", meme.ID), zap.String("path", path))
	}
	return nil
}

// writePNG encodes into a temporary file and renames it into place, so a
// failed export never leaves a partial file in the outbox.
func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("share: create %q: %w", tmp, err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("share: encode png: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("share: close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("share: rename %q: %w", tmp, err)
	}
	return nil
}

func exportName(meme composer.Meme) string {
	slug := sanitizeForFilename(meme.TopText + " " + meme.BottomText)
	if slug == "" {
		slug = "meme"
	}
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "_-")
	}
	id := meme.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s.png", slug, id)
}

func sanitizeForFilename(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		case r == ' ':
			builder.WriteRune('_')
		}
	}
	return strings.Trim(strings.ToLower(builder.String()), "_")
}

// Display is an output panel such as the LED matrix.
type Display interface {
	Show(img image.Image) error
}

// MatrixSink puts shared memes on a small square panel.
type MatrixSink struct {
	Display Display
}

func (s *MatrixSink) Share(_ context.Context, meme composer.Meme) error {
	if meme.CompositeImage == nil {
		return errors.New("share: meme has no composite image")
	}
	if err := s.Display.Show(matrixdisplay.Fit(meme.CompositeImage)); err != nil {
		return fmt.Errorf("share: show on matrix: %w", err)
	}
	return nil
}
