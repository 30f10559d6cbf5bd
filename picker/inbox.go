package picker

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	inboxSettleDelay = 150 * time.Millisecond
	minInboxTick     = time.Millisecond
)

// InboxSource treats a directory as a camera roll: images dropped into it
// while the source is watching are picked up. Files already present are
// ignored.
type InboxSource struct {
	Dir    string
	Logger *zap.Logger

	// Settle is how long a file must stay unchanged before it is decoded.
	Settle time.Duration
}

func (s *InboxSource) Name() string { return "inbox" }

func (s *InboxSource) Available() bool {
	info, err := os.Stat(s.Dir)
	return err == nil && info.IsDir()
}

// Pick returns after the first new image is decoded.
func (s *InboxSource) Pick(ctx context.Context, done Completion) error {
	return s.watch(ctx, func(img image.Image) bool {
		done(img)
		return false
	})
}

// Watch calls done for every new image until ctx ends.
func (s *InboxSource) Watch(ctx context.Context, done Completion) error {
	return s.watch(ctx, func(img image.Image) bool {
		done(img)
		return true
	})
}

func (s *InboxSource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *InboxSource) watch(ctx context.Context, deliver func(image.Image) bool) error {
	dir, err := filepath.Abs(s.Dir)
	if err != nil {
		return fmt.Errorf("picker: inbox path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("picker: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("picker: watch %q: %w", dir, err)
	}
	s.logger().Info("watching inbox", zap.String("dir", dir))

	settle := s.Settle
	if settle <= 0 {
		settle = inboxSettleDelay
	}

	tick := settle / 3
	if tick < minInboxTick {
		tick = minInboxTick
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsImagePath(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger().Warn("inbox watcher error", zap.Error(err))

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, path)

				img, err := DecodeFile(path)
				if err != nil {
					s.logger().Warn("skip inbox file", zap.String("path", path), zap.Error(err))
					continue
				}
				s.logger().Info("picked inbox image",
					zap.String("path", path),
					zap.Int("width", img.Bounds().Dx()),
					zap.Int("height", img.Bounds().Dy()),
				)
				if !deliver(img) {
					return nil
				}
			}
		}
	}
}
