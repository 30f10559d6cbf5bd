// Package picker supplies photos to a composer. A Source calls its Completion
// once with the chosen image; when the user backs out nothing is called.
package picker

import (
	"context"
	"errors"
	"image"
	"net/url"
	"os"
	"strings"
)

// Completion receives a successfully picked image. It is never called with nil.
type Completion func(img image.Image)

// Source is anything a photo can be picked from.
type Source interface {
	Name() string
	// Available reports whether the source can be used right now, like a
	// device camera that may be absent.
	Available() bool
	// Pick blocks until an image is chosen or ctx ends. A cancelled pick
	// returns nil without calling done.
	Pick(ctx context.Context, done Completion) error
}

// FileSource picks one image file from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file" }

func (s FileSource) Available() bool {
	info, err := os.Stat(s.Path)
	return err == nil && !info.IsDir()
}

func (s FileSource) Pick(ctx context.Context, done Completion) error {
	if err := ctx.Err(); err != nil {
		return nil
	}
	img, err := DecodeFile(s.Path)
	if err != nil {
		return err
	}
	done(img)
	return nil
}

// ForLocation returns a RemoteSource for http(s) URLs and a FileSource for
// anything else.
func ForLocation(location string) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("picker: image location must not be empty")
	}
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return NewRemoteSource(location), nil
	}
	return FileSource{Path: location}, nil
}

// PickOne runs src and returns the picked image, or nil when nothing was picked.
func PickOne(ctx context.Context, src Source) (image.Image, error) {
	var picked image.Image
	err := src.Pick(ctx, func(img image.Image) { picked = img })
	return picked, err
}
