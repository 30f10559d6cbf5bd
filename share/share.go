// Package share is the last step of a meme session: the finished meme is
// offered to the user, optionally sent somewhere, and the session is reset.
package share

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"memeMe/composer"
)

// Outcome is how the user left the share step.
type Outcome int

const (
	Dismissed Outcome = iota
	Shared
)

func (o Outcome) String() string {
	if o == Shared {
		return "shared"
	}
	return "dismissed"
}

// Sink receives memes the user chose to share.
type Sink interface {
	Share(ctx context.Context, meme composer.Meme) error
}

// Presenter offers a saved meme to the user and reports what they chose.
type Presenter interface {
	Present(ctx context.Context, meme composer.Meme) (Outcome, error)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, meme composer.Meme) (Outcome, error)

func (f PresenterFunc) Present(ctx context.Context, meme composer.Meme) (Outcome, error) {
	return f(ctx, meme)
}

// Flow saves the composer's meme, presents it, and resets the session once
// the presenter returns, whatever it returned. A failed save leaves the
// session as it was so the user can retry.
func Flow(ctx context.Context, c *composer.Composer, p Presenter) (composer.Meme, Outcome, error) {
	meme, err := c.Save(ctx)
	if err != nil {
		return composer.Meme{}, Dismissed, err
	}
	defer c.CompleteShareFlow()

	outcome, err := p.Present(ctx, meme)
	if err != nil {
		return meme, Dismissed, err
	}
	return meme, outcome, nil
}

// Always shares to the sink without asking.
func Always(sink Sink) Presenter {
	return PresenterFunc(func(ctx context.Context, meme composer.Meme) (Outcome, error) {
		if err := sink.Share(ctx, meme); err != nil {
			return Dismissed, err
		}
		return Shared, nil
	})
}

// Never dismisses every meme.
func Never() Presenter {
	return PresenterFunc(func(context.Context, composer.Meme) (Outcome, error) {
		return Dismissed, nil
	})
}

// Prompt asks a yes/no question on a terminal-like stream before sharing.
type Prompt struct {
	In   io.Reader
	Out  io.Writer
	Sink Sink
}

func (p *Prompt) Present(ctx context.Context, meme composer.Meme) (Outcome, error) {
	fmt.Fprintf(p.Out, "Meme saved (%s). Share it? [y/N] ", meme.ID)

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Dismissed, fmt.Errorf("share: read answer: %w", err)
	}
	if !Confirmed(line) {
		return Dismissed, nil
	}
	if err := p.Sink.Share(ctx, meme); err != nil {
		return Dismissed, err
	}
	return Shared, nil
}

// Confirmed reports whether a typed answer means yes.
func Confirmed(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// Multi shares to every sink and joins their errors.
type Multi []Sink

func (m Multi) Share(ctx context.Context, meme composer.Meme) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Share(ctx, meme); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
