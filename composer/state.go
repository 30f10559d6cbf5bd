package composer

import (
	"errors"
	"fmt"
	"image"
	"time"
)

const (
	PlaceholderTop    = "TOP"
	PlaceholderBottom = "BOTTOM"
)

// ErrInvalidState is returned by Render and Save when no image has been
// selected. It is always recoverable: select an image and try again.
var ErrInvalidState = errors.New("invalid state")

var errNoImage = fmt.Errorf("composer: %w: no image selected", ErrInvalidState)

// Caption names one of the two caption fields.
type Caption int

const (
	Top Caption = iota
	Bottom
)

func (c Caption) String() string {
	switch c {
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	default:
		return fmt.Sprintf("Caption(%d)", int(c))
	}
}

// ParseCaption accepts "top" or "bottom".
func ParseCaption(s string) (Caption, error) {
	switch s {
	case "top":
		return Top, nil
	case "bottom":
		return Bottom, nil
	}
	return 0, fmt.Errorf("composer: unknown caption %q", s)
}

// Phase is the position of a session in its edit, save, share cycle.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseImageSelected
	PhaseRendering
	PhaseSharePrompt
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseImageSelected:
		return "image_selected"
	case PhaseRendering:
		return "rendering"
	case PhaseSharePrompt:
		return "share_prompt"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// EditingState is the mutable part of a session.
type EditingState struct {
	SelectedImage image.Image
	TopText       string
	BottomText    string

	topPlaceholder    bool
	bottomPlaceholder bool
}

func emptyState() EditingState {
	return EditingState{
		TopText:           PlaceholderTop,
		BottomText:        PlaceholderBottom,
		topPlaceholder:    true,
		bottomPlaceholder: true,
	}
}

// CanSave reports whether an image is selected.
func (s EditingState) CanSave() bool {
	return s.SelectedImage != nil
}

// IsPlaceholder reports whether the caption still holds its untouched default.
func (s EditingState) IsPlaceholder(c Caption) bool {
	if c == Top {
		return s.topPlaceholder
	}
	return s.bottomPlaceholder
}

// Text returns the current text of a caption.
func (s EditingState) Text(c Caption) string {
	if c == Top {
		return s.TopText
	}
	return s.BottomText
}

// Meme is a saved composite. CompositeImage is never modified after the Meme
// is returned and SourceImage is the exact image that was selected.
type Meme struct {
	ID             string
	TopText        string
	BottomText     string
	SourceImage    image.Image
	CompositeImage *image.RGBA
	CreatedAt      time.Time
}

// PersistError reports that the library refused a freshly rendered meme.
type PersistError struct {
	MemeID string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("composer: persist meme %s: %v", e.MemeID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
