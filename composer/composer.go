// Package composer holds a single meme editing session: the selected photo,
// its two captions, and the rules for when a meme may be rendered and saved.
//
// A Composer is not safe for concurrent use. Callers that reach one session
// from several goroutines must serialize access themselves.
package composer

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"

	"memeMe/overlay"
)

// Library persists a saved meme. It is the only collaborator Save waits on.
type Library interface {
	Save(ctx context.Context, meme Meme) error
}

// Observer is told about every state change, after it happens.
type Observer func(phase Phase, state EditingState)

type observerEntry struct {
	id int
	fn Observer
}

// Composer owns one editing session.
type Composer struct {
	state EditingState
	phase Phase

	style   overlay.Style
	library Library
	now     func() time.Time
	newID   func() string

	observers []observerEntry
	nextObs   int
}

// Option configures a Composer.
type Option func(*Composer)

// WithLibrary sets where Save sends finished memes.
func WithLibrary(lib Library) Option {
	return func(c *Composer) { c.library = lib }
}

// WithStyle overrides the caption style.
func WithStyle(style overlay.Style) Option {
	return func(c *Composer) { c.style = style }
}

// WithClock sets the time source for Meme.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

// WithIDSource sets how Meme.ID is generated.
func WithIDSource(newID func() string) Option {
	return func(c *Composer) { c.newID = newID }
}

// New returns a composer in the empty state.
func New(opts ...Option) *Composer {
	c := &Composer{
		state: emptyState(),
		phase: PhaseEmpty,
		style: overlay.DefaultStyle(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the editing state.
func (c *Composer) State() EditingState {
	return c.state
}

// Phase returns where the session is in its cycle.
func (c *Composer) Phase() Phase {
	return c.phase
}

// CanSave reports whether Save would get past its precondition.
func (c *Composer) CanSave() bool {
	return c.state.CanSave()
}

// Observe registers fn for state changes and returns a function that removes it.
func (c *Composer) Observe(fn Observer) (cancel func()) {
	id := c.nextObs
	c.nextObs++
	c.observers = append(c.observers, observerEntry{id: id, fn: fn})
	return func() {
		for i, entry := range c.observers {
			if entry.id == id {
				kept := make([]observerEntry, 0, len(c.observers)-1)
				kept = append(kept, c.observers[:i]...)
				c.observers = append(kept, c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Composer) notify() {
	for _, entry := range c.observers {
		entry.fn(c.phase, c.state)
	}
}

func (c *Composer) setPhase(p Phase) {
	c.phase = p
	c.notify()
}

// SelectImage makes img the base photo. A nil image is ignored, which is how a
// cancelled picker leaves the session untouched.
func (c *Composer) SelectImage(img image.Image) {
	if img == nil {
		return
	}
	c.state.SelectedImage = img
	c.phase = PhaseImageSelected
	c.notify()
}

// SetTopText replaces the top caption.
func (c *Composer) SetTopText(text string) {
	c.SetText(Top, text)
}

// SetBottomText replaces the bottom caption.
func (c *Composer) SetBottomText(text string) {
	c.SetText(Bottom, text)
}

// SetText replaces one caption and leaves the other alone.
func (c *Composer) SetText(which Caption, text string) {
	switch which {
	case Top:
		c.state.TopText = text
		c.state.topPlaceholder = false
	case Bottom:
		c.state.BottomText = text
		c.state.bottomPlaceholder = false
	default:
		return
	}
	c.notify()
}

// BeginEditingCaption is called when a caption field gains focus. A caption
// still showing its placeholder is cleared so the placeholder never ends up
// in a render as if the user had typed it. The caption's text is returned.
func (c *Composer) BeginEditingCaption(which Caption) string {
	if c.state.IsPlaceholder(which) {
		c.SetText(which, "")
	}
	return c.state.Text(which)
}

// Render composites the captions onto the selected image as they are right
// now. Each call returns a new image.
func (c *Composer) Render() (*image.RGBA, error) {
	if !c.state.CanSave() {
		return nil, errNoImage
	}
	return overlay.Captions(c.state.SelectedImage, c.state.TopText, c.state.BottomText, c.style)
}

// Save renders the current state, hands the result to the library and moves
// the session to the share prompt. On any failure the phase is restored and
// no Meme is returned; a library failure comes back as *PersistError.
func (c *Composer) Save(ctx context.Context) (Meme, error) {
	if !c.state.CanSave() {
		return Meme{}, errNoImage
	}

	prev := c.phase
	c.setPhase(PhaseRendering)

	composite, err := c.Render()
	if err != nil {
		c.setPhase(prev)
		return Meme{}, err
	}

	meme := Meme{
		ID:             c.newID(),
		TopText:        c.state.TopText,
		BottomText:     c.state.BottomText,
		SourceImage:    c.state.SelectedImage,
		CompositeImage: composite,
		CreatedAt:      c.now(),
	}

	if c.library != nil {
		if err := c.library.Save(ctx, meme); err != nil {
			c.setPhase(prev)
			return Meme{}, &PersistError{MemeID: meme.ID, Err: err}
		}
	}

	c.setPhase(PhaseSharePrompt)
	return meme, nil
}

// CompleteShareFlow ends the session once the share step has been shown and
// closed, whether or not anything was shared.
func (c *Composer) CompleteShareFlow() {
	c.state = emptyState()
	c.phase = PhaseEmpty
	c.notify()
}
