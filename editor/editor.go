// Package editor is a terminal front end for a composer: two caption fields
// over a selected image, save with ctrl+s, then a share prompt.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"memeMe/composer"
	"memeMe/share"
)

const captionLimit = 500

// Model is the bubbletea model of one editing session.
type Model struct {
	ctx      context.Context
	composer *composer.Composer
	sink     share.Sink
	styles   Styles

	inputs [2]textinput.Model
	focus  composer.Caption

	prompting bool
	meme      composer.Meme
	outcome   share.Outcome
	saved     bool
	status    string
	err       error
}

// New builds an editor over c. Memes the user agrees to share go to sink,
// which may be nil.
func New(ctx context.Context, c *composer.Composer, sink share.Sink) Model {
	m := Model{
		ctx:      ctx,
		composer: c,
		sink:     sink,
		styles:   DefaultStyles(),
	}
	for _, which := range []composer.Caption{composer.Top, composer.Bottom} {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = captionLimit
		ti.Width = 48
		ti.Placeholder = placeholderFor(which)
		ti.PlaceholderStyle = m.styles.Placeholder
		state := c.State()
		if !state.IsPlaceholder(which) {
			ti.SetValue(state.Text(which))
		}
		m.inputs[which] = ti
	}
	m.focusCaption(composer.Top)
	return m
}

func placeholderFor(which composer.Caption) string {
	if which == composer.Top {
		return composer.PlaceholderTop
	}
	return composer.PlaceholderBottom
}

// focusCaption moves the cursor to which. Focusing a caption that still shows
// its placeholder clears it in the composer.
func (m *Model) focusCaption(which composer.Caption) {
	m.inputs[m.focus].Blur()
	m.focus = which
	text := m.composer.BeginEditingCaption(which)
	m.inputs[which].SetValue(text)
	m.inputs[which].CursorEnd()
	m.inputs[which].Focus()
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd
	}
	if m.prompting {
		return m.handlePromptKey(key)
	}
	return m.handleEditKey(key)
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		other := composer.Bottom
		if m.focus == composer.Bottom {
			other = composer.Top
		}
		m.focusCaption(other)
		return m, nil
	case tea.KeyCtrlS:
		return m.save()
	}

	before := m.inputs[m.focus].Value()
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	if after := m.inputs[m.focus].Value(); after != before {
		m.composer.SetText(m.focus, after)
	}
	m.err = nil
	return m, cmd
}

func (m Model) save() (tea.Model, tea.Cmd) {
	meme, err := m.composer.Save(m.ctx)
	if err != nil {
		m.err = err
		if errors.Is(err, composer.ErrInvalidState) {
			m.err = errors.New("pick an image before saving")
		}
		return m, nil
	}
	m.meme = meme
	m.saved = true
	m.prompting = true
	m.err = nil
	m.inputs[m.focus].Blur()
	return m, nil
}

func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC, msg.Type == tea.KeyEsc, msg.Type == tea.KeyEnter:
		return m.finish(false)
	case msg.Type == tea.KeyRunes && share.Confirmed(string(msg.Runes)):
		return m.finish(true)
	case msg.Type == tea.KeyRunes && strings.EqualFold(string(msg.Runes), "n"):
		return m.finish(false)
	}
	return m, nil
}

// finish ends the share prompt. The session is reset whichever way the user
// answered.
func (m Model) finish(confirm bool) (tea.Model, tea.Cmd) {
	m.outcome = share.Dismissed
	switch {
	case !confirm:
	case m.sink == nil:
		m.status = "nowhere to share to; meme kept in the library"
	default:
		if err := m.sink.Share(m.ctx, m.meme); err != nil {
			m.err = fmt.Errorf("share: %w", err)
		} else {
			m.outcome = share.Shared
		}
	}
	m.composer.CompleteShareFlow()
	m.prompting = false
	return m, tea.Quit
}

// Result reports the saved meme, if any, and what happened at the prompt.
func (m Model) Result() (composer.Meme, share.Outcome, bool) {
	return m.meme, m.outcome, m.saved
}

// Err is the last error shown to the user.
func (m Model) Err() error {
	return m.err
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("memeMe"))
	b.WriteString("\n\n")

	state := m.composer.State()
	if img := state.SelectedImage; img != nil {
		bounds := img.Bounds()
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("image %dx%d", bounds.Dx(), bounds.Dy())))
	} else {
		b.WriteString(m.styles.Muted.Render("no image selected"))
	}
	b.WriteString("\n\n")

	for _, which := range []composer.Caption{composer.Top, composer.Bottom} {
		label := m.styles.Label
		if which == m.focus && !m.prompting {
			label = m.styles.ActiveLabel
		}
		b.WriteString(label.Render(strings.ToUpper(which.String())))
		b.WriteString(m.inputs[which].View())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.prompting:
		b.WriteString(m.styles.Prompt.Render(fmt.Sprintf("Meme saved (%s). Share it? (y/n)", m.meme.ID)))
	case m.err != nil:
		b.WriteString(m.styles.Error.Render(m.err.Error()))
	case m.status != "":
		b.WriteString(m.styles.Muted.Render(m.status))
	default:
		b.WriteString(m.styles.Muted.Render("tab switch caption  ctrl+s save  esc quit"))
	}
	b.WriteString("\n")
	return b.String()
}
