package editor

import (
	"context"
	"errors"
	"image"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memeMe/composer"
	"memeMe/share"
)

type captureSink struct {
	memes []composer.Meme
	err   error
}

func (s *captureSink) Share(_ context.Context, meme composer.Meme) error {
	s.memes = append(s.memes, meme)
	return s.err
}

func send(t *testing.T, m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		require.True(t, ok)
	}
	return m, cmd
}

func typed(text string) tea.Msg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)}
}

func key(k tea.KeyType) tea.Msg {
	return tea.KeyMsg{Type: k}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func withImage() *composer.Composer {
	c := composer.New(composer.WithIDSource(func() string { return "meme-1" }))
	c.SelectImage(image.NewRGBA(image.Rect(0, 0, 120, 90)))
	return c
}

func TestFocusClearsTopPlaceholderOnly(t *testing.T) {
	c := withImage()
	New(context.Background(), c, nil)

	state := c.State()
	assert.Equal(t, "", state.TopText)
	assert.False(t, state.IsPlaceholder(composer.Top))
	assert.Equal(t, composer.PlaceholderBottom, state.BottomText)
	assert.True(t, state.IsPlaceholder(composer.Bottom))
}

func TestTypingUpdatesComposer(t *testing.T) {
	c := withImage()
	m := New(context.Background(), c, nil)

	m, _ = send(t, m, typed("hi"), key(tea.KeyTab), typed("yo"))

	assert.Equal(t, "hi", c.State().TopText)
	assert.Equal(t, "yo", c.State().BottomText)
	assert.Contains(t, m.View(), "hi")
}

func TestRefocusKeepsUserText(t *testing.T) {
	c := withImage()
	m := New(context.Background(), c, nil)

	send(t, m, typed("keep"), key(tea.KeyTab), key(tea.KeyTab))

	assert.Equal(t, "keep", c.State().TopText)
}

func TestSaveWithoutImageShowsError(t *testing.T) {
	c := composer.New()
	m := New(context.Background(), c, nil)

	m, cmd := send(t, m, key(tea.KeyCtrlS))

	assert.Nil(t, cmd)
	require.Error(t, m.Err())
	assert.Contains(t, m.View(), "pick an image")
	_, _, saved := m.Result()
	assert.False(t, saved)
}

func TestSaveThenShare(t *testing.T) {
	sink := &captureSink{}
	c := withImage()
	m := New(context.Background(), c, sink)

	m, _ = send(t, m, typed("top"), key(tea.KeyCtrlS))
	assert.Equal(t, composer.PhaseSharePrompt, c.Phase())
	assert.Contains(t, m.View(), "Share it?")

	m, cmd := send(t, m, typed("y"))

	assert.True(t, isQuit(cmd))
	meme, outcome, saved := m.Result()
	assert.True(t, saved)
	assert.Equal(t, share.Shared, outcome)
	assert.Equal(t, "meme-1", meme.ID)
	require.Len(t, sink.memes, 1)
	assert.Equal(t, composer.PhaseEmpty, c.Phase())
	assert.Equal(t, composer.PlaceholderTop, c.State().TopText)
}

func TestDeclineStillResets(t *testing.T) {
	sink := &captureSink{}
	c := withImage()
	m := New(context.Background(), c, sink)

	m, cmd := send(t, m, key(tea.KeyCtrlS), typed("n"))

	assert.True(t, isQuit(cmd))
	_, outcome, _ := m.Result()
	assert.Equal(t, share.Dismissed, outcome)
	assert.Empty(t, sink.memes)
	assert.Equal(t, composer.PhaseEmpty, c.Phase())
}

func TestPromptIgnoresOtherKeys(t *testing.T) {
	c := withImage()
	m := New(context.Background(), c, nil)

	m, cmd := send(t, m, key(tea.KeyCtrlS), typed("q"))

	assert.Nil(t, cmd)
	assert.Equal(t, composer.PhaseSharePrompt, c.Phase())
	assert.Contains(t, m.View(), "Share it?")
}

func TestShareFailureReported(t *testing.T) {
	c := withImage()
	m := New(context.Background(), c, &captureSink{err: errors.New("offline")})

	m, _ = send(t, m, key(tea.KeyCtrlS), typed("y"))

	assert.ErrorContains(t, m.Err(), "offline")
	_, outcome, _ := m.Result()
	assert.Equal(t, share.Dismissed, outcome)
	assert.Equal(t, composer.PhaseEmpty, c.Phase())
}

func TestEscQuitsWithoutSaving(t *testing.T) {
	c := withImage()
	m := New(context.Background(), c, nil)

	m, cmd := send(t, m, key(tea.KeyEsc))

	assert.True(t, isQuit(cmd))
	_, _, saved := m.Result()
	assert.False(t, saved)
	assert.Equal(t, composer.PhaseImageSelected, c.Phase())
}
