package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"memeMe/composer"
	"memeMe/library"
)

type memoryLibrary struct {
	mu      sync.Mutex
	memes   map[string]composer.Meme
	saveErr error
}

func newMemoryLibrary() *memoryLibrary {
	return &memoryLibrary{memes: make(map[string]composer.Meme)}
}

func (l *memoryLibrary) Save(_ context.Context, meme composer.Meme) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveErr != nil {
		return l.saveErr
	}
	l.memes[meme.ID] = meme
	return nil
}

func record(meme composer.Meme) library.Record {
	b := meme.CompositeImage.Bounds()
	return library.Record{
		ID:         meme.ID,
		TopText:    meme.TopText,
		BottomText: meme.BottomText,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CreatedAt:  meme.CreatedAt,
	}
}

func (l *memoryLibrary) List(context.Context) ([]library.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []library.Record{}
	for _, meme := range l.memes {
		out = append(out, record(meme))
	}
	return out, nil
}

func (l *memoryLibrary) Get(_ context.Context, id string) (library.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	meme, ok := l.memes[id]
	if !ok {
		return library.Record{}, library.ErrNotFound
	}
	return record(meme), nil
}

func (l *memoryLibrary) Image(_ context.Context, id string) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	meme, ok := l.memes[id]
	if !ok {
		return nil, library.ErrNotFound
	}
	return meme.CompositeImage, nil
}

func (l *memoryLibrary) Delete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.memes[id]; !ok {
		return library.ErrNotFound
	}
	delete(l.memes, id)
	return nil
}

type captureSink struct {
	mu    sync.Mutex
	memes []composer.Meme
	err   error
}

func (s *captureSink) Share(_ context.Context, meme composer.Meme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memes = append(s.memes, meme)
	return s.err
}

type fixture struct {
	t       *testing.T
	server  *Server
	http    *httptest.Server
	library *memoryLibrary
	sink    *captureSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lib := newMemoryLibrary()
	sink := &captureSink{}
	srv := New(Options{Library: lib, Sink: sink, Logger: zaptest.NewLogger(t)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{t: t, server: srv, http: ts, library: lib, sink: sink}
}

func (f *fixture) do(method, path string, body io.Reader) *http.Response {
	f.t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, body)
	require.NoError(f.t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) doJSON(method, path string, body any, out any) int {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}
	resp := f.do(method, path, reader)
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) newSession() string {
	f.t.Helper()
	var sess sessionResponse
	require.Equal(f.t, http.StatusCreated, f.doJSON(http.MethodPost, "/sessions", nil, &sess))
	return sess.ID
}

func (f *fixture) upload(id string) {
	f.t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 150))
	for i := range img.Pix {
		img.Pix[i] = 0x60
	}
	var buf bytes.Buffer
	require.NoError(f.t, png.Encode(&buf, img))
	resp := f.do(http.MethodPut, "/sessions/"+id+"/image", &buf)
	require.Equal(f.t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.doJSON(http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestNewSessionStartsEmptyWithPlaceholders(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()

	var sess sessionResponse
	require.Equal(t, http.StatusOK, f.doJSON(http.MethodGet, "/sessions/"+id, nil, &sess))
	assert.Equal(t, "empty", sess.Phase)
	assert.Equal(t, composer.PlaceholderTop, sess.TopText)
	assert.Equal(t, composer.PlaceholderBottom, sess.BottomText)
	assert.True(t, sess.TopPlaceholder)
	assert.False(t, sess.CanSave)
	assert.Nil(t, sess.Image)
}

func TestUnknownAndMalformedSessions(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/sessions/not-a-uuid", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/sessions/7f0c1d7e-7a51-4c1e-9a83-2d5b8c5f0a11", nil).StatusCode)
}

func TestSaveWithoutImageConflicts(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()

	var body map[string]string
	assert.Equal(t, http.StatusConflict, f.doJSON(http.MethodPost, "/sessions/"+id+"/save", nil, &body))
	assert.Contains(t, body["error"], "invalid state")
	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/sessions/"+id+"/preview", nil).StatusCode)
	assert.Empty(t, f.library.memes)
}

func TestUploadRejectsNonImages(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()

	resp := f.do(http.MethodPut, "/sessions/"+id+"/image", strings.NewReader("definitely not a picture"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestFocusClearsPlaceholderOnce(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()

	var focus map[string]string
	require.Equal(t, http.StatusOK, f.doJSON(http.MethodPost, "/sessions/"+id+"/captions/top/focus", nil, &focus))
	assert.Equal(t, "", focus["text"])

	require.Equal(t, http.StatusOK, f.doJSON(http.MethodPut, "/sessions/"+id+"/captions/top", CaptionRequest{Text: "kept"}, nil))
	require.Equal(t, http.StatusOK, f.doJSON(http.MethodPost, "/sessions/"+id+"/captions/top/focus", nil, &focus))
	assert.Equal(t, "kept", focus["text"])

	var sess sessionResponse
	f.doJSON(http.MethodGet, "/sessions/"+id, nil, &sess)
	assert.Equal(t, composer.PlaceholderBottom, sess.BottomText)
}

func TestCaptionValidation(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()

	assert.Equal(t, http.StatusNotFound, f.doJSON(http.MethodPut, "/sessions/"+id+"/captions/middle", CaptionRequest{Text: "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, f.doJSON(http.MethodPut, "/sessions/"+id+"/captions/top", CaptionRequest{Text: strings.Repeat("a", 501)}, nil))
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/sessions/"+id+"/captions/top", strings.NewReader("{")).StatusCode)
}

func TestPreviewIsImageSized(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()
	f.upload(id)
	f.doJSON(http.MethodPut, "/sessions/"+id+"/captions/top", CaptionRequest{Text: "hi"}, nil)

	resp := f.do(http.MethodGet, "/sessions/"+id+"/preview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 150), img.Bounds())
}

func TestSaveThenShareConfirmed(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()
	f.upload(id)
	f.doJSON(http.MethodPut, "/sessions/"+id+"/captions/top", CaptionRequest{Text: "one does not simply"}, nil)
	f.doJSON(http.MethodPut, "/sessions/"+id+"/captions/bottom", CaptionRequest{Text: "write go"}, nil)

	var meme memeResponse
	require.Equal(t, http.StatusCreated, f.doJSON(http.MethodPost, "/sessions/"+id+"/save", nil, &meme))
	assert.Equal(t, "one does not simply", meme.TopText)
	assert.Equal(t, 200, meme.Width)

	var sess sessionResponse
	f.doJSON(http.MethodGet, "/sessions/"+id, nil, &sess)
	assert.Equal(t, "share_prompt", sess.Phase)

	var shared map[string]string
	require.Equal(t, http.StatusOK, f.doJSON(http.MethodPost, "/sessions/"+id+"/share", ShareRequest{Confirm: true}, &shared))
	assert.Equal(t, "shared", shared["outcome"])
	require.Len(t, f.sink.memes, 1)
	assert.Equal(t, meme.ID, f.sink.memes[0].ID)

	var after sessionResponse
	f.doJSON(http.MethodGet, "/sessions/"+id, nil, &after)
	assert.Equal(t, "empty", after.Phase)
	assert.Equal(t, composer.PlaceholderTop, after.TopText)
	assert.Nil(t, after.Image)

	var listed struct {
		Memes []memeResponse `json:"memes"`
	}
	require.Equal(t, http.StatusOK, f.doJSON(http.MethodGet, "/memes", nil, &listed))
	require.Len(t, listed.Memes, 1)
	assert.Equal(t, "/memes/"+meme.ID+"/image", listed.Memes[0].ImageURL)

	resp := f.do(http.MethodGet, "/memes/"+meme.ID+"/image", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestShareDismissedStillResets(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()
	f.upload(id)
	require.Equal(t, http.StatusCreated, f.doJSON(http.MethodPost, "/sessions/"+id+"/save", nil, nil))

	var shared map[string]string
	require.Equal(t, http.StatusOK, f.doJSON(http.MethodPost, "/sessions/"+id+"/share", ShareRequest{}, &shared))
	assert.Equal(t, "dismissed", shared["outcome"])
	assert.Empty(t, f.sink.memes)

	var sess sessionResponse
	f.doJSON(http.MethodGet, "/sessions/"+id, nil, &sess)
	assert.Equal(t, "empty", sess.Phase)
	assert.Len(t, f.library.memes, 1)
}

func TestShareOutsidePromptConflicts(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()
	f.upload(id)
	assert.Equal(t, http.StatusConflict, f.doJSON(http.MethodPost, "/sessions/"+id+"/share", ShareRequest{Confirm: true}, nil))
}

func TestSinkFailureReportsAndResets(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("outbox offline")
	id := f.newSession()
	f.upload(id)
	require.Equal(t, http.StatusCreated, f.doJSON(http.MethodPost, "/sessions/"+id+"/save", nil, nil))

	var body map[string]string
	assert.Equal(t, http.StatusBadGateway, f.doJSON(http.MethodPost, "/sessions/"+id+"/share", ShareRequest{Confirm: true}, &body))
	assert.Contains(t, body["error"], "outbox offline")

	var sess sessionResponse
	f.doJSON(http.MethodGet, "/sessions/"+id, nil, &sess)
	assert.Equal(t, "empty", sess.Phase)
}

func TestPersistFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.library.saveErr = errors.New("disk full")
	id := f.newSession()
	f.upload(id)

	assert.Equal(t, http.StatusInternalServerError, f.doJSON(http.MethodPost, "/sessions/"+id+"/save", nil, nil))

	var sess sessionResponse
	f.doJSON(http.MethodGet, "/sessions/"+id, nil, &sess)
	assert.Equal(t, "image_selected", sess.Phase)
	assert.True(t, sess.CanSave)
}

func TestMemeNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/memes/nope", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/memes/nope/image", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/memes/nope", nil).StatusCode)
}

func TestDeleteMeme(t *testing.T) {
	f := newFixture(t)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.White)
	require.NoError(t, f.library.Save(context.Background(), composer.Meme{ID: "m1", CompositeImage: img}))

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/memes/m1", nil).StatusCode)
	assert.Empty(t, f.library.memes)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/sessions/"+id, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/sessions/"+id, nil).StatusCode)
}

func TestOpenWithImage(t *testing.T) {
	f := newFixture(t)
	id := f.server.OpenWithImage(image.NewRGBA(image.Rect(0, 0, 30, 20)))

	var sess sessionResponse
	require.Equal(t, http.StatusOK, f.doJSON(http.MethodGet, "/sessions/"+id, nil, &sess))
	assert.Equal(t, "image_selected", sess.Phase)
	require.NotNil(t, sess.Image)
	assert.Equal(t, 30, sess.Image.Width)
	assert.True(t, sess.CanSave)
}

func TestReapIdle(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	f.server.now = func() time.Time { return now }

	stale := f.newSession()
	now = now.Add(20 * time.Minute)
	fresh := f.newSession()

	assert.Equal(t, 1, f.server.ReapIdle(10*time.Minute))
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/sessions/"+stale, nil).StatusCode)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/sessions/"+fresh, nil).StatusCode)
}

func TestReapIdleRechecksUnderSessionLock(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	f.server.now = func() time.Time { return start }
	id := f.newSession()

	later := start.Add(time.Hour)
	f.server.now = func() time.Time { return later }

	f.server.mu.Lock()
	sess := f.server.sessions[id]
	f.server.mu.Unlock()

	// Hold the session the way a request does and refresh it before the
	// reaper gets the lock.
	sess.mu.Lock()
	reaped := make(chan int, 1)
	go func() { reaped <- f.server.ReapIdle(10 * time.Minute) }()
	time.Sleep(20 * time.Millisecond)
	sess.lastUsed = later
	sess.mu.Unlock()

	assert.Equal(t, 0, <-reaped)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/sessions/"+id, nil).StatusCode)
}

func TestRequestWaitingOnClosedSessionGetsNotFound(t *testing.T) {
	f := newFixture(t)
	id := f.newSession()

	f.server.mu.Lock()
	sess := f.server.sessions[id]
	f.server.mu.Unlock()

	sess.mu.Lock()
	status := make(chan int, 1)
	go func() {
		req, err := http.NewRequest(http.MethodPut, f.http.URL+"/sessions/"+id+"/captions/top",
			strings.NewReader(`{"text":"too late"}`))
		if err != nil {
			status <- 0
			return
		}
		resp, err := f.http.Client().Do(req)
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	time.Sleep(20 * time.Millisecond)
	f.server.closeSession(sess)
	sess.mu.Unlock()

	assert.Equal(t, http.StatusNotFound, <-status)
	assert.Equal(t, composer.PlaceholderTop, sess.composer.State().TopText)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.newSession()

	resp := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mememe_sessions_active 1")
	assert.Contains(t, string(body), "mememe_http_requests_total")
}
