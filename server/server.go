// Package server exposes meme editing sessions over HTTP so remote editors
// (phones, browsers, scripts) can drive a composer.
package server

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"memeMe/composer"
	"memeMe/library"
	"memeMe/overlay"
	"memeMe/share"
)

var validate = validator.New()

// Library is the persistence the server saves to and browses.
type Library interface {
	composer.Library
	List(ctx context.Context) ([]library.Record, error)
	Get(ctx context.Context, id string) (library.Record, error)
	Image(ctx context.Context, id string) (image.Image, error)
	Delete(ctx context.Context, id string) error
}

// Options configures a Server. Library is required.
type Options struct {
	Library Library
	Sink    share.Sink
	Style   overlay.Style
	Logger  *zap.Logger
	Metrics *Metrics
}

// session serializes every operation on its composer; a composer must never
// see two calls at once.
type session struct {
	mu       sync.Mutex
	id       string
	composer *composer.Composer
	pending  *composer.Meme
	lastUsed time.Time
	closed   bool
}

// Server owns the open sessions.
type Server struct {
	library Library
	sink    share.Sink
	style   overlay.Style
	logger  *zap.Logger
	metrics *Metrics

	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// New returns a server with no open sessions.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics("mememe")
	}
	return &Server{
		library:  opts.Library,
		sink:     opts.Sink,
		style:    opts.Style,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(s.logger, s.metrics))

	router.Get("/health", s.health)
	router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Put("/image", s.putImage)
			r.Put("/captions/{which}", s.putCaption)
			r.Post("/captions/{which}/focus", s.focusCaption)
			r.Get("/preview", s.preview)
			r.Post("/save", s.save)
			r.Post("/share", s.share)
		})
	})

	router.Route("/memes", func(r chi.Router) {
		r.Get("/", s.listMemes)
		r.Get("/{memeID}", s.getMeme)
		r.Get("/{memeID}/image", s.memeImage)
		r.Delete("/{memeID}", s.deleteMeme)
	})

	return router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) openSession() *session {
	sess := &session{
		id: uuid.NewString(),
		composer: composer.New(
			composer.WithLibrary(s.library),
			composer.WithStyle(s.style),
		),
		lastUsed: s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.Sessions.Set(float64(count))
	return sess
}

// OpenWithImage opens a session that already has img selected, as when a
// photo arrives in the inbox, and returns its id.
func (s *Server) OpenWithImage(img image.Image) string {
	sess := s.openSession()
	sess.mu.Lock()
	sess.composer.SelectImage(img)
	sess.mu.Unlock()
	return sess.id
}

// withSession looks up the session from the URL, locks it for the duration of
// fn, and answers 404 for unknown ids.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(sess *session)) {
	id := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	// The session may have been closed while this request waited for it.
	if sess.closed {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.lastUsed = s.now()
	fn(sess)
}

// closeSession drops sess from the server. The caller holds sess.mu.
func (s *Server) closeSession(sess *session) bool {
	sess.closed = true

	s.mu.Lock()
	_, ok := s.sessions[sess.id]
	delete(s.sessions, sess.id)
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.Sessions.Set(float64(count))
	return ok
}

// ReapIdle closes sessions unused for longer than maxIdle and reports how
// many were closed.
func (s *Server) ReapIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	candidates := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.Unlock()

	closed := 0
	for _, sess := range candidates {
		sess.mu.Lock()
		if !sess.closed && sess.lastUsed.Before(cutoff) && s.closeSession(sess) {
			closed++
			s.logger.Info("session expired", zap.String("session_id", sess.id))
		}
		sess.mu.Unlock()
	}
	return closed
}

// RunReaper calls ReapIdle every interval until ctx ends.
func (s *Server) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapIdle(maxIdle)
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
