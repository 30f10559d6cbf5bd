package server

import (
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"memeMe/composer"
	"memeMe/library"
	"memeMe/picker"
	"memeMe/share"
)

const maxUploadBytes = 32 << 20

type imageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type sessionResponse struct {
	ID                string     `json:"id"`
	Phase             string     `json:"phase"`
	TopText           string     `json:"top_text"`
	BottomText        string     `json:"bottom_text"`
	TopPlaceholder    bool       `json:"top_placeholder"`
	BottomPlaceholder bool       `json:"bottom_placeholder"`
	CanSave           bool       `json:"can_save"`
	Image             *imageInfo `json:"image,omitempty"`
}

func describeSession(sess *session) sessionResponse {
	state := sess.composer.State()
	resp := sessionResponse{
		ID:                sess.id,
		Phase:             sess.composer.Phase().String(),
		TopText:           state.TopText,
		BottomText:        state.BottomText,
		TopPlaceholder:    state.IsPlaceholder(composer.Top),
		BottomPlaceholder: state.IsPlaceholder(composer.Bottom),
		CanSave:           state.CanSave(),
	}
	if state.SelectedImage != nil {
		b := state.SelectedImage.Bounds()
		resp.Image = &imageInfo{Width: b.Dx(), Height: b.Dy()}
	}
	return resp
}

type memeResponse struct {
	ID         string    `json:"id"`
	TopText    string    `json:"top_text"`
	BottomText string    `json:"bottom_text"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CreatedAt  time.Time `json:"created_at"`
	ImageURL   string    `json:"image_url"`
}

func describeRecord(rec library.Record) memeResponse {
	return memeResponse{
		ID:         rec.ID,
		TopText:    rec.TopText,
		BottomText: rec.BottomText,
		Width:      rec.Width,
		Height:     rec.Height,
		CreatedAt:  rec.CreatedAt,
		ImageURL:   "/memes/" + rec.ID + "/image",
	}
}

func describeMeme(meme composer.Meme) memeResponse {
	b := meme.CompositeImage.Bounds()
	return describeRecord(library.Record{
		ID:         meme.ID,
		TopText:    meme.TopText,
		BottomText: meme.BottomText,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CreatedAt:  meme.CreatedAt,
	})
}

// CaptionRequest is the body of PUT /sessions/{id}/captions/{which}.
type CaptionRequest struct {
	Text string `json:"text" validate:"max=500"`
}

// ShareRequest is the body of POST /sessions/{id}/share.
type ShareRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.openSession()
	s.logger.Info("session opened", zap.String("session_id", sess.id))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	respondJSON(w, http.StatusCreated, describeSession(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) {
		respondJSON(w, http.StatusOK, describeSession(sess))
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) {
		s.closeSession(sess)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) putImage(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) {
		img, format, err := picker.Decode(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if errors.Is(err, picker.ErrUnsupportedFormat) {
			respondError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		sess.composer.SelectImage(img)
		sess.pending = nil
		s.logger.Info("image selected",
			zap.String("session_id", sess.id),
			zap.String("format", format),
			zap.Int("width", img.Bounds().Dx()),
			zap.Int("height", img.Bounds().Dy()),
		)
		respondJSON(w, http.StatusOK, describeSession(sess))
	})
}

func captionParam(w http.ResponseWriter, r *http.Request) (composer.Caption, bool) {
	which, err := composer.ParseCaption(chi.URLParam(r, "which"))
	if err != nil {
		respondError(w, http.StatusNotFound, "caption must be top or bottom")
		return 0, false
	}
	return which, true
}

func (s *Server) putCaption(w http.ResponseWriter, r *http.Request) {
	which, ok := captionParam(w, r)
	if !ok {
		return
	}
	var req CaptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation error: "+err.Error())
		return
	}

	s.withSession(w, r, func(sess *session) {
		sess.composer.SetText(which, req.Text)
		respondJSON(w, http.StatusOK, describeSession(sess))
	})
}

func (s *Server) focusCaption(w http.ResponseWriter, r *http.Request) {
	which, ok := captionParam(w, r)
	if !ok {
		return
	}
	s.withSession(w, r, func(sess *session) {
		text := sess.composer.BeginEditingCaption(which)
		respondJSON(w, http.StatusOK, map[string]string{"caption": which.String(), "text": text})
	})
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) {
		start := time.Now()
		img, err := sess.composer.Render()
		if errors.Is(err, composer.ErrInvalidState) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			s.logger.Error("render preview", zap.String("session_id", sess.id), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "render failed")
			return
		}
		s.metrics.RenderDuration.Observe(time.Since(start).Seconds())

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := png.Encode(w, img); err != nil {
			s.logger.Warn("write preview", zap.String("session_id", sess.id), zap.Error(err))
		}
	})
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) {
		start := time.Now()
		meme, err := sess.composer.Save(r.Context())
		var persistErr *composer.PersistError
		switch {
		case errors.Is(err, composer.ErrInvalidState):
			respondError(w, http.StatusConflict, err.Error())
			return
		case errors.As(err, &persistErr):
			s.metrics.SaveFailures.Inc()
			s.logger.Error("save meme", zap.String("session_id", sess.id), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "could not save meme")
			return
		case err != nil:
			s.logger.Error("render meme", zap.String("session_id", sess.id), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "render failed")
			return
		}
		s.metrics.RenderDuration.Observe(time.Since(start).Seconds())
		s.metrics.MemesSaved.Inc()

		sess.pending = &meme
		respondJSON(w, http.StatusCreated, describeMeme(meme))
	})
}

func (s *Server) share(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	s.withSession(w, r, func(sess *session) {
		if sess.composer.Phase() != composer.PhaseSharePrompt || sess.pending == nil {
			respondError(w, http.StatusConflict, "no saved meme waiting to be shared")
			return
		}
		meme := *sess.pending

		presenter := share.Never()
		if req.Confirm {
			if s.sink != nil {
				presenter = share.Always(s.sink)
			} else {
				s.logger.Warn("share confirmed but no share target configured", zap.String("session_id", sess.id))
			}
		}

		outcome, err := presenter.Present(r.Context(), meme)
		sess.composer.CompleteShareFlow()
		sess.pending = nil
		s.metrics.ShareOutcomes.WithLabelValues(outcome.String()).Inc()

		if err != nil {
			s.logger.Error("share meme", zap.String("meme_id", meme.ID), zap.Error(err))
			respondError(w, http.StatusBadGateway, "share failed: "+err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"meme_id": meme.ID, "outcome": outcome.String()})
	})
}

func (s *Server) listMemes(w http.ResponseWriter, r *http.Request) {
	records, err := s.library.List(r.Context())
	if err != nil {
		s.logger.Error("list memes", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not list memes")
		return
	}
	out := make([]memeResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, describeRecord(rec))
	}
	respondJSON(w, http.StatusOK, map[string]any{"memes": out})
}

func (s *Server) libraryError(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, library.ErrNotFound) {
		respondError(w, http.StatusNotFound, "meme not found")
		return
	}
	s.logger.Error(action, zap.Error(err))
	respondError(w, http.StatusInternalServerError, action+" failed")
}

func (s *Server) getMeme(w http.ResponseWriter, r *http.Request) {
	rec, err := s.library.Get(r.Context(), chi.URLParam(r, "memeID"))
	if err != nil {
		s.libraryError(w, err, "get meme")
		return
	}
	respondJSON(w, http.StatusOK, describeRecord(rec))
}

func (s *Server) memeImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.library.Image(r.Context(), chi.URLParam(r, "memeID"))
	if err != nil {
		s.libraryError(w, err, "load meme image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		s.logger.Warn("write meme image", zap.Error(err))
	}
}

func (s *Server) deleteMeme(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Delete(r.Context(), chi.URLParam(r, "memeID")); err != nil {
		s.libraryError(w, err, "delete meme")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
