package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass/api/schemas"
	"github.com/xkilldash9x/spyglass/internal/action"
	"github.com/xkilldash9x/spyglass/internal/session"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

// Recorder is the slice of the interaction store the handlers need. A nil
// Recorder disables history entirely.
type Recorder interface {
	Record(ctx context.Context, in schemas.Interaction) error
	Recent(ctx context.Context, sessionKey string, limit int) ([]schemas.Interaction, error)
}

// Server wires the session manager and action engine to the HTTP surface.
type Server struct {
	logger   *zap.Logger
	sessions *session.Manager
	engine   *action.Engine
	recorder Recorder
	defaults viewport.Size
}

func New(logger *zap.Logger, sessions *session.Manager, engine *action.Engine, recorder Recorder, defaults viewport.Size) *Server {
	return &Server{
		logger:   logger.Named("server"),
		sessions: sessions,
		engine:   engine,
		recorder: recorder,
		defaults: defaults,
	}
}

// Router builds the chi mux for the browse surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/render", s.handleRender)
	r.Post("/render", s.handleRender)
	r.Get("/click", s.handleClick)
	r.Post("/click", s.handleClick)
	r.Get("/scroll", s.handleScroll)
	r.Get("/type", s.handleType)
	r.Get("/history", s.handleHistory)

	return r
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	p, err := parseBrowseParams(r, s.defaults, true, false)
	if err != nil {
		writePlainError(w, err)
		return
	}
	s.performImage(w, r, p, schemas.ActionRequest{Kind: schemas.ActionRender, URL: p.URL})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	p, err := parseBrowseParams(r, s.defaults, true, true)
	if err != nil {
		if p.Mode == "hover" {
			writeJSONError(w, err)
		} else {
			writePlainError(w, err)
		}
		return
	}

	if p.Mode == "hover" {
		s.performHover(w, r, p)
		return
	}

	req := schemas.ActionRequest{
		Kind: schemas.ActionClick,
		URL:  p.URL,
		X:    p.Point.X,
		Y:    p.Point.Y,
	}
	s.performImage(w, r, p, req)
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	p, err := parseBrowseParams(r, s.defaults, false, false)
	if err != nil {
		writePlainError(w, err)
		return
	}
	req := schemas.ActionRequest{Kind: schemas.ActionScroll, URL: p.URL, DeltaY: p.DeltaY}
	s.performImage(w, r, p, req)
}

func (s *Server) handleType(w http.ResponseWriter, r *http.Request) {
	p, err := parseBrowseParams(r, s.defaults, false, false)
	if err != nil {
		writePlainError(w, err)
		return
	}
	req := schemas.ActionRequest{Kind: schemas.ActionType, URL: p.URL, Text: p.Text}
	s.performImage(w, r, p, req)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSONError(w, errors.New("interaction history is not enabled"))
		return
	}

	key := r.URL.Query().Get("session")
	if key == "" {
		key = session.DefaultKey
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	interactions, err := s.recorder.Recent(r.Context(), key, limit)
	if err != nil {
		s.logger.Error("History query failed", zap.String("session", key), zap.Error(err))
		writeJSONError(w, errors.New("history unavailable"))
		return
	}
	if interactions == nil {
		interactions = []schemas.Interaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(interactions); err != nil {
		s.logger.Warn("History encode failed", zap.Error(err))
	}
}

// performImage runs an image-producing action and writes the artifact.
func (s *Server) performImage(w http.ResponseWriter, r *http.Request, p browseParams, req schemas.ActionRequest) {
	started := time.Now()

	sess, err := s.sessions.Acquire(r.Context(), p.sessionOrDefault(), p.URL, p.Viewport)
	if err != nil {
		writePlainError(w, err)
		return
	}
	defer sess.Release()

	res, err := s.engine.Perform(r.Context(), sess, req)
	if err != nil {
		writePlainError(w, err)
		return
	}
	s.record(sess.Key(), req, time.Since(started))

	if res.Image == nil {
		writePlainError(w, schemas.ErrRenderFailed)
		return
	}
	w.Header().Set("Content-Type", res.Image.MimeType)
	if _, err := w.Write(res.Image.Data); err != nil {
		s.logger.Warn("Image write failed", zap.Error(err))
	}
}

// performHover runs the read-only probe. It responds 200 with {"tag": null}
// whenever nothing useful is under the point so pointer-tracking clients
// never see error flicker.
func (s *Server) performHover(w http.ResponseWriter, r *http.Request, p browseParams) {
	started := time.Now()
	req := schemas.ActionRequest{
		Kind: schemas.ActionHoverProbe,
		URL:  p.URL,
		X:    p.Point.X,
		Y:    p.Point.Y,
	}

	var descriptor *schemas.ElementDescriptor
	sess, err := s.sessions.Acquire(r.Context(), p.sessionOrDefault(), p.URL, p.Viewport)
	if err == nil {
		defer sess.Release()
		if res, perr := s.engine.Perform(r.Context(), sess, req); perr == nil {
			descriptor = res.Element
		}
		s.record(sess.Key(), req, time.Since(started))
	} else {
		s.logger.Warn("Hover probe could not acquire session", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	if descriptor == nil {
		w.Write([]byte(`{"tag": null}` + "\n"))
		return
	}
	if err := json.NewEncoder(w).Encode(descriptor); err != nil {
		s.logger.Warn("Descriptor encode failed", zap.Error(err))
	}
}

// record persists the interaction asynchronously. Store failures must never
// affect the response.
func (s *Server) record(sessionKey string, req schemas.ActionRequest, took time.Duration) {
	if s.recorder == nil {
		return
	}
	in := schemas.Interaction{
		SessionKey: sessionKey,
		Kind:       req.Kind,
		URL:        req.URL,
		X:          req.X,
		Y:          req.Y,
		DeltaY:     req.DeltaY,
		TextLen:    len(req.Text),
		Duration:   took.Milliseconds(),
		OccurredAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recorder.Record(ctx, in); err != nil {
			s.logger.Warn("Interaction record failed", zap.Error(err))
		}
	}()
}

func (p browseParams) sessionOrDefault() string {
	if p.SessionKey == "" {
		return session.DefaultKey
	}
	return p.SessionKey
}

func writePlainError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	if errors.Is(err, schemas.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
