package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"flow-agent/internal/config"
	"flow-agent/internal/entity"
	"flow-agent/internal/ports"
	"flow-agent/pkg/logg"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const serverLayer = "HTTPServer"

// Server exposes the generation pipeline over HTTP. One generation runs
// at a time; the mutex on the generator side is the browser itself, so
// requests are simply serialized by the long-running handler.
type Server struct {
	config    *config.Config
	logger    *zap.Logger
	generator ports.VideoGenerator
	sessions  ports.SessionManager
}

type Params struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Generator ports.VideoGenerator
	Sessions  ports.SessionManager
}

func New(params Params) *Server {
	return &Server{
		config:    params.Config,
		logger:    params.Logger.With(zap.String(logg.Layer, serverLayer)),
		generator: params.Generator,
		sessions:  params.Sessions,
	}
}

func (s *Server) Router() http.Handler {
	requestLogger := httplog.NewLogger("flow-agent", httplog.Options{
		JSON:    true,
		Concise: true,
	})

	router := chi.NewRouter()
	router.Use(httplog.RequestLogger(requestLogger))
	router.Use(middleware.Recoverer)

	router.Get("/", s.handleIndex)
	router.Get("/api/health", s.handleHealth)

	router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/api/generate", s.handleGenerate)
	})

	return router
}

// authMiddleware compares the X-API-Key header in constant time. An empty
// configured key disables authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.config.ServerConfig.APIKey
		if key == "" {
			next.ServeHTTP(w, r)

			return
		}

		got := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")

			return
		}

		next.ServeHTTP(w, r)
	})
}

type generateResponse struct {
	RequestID string                        `json:"requestId"`
	Result    *entity.VideoGenerationResult `json:"result"`
	Progress  []string                      `json:"progress"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	const op = "handleGenerate"
	logger := s.logger.With(zap.String(logg.Operation, op))

	var req entity.VideoGenerationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body is not valid JSON")

		return
	}

	// Prompt presence is the one precondition checked before the browser
	// gets involved; everything else degrades inside the pipeline.
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, entity.ErrEmptyPrompt.Error())

		return
	}

	if err := req.Normalize(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	gen := entity.NewGeneration(&req)
	logger = logger.With(zap.String(logg.RequestID, gen.ID.String()))
	logger.Info("Generation request accepted",
		zap.String("mode", string(req.Mode)),
		zap.Int("outputs", req.OutputsCount))

	var progress []string

	report := func(status string) {
		progress = append(progress, status)
		logger.Info("Progress", zap.String(logg.Status, status))
	}

	result := s.generator.Generate(r.Context(), &req, report)
	gen.Finish(result)

	s.writeJSON(w, http.StatusOK, generateResponse{
		RequestID: gen.ID.String(),
		Result:    result,
		Progress:  progress,
	})
}

type healthResponse struct {
	Status           string `json:"status"`
	BrowserReachable bool   `json:"browserReachable"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		BrowserReachable: s.sessions.Probe(r.Context()),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "flow-agent",
		"endpoints": map[string]string{
			"POST /api/generate": "run a video generation request",
			"GET /api/health":    "service and browser reachability",
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
