package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/markdave123-py/Structa/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Structa/internal/api/middlewares"
	"github.com/markdave123-py/Structa/internal/logger"
)

// requestTimeout bounds a whole HTTP request. Extraction with hi_res and
// retries can take several minutes.
const requestTimeout = 15 * time.Minute

type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

// NewServer exposes the pipeline over HTTP. converter may be nil, in which
// case the JSON-LD route is not mounted; the run routes need a ledger.
func NewServer(a *App, converter handlers.Converter) *Server {
	cfg := a.Config

	extractHandler := handlers.NewExtractHandler(a.Pipeline, handlers.DefaultMaxUpload)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", handlers.Health)

	r.Route("/api", func(api chi.Router) {
		if cfg.JWTSecret != "" {
			api.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
		} else {
			a.Log.Warn("JWT_SECRET not set, API is unauthenticated")
		}

		api.Post("/extract", extractHandler.Extract)

		if converter != nil {
			jsonldHandler := handlers.NewJSONLDHandler(converter, a.Writer)
			api.Post("/jsonld", jsonldHandler.Convert)
		}

		if a.Runs != nil {
			runsHandler := handlers.NewRunsHandler(a.Runs)
			api.Get("/runs", runsHandler.ListRuns)
			api.Get("/runs/{id}", runsHandler.GetRun)
		}
	})

	var handler http.Handler = r
	if cfg.Telemetry {
		handler = otelhttp.NewHandler(r, "structa")
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, log: a.Log}
}

// Handler is the root handler, exposed for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks until the server stops. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
