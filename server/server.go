package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xalostore/signd/config"
	"github.com/xalostore/signd/internal/httperror"
	"github.com/xalostore/signd/internal/zhttp"
	"github.com/xalostore/signd/pkg/pipeline"
	"github.com/xalostore/signd/pkg/store"
)

type Server struct {
	Config   *config.Config
	Store    *store.Store
	Pipeline *pipeline.Pipeline
}

func New(cfg *config.Config, st *store.Store, pipe *pipeline.Pipeline) *Server {
	return &Server{Config: cfg, Store: st, Pipeline: pipe}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(zhttp.LoggingMiddleware)
	r.Use(zhttp.RecoveryMiddleware)
	r.Get("/health", s.serveHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/api/credentials", handleFunc(s.serveUploadCredential))
	r.Post("/api/sign", handleFunc(s.serveSign))
	r.Handle("/signed/*", http.StripPrefix("/signed/",
		http.FileServer(http.Dir(s.Config.PublishDir))))
	return r
}

func (s *Server) serveHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("OK"))
}

type viewFunc func(req *http.Request) (interface{}, error)

// handleFunc renders a view's result as JSON, or maps its error onto a
// problem response.
func handleFunc(view viewFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		result, err := view(req)
		if err != nil {
			var problem *httperror.Problem
			if !errors.As(err, &problem) {
				problem = httperror.FromError(err)
			}
			if problem.HTTPStatus >= http.StatusInternalServerError {
				zerolog.Ctx(req.Context()).Error().Err(err).Msg("request failed")
			} else {
				zerolog.Ctx(req.Context()).Warn().Str("reason", problem.Reason).Msg("request rejected")
			}
			problem.ServeHTTP(rw, req)
			return
		}
		blob, err := json.Marshal(result)
		if err != nil {
			http.Error(rw, "internal server error", http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write(blob)
	}
}
