// Package api serves the HTTP surface: the board socket endpoint, the
// JSON resource routes for boards and share links, health and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/openboard/openboard/auth"
	"github.com/openboard/openboard/collab"
	"github.com/openboard/openboard/db"
	"github.com/openboard/openboard/runtime"
)

var log = logrus.WithField("prefix", "api")

var _ runtime.Service = (*Server)(nil)

// Config options for the HTTP server.
type Config struct {
	HTTPAddr          string
	AllowedOrigins    []string
	Oracle            *auth.Oracle
	Database          db.Database
	Collab            *collab.Server
	DisableMonitoring bool
}

// Server is the HTTP service fronting the collaboration core.
type Server struct {
	cfg          *Config
	ctx          context.Context
	cancel       context.CancelFunc
	server       *http.Server
	startFailure error
}

// New builds the router and the HTTP server around it.
func New(ctx context.Context, cfg *Config) *Server {
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws/{board_id}", cfg.Collab.SocketHandler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	if !cfg.DisableMonitoring {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(s.authMiddleware)
	apiRouter.HandleFunc("/boards", s.createBoardHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/boards", s.listBoardsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/boards/{board_id}", s.getBoardHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/boards/{board_id}", s.renameBoardHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/boards/{board_id}", s.deleteBoardHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/boards/{board_id}/share", s.createShareLinkHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/boards/{board_id}/share", s.listShareLinksHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/boards/{board_id}/share/{link_id}", s.deleteShareLinkHandler).Methods(http.MethodDelete)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	s.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: time.Second,
	}
	return s
}

// Start the HTTP listener.
func (s *Server) Start() {
	log.WithField("address", s.cfg.HTTPAddr).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		log.WithError(err).Error("Failed to start HTTP server")
		s.startFailure = err
	}
}

// Stop shuts the listener down, draining in-flight requests briefly.
func (s *Server) Stop() error {
	defer s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Status reports listener health.
func (s *Server) Status() error {
	if s.startFailure != nil {
		return errors.Wrap(s.startFailure, "http server failed to start")
	}
	return nil
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"rooms":  s.cfg.Collab.Manager().RoomCount(),
	})
}
