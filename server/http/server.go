// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http exposes an administrative REST API over the relay: publishing
// without a WebSocket connection, stats, active topics and client cleanup.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/relaymq/relay"
	"github.com/absmach/relaymq/storage"
)

// originHTTP is the publishing origin recorded for messages injected through
// this API. It is not a registered client, so no activity is tracked for it.
const originHTTP = "http"

type Config struct {
	Address         string
	ShutdownTimeout time.Duration

	// Default sweep age for POST /cleanup requests that omit max_idle.
	MaxIdle time.Duration
}

type Server struct {
	config Config
	relay  *relay.Relay
	logger *slog.Logger
	server *http.Server
}

func New(cfg Config, r *relay.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		relay:  r,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/publish", s.handlePublish)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/topics", s.handleTopics)
	mux.HandleFunc("/cleanup", s.handleCleanup)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("http_api_starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("http_api_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http_api_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("http_api_stopped")
		return nil
	}
}

type publishRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("http_publish_invalid_request", slog.String("error", err.Error()))
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}

	if req.QoS > 2 {
		http.Error(w, "qos must be 0, 1, or 2", http.StatusBadRequest)
		return
	}

	msg := &storage.Message{
		Topic:   req.Topic,
		Payload: req.Payload,
		QoS:     req.QoS,
		Retain:  req.Retain,
	}

	s.logger.Debug("http_publish",
		slog.String("topic", req.Topic),
		slog.Int("qos", int(req.QoS)),
		slog.Int("payload_size", len(req.Payload)))

	if err := s.relay.Publish(r.Context(), originHTTP, msg); err != nil {
		s.logger.Warn("http_publish_rejected", slog.String("error", err.Error()))
		http.Error(w, fmt.Sprintf("publish failed: %v", err), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.relay.Stats(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	topics, err := s.relay.ListActiveTopics(r.Context())
	if err != nil {
		s.logger.Error("http_topics_failed", slog.String("error", err.Error()))
		http.Error(w, "failed to list topics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"topics": topics,
		"count":  len(topics),
	})
}

type cleanupRequest struct {
	MaxIdle string `json:"max_idle"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	maxIdle := s.config.MaxIdle

	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.MaxIdle != "" {
		d, err := time.ParseDuration(req.MaxIdle)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid max_idle: %v", err), http.StatusBadRequest)
			return
		}
		maxIdle = d
	}

	if maxIdle <= 0 {
		http.Error(w, "max_idle must be positive", http.StatusBadRequest)
		return
	}

	removed := s.relay.Cleanup(maxIdle)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}
