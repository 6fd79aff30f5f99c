package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatpush/internal/models"
	"chatpush/internal/service"
	"chatpush/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const signatureHeader = "X-Webhook-Signature"

// StatsCounter exposes queue depth counters for the stats endpoint.
type StatsCounter interface {
	CountOverdueRetries(ctx context.Context, now time.Time, threshold time.Duration) (int, error)
	CountFailures(ctx context.Context) (int, error)
}

type Server struct {
	router       *mux.Router
	logger       *logrus.Logger
	cfg          *models.Config
	notifService service.NotificationService
	stats        StatsCounter
	server       *http.Server
}

// messageCreatedEvent is the payload posted by the chat backend when a
// message row has been written.
type messageCreatedEvent struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

func NewServer(cfg *models.Config, notifService service.NotificationService, stats StatsCounter, logger *logrus.Logger) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		logger:       logger,
		cfg:          cfg,
		notifService: notifService,
		stats:        stats,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)

	events := s.router.PathPrefix("/events").Subrouter()
	events.HandleFunc("/message", s.handleMessageCreated()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler implementations
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		overdue, err := s.stats.CountOverdueRetries(ctx, time.Now(), time.Duration(s.cfg.Sweep.OverdueThresholdSec)*time.Second)
		if err != nil {
			s.logger.WithError(err).Error("Failed to count overdue retries")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		failures, err := s.stats.CountFailures(ctx)
		if err != nil {
			s.logger.WithError(err).Error("Failed to count archived failures")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		if err := json.NewEncoder(w).Encode(map[string]int{
			"overdue_retries":   overdue,
			"archived_failures": failures,
		}); err != nil {
			s.logger.WithError(err).Error("Failed to encode stats response")
		}
	}
}

func (s *Server) handleMessageCreated() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := verifySignature(r, s.cfg.Server.WebhookSecret, signatureHeader)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected message event")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var event messageCreatedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			s.logger.WithError(err).Warn("Malformed message event payload")
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		if event.MessageID == "" || event.ChatID == "" {
			http.Error(w, "message_id and chat_id are required", http.StatusBadRequest)
			return
		}

		if err := s.notifService.HandleMessageCreated(ctx, event.MessageID, event.ChatID); err != nil {
			tracing.RecordError(ctx, err)
			s.logger.WithFields(logrus.Fields{
				"messageId": event.MessageID,
				"chatId":    event.ChatID,
			}).WithError(err).Error("Failed to handle message event")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
