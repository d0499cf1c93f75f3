package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"deployhook/internal/auth"
	"deployhook/internal/security"
	"deployhook/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const MaxPayloadBytes = 1_000_000 // 1 MB

// HandleWebhook acknowledges a provider notification and passes it to the
// worker. Only malformed requests get an error status; authentication and
// resolution failures are logged after the 202 has been sent.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")
	if appName == "" {
		appName = r.URL.Query().Get("app")
	}

	if err := security.ValidateAppName(appName); err != nil {
		s.Logger.Warn("invalid app name in webhook request", "app", appName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid app name: %v", err)})
		return
	}

	// ContentLength is -1 when unknown; the limited read below catches those.
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("failed to read request body", "error", err, "app", appName)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read payload"})
		return
	}
	if len(body) > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	s.handling.Add(1)
	defer s.handling.Done()

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Notification accepted",
		"app":     appName,
	})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	req := &auth.Request{
		Header:   r.Header.Clone(),
		Body:     body,
		RemoteIP: r.RemoteAddr,
	}
	ctx := context.WithoutCancel(r.Context())
	logger := s.Logger.With("app", appName, "http_request_id", middleware.GetReqID(r.Context()))

	dr, err := s.Worker.HandleRequest(ctx, appName, req)
	if err != nil {
		var authErr *auth.Error
		switch {
		case errors.As(err, &authErr):
			logger.Warn("notification rejected", "provider", authErr.Provider, "reason", authErr.Reason, "remote_ip", r.RemoteAddr)
		case errors.Is(err, worker.ErrUnknownApp), errors.Is(err, worker.ErrUnknownTarget):
			logger.Warn("notification dropped", "error", err)
		default:
			logger.Error("notification failed", "error", err)
		}
		return
	}
	logger.Debug("notification queued", "request_id", dr.ID, "target", dr.Target)
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	names := s.Worker.AppNames()
	state := s.Worker.QueueState()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"apps":      names,
		"app_count": len(names),
		"queue": map[string]interface{}{
			"pending":     state.Pending,
			"active":      state.Active,
			"last_id":     state.LastID,
			"last_target": state.LastTarget,
		},
	})
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("failed to encode JSON response", "error", err)
	}
}
