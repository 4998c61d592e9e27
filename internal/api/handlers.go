// Package api provides HTTP handlers for CoachFlow endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coachflow/coachflow/internal/models"
)

// webhookHandler receives ManyChat webhook calls. It verifies the shared
// secret, enqueues the message for debounced processing, and acks
// immediately. The reply goes out later through the transport.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if s.webhookSecret != "" && r.Header.Get(WebhookSecretHeader) != s.webhookSecret {
		slog.Warn("Server.webhookHandler: webhook secret mismatch", "remoteAddr", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := s.inbound.EnqueueInbound(payload); err != nil {
		slog.Warn("Server.webhookHandler: failed to enqueue message", "error", err, "subscriberID", payload.SubscriberID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	slog.Debug("Server.webhookHandler: message accepted", "subscriberID", payload.SubscriberID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message received", nil))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

// subscribersHandler lists all subscribers, or looks one up by Instagram
// username when ?ig_username= is given.
func (s *Server) subscribersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if username := r.URL.Query().Get("ig_username"); username != "" {
		sub, err := s.store.GetSubscriberByIGUsername(username)
		if err != nil {
			slog.Error("Server.subscribersHandler: username lookup failed", "error", err, "igUsername", username)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up subscriber"))
			return
		}
		if sub == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Subscriber not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(sub))
		return
	}

	subs, err := s.store.ListSubscribers()
	if err != nil {
		slog.Error("Server.subscribersHandler: failed to list subscribers", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list subscribers"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(subs))
}

// subscriberHandler returns one subscriber by id.
func (s *Server) subscriberHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/subscribers/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Subscriber id required"))
		return
	}

	sub, err := s.store.GetSubscriber(id)
	if err != nil {
		slog.Error("Server.subscriberHandler: failed to load subscriber", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load subscriber"))
		return
	}
	if sub == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Subscriber not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sub))
}

// subscriberStats is one row of the /stats payload.
type subscriberStats struct {
	SubscriberID     string  `json:"subscriber_id"`
	IGUsername       string  `json:"ig_username,omitempty"`
	TurnCount        int     `json:"turn_count"`
	AvgMessageLength float64 `json:"avg_message_length"`
}

// statsHandler reports per-subscriber conversation volume.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	subs, err := s.store.ListSubscribers()
	if err != nil {
		slog.Error("Server.statsHandler: failed to list subscribers", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute stats"))
		return
	}

	stats := make([]subscriberStats, 0, len(subs))
	for _, sub := range subs {
		history, err := s.store.GetConversationHistory(sub.ID, 0)
		if err != nil {
			slog.Error("Server.statsHandler: failed to load history", "error", err, "subscriberID", sub.ID)
			continue
		}
		row := subscriberStats{SubscriberID: sub.ID, IGUsername: sub.IGUsername, TurnCount: len(history)}
		if len(history) > 0 {
			total := 0
			for _, turn := range history {
				total += len(turn.Text)
			}
			row.AvgMessageLength = float64(total) / float64(len(history))
		}
		stats = append(stats, row)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// hooksHandler lists subscribers with active pending-flow hooks.
func (s *Server) hooksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.respHandler == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Response handler not enabled"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.respHandler.ListRegisteredSubscribers()))
}

// reviewHandler builds a check-in review for one subscriber on demand.
func (s *Server) reviewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.reviews == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Reviews not enabled"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/reviews/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Subscriber id required"))
		return
	}

	sub, err := s.store.GetSubscriber(id)
	if err != nil {
		slog.Error("Server.reviewHandler: failed to load subscriber", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load subscriber"))
		return
	}
	if sub == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Subscriber not found"))
		return
	}

	review, err := s.reviews.Build(r.Context(), id)
	if err != nil {
		slog.Error("Server.reviewHandler: review build failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build review"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(review))
}

// todosHandler lists open coach to-do items.
func (s *Server) todosHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := models.TodoStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.TodoStatusOpen
	}
	todos, err := s.store.ListTodos(status)
	if err != nil {
		slog.Error("Server.todosHandler: failed to list todos", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list todos"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(todos))
}

// timersHandler lists active timers.
func (s *Server) timersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.timer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Timers not enabled"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.timer.ListActive()))
}

// timerHandler serves GET and DELETE for one timer.
func (s *Server) timerHandler(w http.ResponseWriter, r *http.Request) {
	if s.timer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Timers not enabled"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/timers/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Timer id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		info, err := s.timer.GetTimer(id)
		if err != nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Timer not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(info))
	case http.MethodDelete:
		if err := s.timer.Cancel(id); err != nil {
			slog.Error("Server.timerHandler: failed to cancel timer", "error", err, "id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cancel timer"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Timer cancelled", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
