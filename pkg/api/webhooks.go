// Webhook API endpoints — subscription management.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/webhook"
)

// webhookView is the wire shape of a webhook subscription. The signing
// secret never leaves the server.
type webhookView struct {
	ID                  domain.EntityID    `json:"id"`
	Version             int64              `json:"version"`
	Name                string             `json:"name"`
	URL                 string             `json:"url"`
	Status              webhook.Status     `json:"status"`
	EventTypes          []domain.EventType `json:"event_types,omitempty"`
	MaxRetries          int                `json:"max_retries"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	TotalSuccesses      int64              `json:"total_successes"`
	TotalFailures       int64              `json:"total_failures"`
	Deliveries          []webhook.Delivery `json:"deliveries,omitempty"`
}

func viewWebhook(w *webhook.Webhook, includeDeliveries bool) webhookView {
	v := webhookView{
		ID:                  w.ID(),
		Version:             w.Version(),
		Name:                w.Name,
		URL:                 w.URL,
		Status:              w.Status,
		EventTypes:          w.EventTypes,
		MaxRetries:          w.MaxRetries,
		ConsecutiveFailures: w.ConsecutiveFailures,
		TotalSuccesses:      w.TotalSuccesses,
		TotalFailures:       w.TotalFailures,
	}
	if includeDeliveries {
		v.Deliveries = w.Deliveries()
	}
	return v
}

// POST /api/webhooks
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string             `json:"name"`
		URL              string             `json:"url"`
		Secret           string             `json:"secret"`
		EventTypes       []domain.EventType `json:"event_types"`
		MaxRetries       int                `json:"max_retries"`
		SuspendThreshold int                `json:"suspend_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and url required"})
		return
	}

	wh, err := s.container.WebhookService.Register(r.Context(),
		req.Name, req.URL, req.Secret, req.EventTypes, req.MaxRetries, req.SuspendThreshold)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, viewWebhook(wh, false))
}

// GET /api/webhooks
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.container.WebhookService.Webhooks(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	views := make([]webhookView, 0, len(hooks))
	for _, wh := range hooks {
		views = append(views, viewWebhook(wh, r.URL.Query().Get("deliveries") == "true"))
	}
	writeJSON(w, http.StatusOK, views)
}
