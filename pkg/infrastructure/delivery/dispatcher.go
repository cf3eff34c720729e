// Package delivery performs the actual outbound webhook HTTP calls. It is an
// infrastructure adapter: the state machine deciding whether and when to
// deliver lives in the webhook aggregate.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/webhook"
)

// Header names sent with every delivery.
const (
	HeaderEventType  = "X-Plank-Event"
	HeaderEventID    = "X-Plank-Event-Id"
	HeaderDeliveryID = "X-Plank-Delivery"
	HeaderSignature  = "X-Plank-Signature"
)

// Dispatcher POSTs event payloads to webhook endpoints, signing each body
// with the webhook's secret so receivers can authenticate the sender.
type Dispatcher struct {
	client *http.Client
	log    zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil client gets a 10s-timeout default.
func NewDispatcher(client *http.Client, log zerolog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{client: client, log: log}
}

// payload is the wire shape of a delivered event.
type payload struct {
	EventID    string           `json:"event_id"`
	EventType  domain.EventType `json:"event_type"`
	DeliveryID domain.EntityID  `json:"delivery_id"`
	Attempt    int              `json:"attempt"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

// Deliver sends one delivery attempt. It returns the HTTP status code and a
// non-nil error when the attempt should be recorded as failed (transport
// error or non-2xx response).
func (d *Dispatcher) Deliver(ctx context.Context, wh *webhook.Webhook, dv webhook.Delivery) (int, error) {
	body, err := json.Marshal(payload{
		EventID:    dv.EventID,
		EventType:  dv.EventType,
		DeliveryID: dv.ID,
		Attempt:    dv.Attempt,
		Data:       dv.Payload,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, string(dv.EventType))
	req.Header.Set(HeaderEventID, dv.EventID)
	req.Header.Set(HeaderDeliveryID, dv.ID.String())
	req.Header.Set(HeaderSignature, Sign(wh.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver to %s: %w", wh.URL, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("deliver to %s: endpoint returned %d", wh.URL, resp.StatusCode)
	}
	d.log.Debug().
		Str("webhook", wh.Name).
		Str("delivery_id", dv.ID.String()).
		Int("attempt", dv.Attempt).
		Int("status", resp.StatusCode).
		Msg("webhook delivered")
	return resp.StatusCode, nil
}

// Sign computes the hex HMAC-SHA256 of body under secret, prefixed with the
// scheme so the algorithm can evolve.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the body, in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
