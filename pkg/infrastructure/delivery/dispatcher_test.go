package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plankhq/plank/pkg/domain"
	"github.com/plankhq/plank/pkg/domain/webhook"
)

func triggeredDelivery(t *testing.T, wh *webhook.Webhook) webhook.Delivery {
	t.Helper()
	id, err := wh.Trigger(domain.NewEvent(domain.EventTaskCompleted, "board-1", map[string]string{"task_id": "t-1"}))
	require.NoError(t, err)
	dv, err := wh.Delivery(id)
	require.NoError(t, err)
	return dv
}

func TestDeliverPostsSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := webhook.NewWebhook("ci", srv.URL, "s3cret", []domain.EventType{domain.EventTaskCompleted}, 3)
	dv := triggeredDelivery(t, wh)

	d := NewDispatcher(srv.Client(), zerolog.Nop())
	code, err := d.Deliver(context.Background(), wh, dv)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, string(domain.EventTaskCompleted), gotHeaders.Get(HeaderEventType))
	assert.Equal(t, dv.EventID, gotHeaders.Get(HeaderEventID))
	assert.Equal(t, dv.ID.String(), gotHeaders.Get(HeaderDeliveryID))
	assert.True(t, Verify("s3cret", gotBody, gotHeaders.Get(HeaderSignature)))
	assert.False(t, Verify("wrong", gotBody, gotHeaders.Get(HeaderSignature)))

	var body struct {
		EventID   string          `json:"event_id"`
		EventType string          `json:"event_type"`
		Attempt   int             `json:"attempt"`
		Data      json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, dv.EventID, body.EventID)
	assert.Equal(t, 1, body.Attempt)
	assert.JSONEq(t, `{"task_id":"t-1"}`, string(body.Data))
}

func TestDeliverTreatsNon2xxAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wh := webhook.NewWebhook("ci", srv.URL, "s3cret", []domain.EventType{domain.EventTaskCompleted}, 3)
	dv := triggeredDelivery(t, wh)

	d := NewDispatcher(srv.Client(), zerolog.Nop())
	code, err := d.Deliver(context.Background(), wh, dv)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestDeliverReportsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	wh := webhook.NewWebhook("ci", srv.URL, "s3cret", []domain.EventType{domain.EventTaskCompleted}, 3)
	dv := triggeredDelivery(t, wh)

	d := NewDispatcher(nil, zerolog.Nop())
	code, err := d.Deliver(context.Background(), wh, dv)
	require.Error(t, err)
	assert.Zero(t, code)
}

func TestSignStable(t *testing.T) {
	sig := Sign("secret", []byte(`{"a":1}`))
	assert.Equal(t, sig, Sign("secret", []byte(`{"a":1}`)))
	assert.NotEqual(t, sig, Sign("secret", []byte(`{"a":2}`)))
	assert.Contains(t, sig, "sha256=")
}
