package app

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRetryPollerDefaultsSchedule(t *testing.T) {
	svc, _ := newWebhookFixture(t, nil)

	p, err := NewRetryPoller(svc, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultRetrySchedule, p.schedule)
}

func TestNewRetryPollerRejectsBadSchedule(t *testing.T) {
	svc, _ := newWebhookFixture(t, nil)

	_, err := NewRetryPoller(svc, "not-a-cron", zerolog.Nop())
	require.Error(t, err)
}
