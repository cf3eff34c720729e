package app

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// DefaultRetrySchedule scans for due retries every minute.
const DefaultRetrySchedule = "* * * * *"

// RetryPoller periodically invokes the webhook retry flow. Retry timing is
// passive in the aggregate (a nextRetryAt timestamp); this poller is the
// external scheduler that acts on it when due.
type RetryPoller struct {
	svc      *WebhookService
	schedule string
	gron     *gronx.Gronx
	log      zerolog.Logger
}

// NewRetryPoller creates a poller. schedule must be a valid cron expression;
// empty selects DefaultRetrySchedule.
func NewRetryPoller(svc *WebhookService, schedule string, log zerolog.Logger) (*RetryPoller, error) {
	if schedule == "" {
		schedule = DefaultRetrySchedule
	}
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid retry poller schedule %q", schedule)
	}
	return &RetryPoller{svc: svc, schedule: schedule, gron: gron, log: log}, nil
}

// Run polls until ctx is done.
func (p *RetryPoller) Run(ctx context.Context) {
	p.log.Info().Str("schedule", p.schedule).Msg("webhook retry poller started")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("webhook retry poller stopped")
			return
		case <-ticker.C:
			due, err := p.gron.IsDue(p.schedule)
			if err != nil || !due {
				continue
			}
			if err := p.svc.RetryDue(ctx, time.Now()); err != nil {
				p.log.Warn().Err(err).Msg("retry scan failed")
			}
		}
	}
}
