package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leasehub/api/internal/mail"
)

// Processor turns queued mail jobs into delivered messages.
type Processor struct {
	sender     mail.Sender
	from       string
	appBaseURL string
	logger     zerolog.Logger
}

func NewProcessor(sender mail.Sender, from, appBaseURL string, logger zerolog.Logger) *Processor {
	return &Processor{
		sender:     sender,
		from:       from,
		appBaseURL: appBaseURL,
		logger:     logger,
	}
}

// Handle returns nil for jobs that can never succeed so that they are acked
// instead of being retried forever.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	job, err := mail.DecodeJob(msg.Values)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed mail job")
		return nil
	}

	rendered, err := mail.Render(job, p.from, p.appBaseURL)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping unrenderable mail job")
		return nil
	}

	if err := p.sender.Send(ctx, rendered); err != nil {
		return fmt.Errorf("send %s mail: %w", job.Kind, err)
	}

	p.logger.Info().
		Str("message_id", msg.ID).
		Str("type", string(job.Kind)).
		Dur("queued_for", time.Since(job.QueuedAt)).
		Msg("mail delivered")
	return nil
}
