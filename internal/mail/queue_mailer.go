package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueMailer hands mail to the worker through a redis stream.
type QueueMailer struct {
	client redis.Cmdable
	stream string
	maxLen int64
	now    func() time.Time
}

func NewQueueMailer(client redis.Cmdable, stream string) *QueueMailer {
	return &QueueMailer{
		client: client,
		stream: stream,
		maxLen: 100000,
		now:    time.Now,
	}
}

func (m *QueueMailer) enqueue(ctx context.Context, job Job) error {
	job.QueuedAt = m.now()
	if err := job.Validate(); err != nil {
		return err
	}
	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: job.Values(),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s mail: %w", job.Kind, err)
	}
	return nil
}

func (m *QueueMailer) SendVerificationEmail(ctx context.Context, to, token string) error {
	return m.enqueue(ctx, Job{Kind: KindVerification, To: to, Token: token})
}

func (m *QueueMailer) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	return m.enqueue(ctx, Job{Kind: KindPasswordReset, To: to, Token: token})
}

func (m *QueueMailer) SendWelcomeEmail(ctx context.Context, to string) error {
	return m.enqueue(ctx, Job{Kind: KindWelcome, To: to})
}

func (m *QueueMailer) SendAccountUpdateNotification(ctx context.Context, to, change string) error {
	return m.enqueue(ctx, Job{Kind: KindAccountUpdate, To: to, Change: change})
}
