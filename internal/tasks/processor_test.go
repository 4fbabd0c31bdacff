package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leasehub/api/internal/mail"
	"leasehub/api/internal/queue"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.sent...)
}

func TestProcessorSendsRenderedMail(t *testing.T) {
	sender := &recordingSender{}
	p := NewProcessor(sender, "LeaseHub <no-reply@x.com>", "https://app.test", zerolog.Nop())

	job := mail.Job{Kind: mail.KindVerification, To: "a@x.com", Token: "tok", QueuedAt: time.Now()}
	err := p.Handle(context.Background(), redis.XMessage{ID: "1-0", Values: job.Values()})
	require.NoError(t, err)

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@x.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "verify-email?token=tok")
}

func TestProcessorDropsMalformedJob(t *testing.T) {
	sender := &recordingSender{}
	p := NewProcessor(sender, "x", "https://app.test", zerolog.Nop())

	err := p.Handle(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{"type": "fax"}})
	assert.NoError(t, err)
	assert.Empty(t, sender.messages())
}

func TestProcessorReturnsSendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("relay down")}
	p := NewProcessor(sender, "x", "https://app.test", zerolog.Nop())

	job := mail.Job{Kind: mail.KindWelcome, To: "a@x.com", QueuedAt: time.Now()}
	err := p.Handle(context.Background(), redis.XMessage{ID: "1-0", Values: job.Values()})
	assert.Error(t, err)
}

func TestQueuedMailIsDeliveredByConsumer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sender := &recordingSender{}
	consumer := queue.NewConsumer(client, "mail:outbox", "mailers", "w1", time.Minute, zerolog.Nop(),
		NewProcessor(sender, "x", "https://app.test", zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, consumer.EnsureGroup(ctx))

	mailer := mail.NewQueueMailer(client, "mail:outbox")
	require.NoError(t, mailer.SendPasswordResetEmail(ctx, "a@x.com", "reset-tok"))

	done := make(chan error, 1)
	go func() { done <- consumer.Start(ctx) }()

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, sender.messages()[0].Body, "reset-password?token=reset-tok")

	require.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), "mail:outbox", "mailers").Result()
		return err == nil && pending.Count == 0
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
