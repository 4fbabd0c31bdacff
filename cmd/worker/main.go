package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"leasehub/api/internal/cache"
	"leasehub/api/internal/config"
	"leasehub/api/internal/log"
	"leasehub/api/internal/mail"
	"leasehub/api/internal/queue"
	"leasehub/api/internal/tasks"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "worker")

	client, err := cache.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	var sender mail.Sender
	if cfg.Mail.SMTPHost != "" {
		sender = mail.NewSMTPSender(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUser, cfg.Mail.SMTPPassword)
	} else {
		// LoadWorker refuses this in production.
		logger.Warn().Msg("no smtp host configured; mail is logged instead of sent")
		sender = mail.NewLogSender(log.Component(logger, "mail"))
	}

	processor := tasks.NewProcessor(sender, cfg.Mail.From, cfg.Mail.AppBaseURL, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Mail.Stream,
		cfg.Mail.Group,
		cfg.Mail.Consumer,
		cfg.Mail.ClaimInterval,
		logger,
		processor,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
