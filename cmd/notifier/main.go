// cmd/notifier consumes settlement side-effect events from RabbitMQ and
// dispatches guest/host notifications. It runs separately from the API so
// a notification backlog can never slow down reconciliation.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/stayhaven/booking-engine/internal/config"
	"github.com/stayhaven/booking-engine/internal/notify"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := notify.NewConsumer(cfg.AMQPURL, cfg.EventExchange, cfg.NotifyQueue, []string{
		"booking.confirmed",
		"booking.expired",
		"booking.cancelled",
		"booking.late_settlement",
		"payment.failed",
	})
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer consumer.Close()
	log.Info("connected to RabbitMQ")

	worker := notify.NewWorker(consumer, &notify.LogNotifier{Log: log}, log)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("worker: %v", err)
	}
	log.Info("notifier stopped")
}
