package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/app"
	"github.com/ariefcatur/marketplace-fulfillment/internal/config"
	"github.com/ariefcatur/marketplace-fulfillment/internal/delivery"
	kafkax "github.com/ariefcatur/marketplace-fulfillment/internal/kafka"
	"github.com/ariefcatur/marketplace-fulfillment/internal/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-carrier-consumer")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.StoreDriver == app.DriverMemory {
		logger.Fatal("carrier consumer needs a shared store; memory driver is not supported")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("wire services", zap.Error(err))
	}
	defer a.Close()

	cc := cfg.Consumer
	handler := delivery.NewConsumer(a.Bridge, a.Deduper(cc.Group), logger)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cc.Group, cc.Topic, cc.Workers, logger)

	logger.Info("carrier consumer started",
		zap.String("group", cc.Group), zap.String("topic", cc.Topic), zap.Int("workers", cc.Workers))
	if err := cons.Start(ctx, handler.HandleCarrierMessage); err != nil && ctx.Err() == nil {
		logger.Error("consumer exit", zap.Error(err))
	}
	logger.Info("shutting down")
}
