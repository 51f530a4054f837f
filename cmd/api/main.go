package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/app"
	"github.com/ariefcatur/marketplace-fulfillment/internal/config"
	"github.com/ariefcatur/marketplace-fulfillment/internal/delivery"
	"github.com/ariefcatur/marketplace-fulfillment/internal/httpx"
	"github.com/ariefcatur/marketplace-fulfillment/internal/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("wire services", zap.Error(err))
	}
	defer a.Close()

	router := httpx.NewRouter(logger)
	oh := &httpx.OrdersHandler{Orders: a.Orders}
	if a.StatusCache != nil {
		oh.Status = a.StatusCache
	}
	oh.Register(router)
	(&httpx.DeliveryHandler{
		Bridge:        a.Bridge,
		Webhooks:      delivery.NewConsumer(a.Bridge, a.Deduper(cfg.ServiceName+"-webhook"), logger),
		WebhookSecret: cfg.Carrier.WebhookSecret,
	}).Register(router)
	(&httpx.InventoryHandler{Store: a.Store}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
