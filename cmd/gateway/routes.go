package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"clubhouse-system/config"
	"clubhouse-system/internal/app"
	"clubhouse-system/internal/gateway"
	"clubhouse-system/internal/gateway/clients"
	"clubhouse-system/internal/gateway/handlers"
	"clubhouse-system/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	utils.SetSecret(cfg.Auth.JWTSecret)

	a, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	worker, err := clients.NewWorkerClient(cfg.GRPC.WorkerAddr)
	if err != nil {
		log.Printf("Warning: reconciliation worker health unavailable: %v", err)
	}
	defer worker.Close()

	r := gateway.NewRouter(gateway.Deps{
		Orders:    handlers.NewOrdersHTTPHandler(a.Orders, a.Settlement),
		Webhooks:  handlers.NewWebhookHTTPHandler(a.Payments),
		Admin:     handlers.NewAdminHTTPHandler(a.POS, a.Catalog, a.Inventory, a.Settlement, cfg.Worker.BackfillLimit),
		RateLimit: cfg.HTTP.RateLimit,
		Worker:    worker,
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting server on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
