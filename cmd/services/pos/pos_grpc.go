package main

import (
	"context"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"clubhouse-system/config"
	"clubhouse-system/internal/app"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// The reconciliation worker pulls POS stock levels on a ticker and exposes
// a gRPC health service the gateway polls.
func main() {
	cfg := config.LoadConfig()

	a, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	s := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	reflection.Register(s)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		log.Printf("POS reconciliation worker listening on %s", cfg.GRPC.Addr)
		return s.Serve(lis)
	})
	g.Go(func() error {
		pullStockLoop(ctx, a, cfg.Worker.StockPullInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		healthServer.Shutdown()
		s.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Worker stopped: %v", err)
	}
	log.Println("POS reconciliation worker stopped")
}

func pullStockLoop(ctx context.Context, a *app.App, interval time.Duration) {
	if interval <= 0 {
		log.Println("[worker] stock pull disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runCtx, cancel := context.WithTimeout(ctx, interval)
		updated, err := a.Inventory.PullStock(runCtx)
		cancel()
		if err != nil {
			log.Printf("[worker] stock pull failed: %v", err)
		} else {
			log.Printf("[worker] stock pull updated %d menu items", updated)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
