package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"clubhouse-system/config"
	"clubhouse-system/internal/app"
)

// backfill pushes delivered orders that never reached the POS and settles
// their pending cash collections, then exits.
func main() {
	cfg := config.LoadConfig()
	limit := flag.Int("limit", cfg.Worker.BackfillLimit, "maximum orders to process")
	flag.Parse()

	a, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.Settlement.Backfill(ctx, *limit)
	if err != nil {
		log.Printf("Backfill stopped early: %v", err)
	}
	if report != nil {
		log.Printf("Backfill done: %d succeeded, %d failed, %d skipped",
			report.Succeeded, report.Failed, report.Skipped)
		for _, e := range report.Errors {
			log.Printf("  %s", e)
		}
	}
}
