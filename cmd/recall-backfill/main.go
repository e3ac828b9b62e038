// Command recall-backfill embeds memory records that were persisted while
// the embedding provider was unavailable, then exits.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/engine"
)

var timeout = flag.Duration("timeout", 10*time.Minute, "Abort the backfill after this long")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer func() { _ = eng.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	n, err := eng.Backfill(ctx)
	if err != nil {
		log.Fatalf("Backfill stopped after %d records: %v", n, err)
	}
	log.Printf("Backfill complete: %d records embedded", n)
}
