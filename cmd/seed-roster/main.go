// Package main provides a CLI tool that seeds gladiators, pending matches and
// matchmaking queue entries from a roster YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/cory-johannsen/gladiator/internal/config"
	"github.com/cory-johannsen/gladiator/internal/queue"
	"github.com/cory-johannsen/gladiator/internal/roster"
	"github.com/cory-johannsen/gladiator/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	rosterPath := flag.String("roster", "", "roster YAML file (required)")
	skipQueue := flag.Bool("skip-queue", false, "do not enqueue the roster's queue entries")
	flag.Parse()

	if *rosterPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	r, err := roster.Load(*rosterPath)
	if err != nil {
		log.Fatalf("loading roster: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	sink := roster.RepositorySink{
		Gladiators: postgres.NewGladiatorRepository(pool.DB()),
		Matches:    postgres.NewMatchRepository(pool.DB()),
	}

	var q roster.Enqueuer
	if cfg.Redis.Addr != "" && !*skipQueue {
		rdb := queue.NewClient(cfg.Redis)
		defer rdb.Close()
		q = queue.New(rdb, cfg.Redis.KeyPrefix)
	}

	sum, err := roster.Apply(ctx, r, sink, q, time.Now().UTC())
	if err != nil {
		log.Fatalf("seeding roster: %v", err)
	}

	keys := make([]string, 0, len(sum.Gladiators))
	for k := range sum.Gladiators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stdout, "gladiator %-12s %s\n", k, sum.Gladiators[k])
	}
	for _, m := range sum.Matches {
		fmt.Fprintf(os.Stdout, "match     %s  %s vs %s in %s\n", m.ID, m.ParticipantA, m.ParticipantB, m.Arena)
	}
	fmt.Fprintf(os.Stdout, "seeded %d gladiators, %d matches, %d queued [%s]\n",
		len(sum.Gladiators), len(sum.Matches), sum.Queued, time.Since(start))
}
