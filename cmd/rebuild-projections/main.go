package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/tasksync/tasksync/internal/app/eventlog"
	"github.com/tasksync/tasksync/internal/app/projection"
	"github.com/tasksync/tasksync/internal/platform/dbpool"
	"github.com/tasksync/tasksync/internal/platform/env"
)

func main() {
	userID := flag.String("user", "", "user whose projections to rebuild (required)")
	fromTs := flag.Int64("from", 0, "replay events with client timestamp >= this (ms); 0 resets and replays everything")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall rebuild deadline")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		log.Fatal("missing required -user flag")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := dbpool.New(ctx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	eventRepo := eventlog.NewRepository(pool)
	projectionRepo := projection.NewRepository(pool)
	if err := eventRepo.EnsureSchema(ctx); err != nil {
		log.Fatal(err)
	}
	if err := projectionRepo.EnsureSchema(ctx); err != nil {
		log.Fatal(err)
	}

	driver := projection.NewDriver(eventRepo, projectionRepo)

	start := time.Now()
	report, err := driver.RebuildProjections(ctx, *userID, *fromTs)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("rebuild for user %s finished in %s: %d events, %d applied, %d skipped",
		*userID, time.Since(start).Round(time.Millisecond), report.Total, report.Processed, report.Errors)
	if report.Errors > 0 {
		log.Printf("%d events could not be applied; see projector logs for details", report.Errors)
	}
}
