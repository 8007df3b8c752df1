package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/tasksync/tasksync/internal/app/eventlog"
	"github.com/tasksync/tasksync/internal/app/projection"
	"github.com/tasksync/tasksync/internal/contracts"
	"github.com/tasksync/tasksync/internal/platform/dbpool"
	"github.com/tasksync/tasksync/internal/platform/env"
	"github.com/tasksync/tasksync/internal/platform/metrics"
	"github.com/tasksync/tasksync/internal/platform/natsutil"
)

var processedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "projection_events_processed_total",
	Help: "Events routed through the projectors by entity family and outcome.",
}, []string{"family", "outcome"})

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Default.MustRegister(processedTotal)

	metricsAddr := env.String("PROJECTOR_ADDR", env.DefaultProjectorAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	eventRepo := eventlog.NewRepository(pool)
	projectionRepo := projection.NewRepository(pool)
	if err := waitForPostgres(runCtx, pool, 30*time.Second,
		eventRepo.EnsureSchema, projectionRepo.EnsureSchema); err != nil {
		log.Fatal(err)
	}

	driver := projection.NewDriver(eventRepo, projectionRepo)

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	sub, err := client.JS.QueueSubscribe("sync.event.>", "projector", func(msg *nats.Msg) {
		var notice contracts.EventNotice
		if err := json.Unmarshal(msg.Data, &notice); err != nil || notice.EventID == "" {
			log.Printf("discarding malformed event notice: %v", err)
			_ = msg.Term()
			return
		}

		applyCtx, cancel := context.WithTimeout(runCtx, 5*time.Second)
		ack, err := driver.ProcessEvent(applyCtx, notice.EventID)
		cancel()
		if err != nil {
			if errors.Is(err, eventlog.ErrEventNotFound) {
				// The notice outlived its event; nothing to replay.
				log.Printf("discarding notice for unknown event %s", notice.EventID)
				processedTotal.WithLabelValues("unknown", "missing").Inc()
				_ = msg.Term()
				return
			}
			log.Printf("projection of event %s failed: %v", notice.EventID, err)
			processedTotal.WithLabelValues(familyLabel(ack.EventType), "failed").Inc()
			_ = msg.Nak()
			return
		}

		processedTotal.WithLabelValues(familyLabel(ack.EventType), "applied").Inc()
		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		log.Fatal(err)
	}

	log.Println("Projector listening on subject:", sub.Subject)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("projector metrics server failed: %v", err)
		}
	}()

	<-runCtx.Done()
	_ = sub.Drain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func familyLabel(eventType string) string {
	family, _ := contracts.SplitEventType(eventType)
	if family == "" {
		return "unknown"
	}
	return family
}

func waitForPostgres(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, ensure ...func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		for _, fn := range ensure {
			if lastErr != nil {
				break
			}
			lastErr = fn(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for postgres readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}
