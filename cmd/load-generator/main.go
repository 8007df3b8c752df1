package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nuid"
	"github.com/tasksync/tasksync/internal/platform/env"
	"github.com/tasksync/tasksync/internal/platform/metrics"
)

type config struct {
	APIBase                 string
	Users                   int
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	BatchesPerUserPerSecond float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	Password                string
}

type simulatedDevice struct {
	Index    int
	Username string
	DeviceID string
	Token    string
	UserID   string

	mu     sync.Mutex
	listID string
	tasks  []string
}

type runner struct {
	cfg    config
	runID  string
	client *http.Client

	batchesSuccess atomic.Int64
	batchesError   atomic.Int64
}

var (
	batchesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "tasksync_loadgen_batches_total",
		Help: "Sync batches sent by the load generator.",
	}, []string{"outcome"})

	eventsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "tasksync_loadgen_events_total",
		Help: "Events sent by the load generator, by ingestion status.",
	}, []string{"status"})

	virtualDevicesGauge = metrics.NewGauge(metrics.Opts{
		Name: "tasksync_loadgen_virtual_devices",
		Help: "Current number of active virtual devices uploading batches.",
	})
)

func init() {
	metrics.Default.MustRegister(batchesTotal, eventsTotal, virtualDevicesGauge)
}

func main() {
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}
	if cfg.SetupConcurrency <= 0 {
		log.Fatal("LOADGEN_SETUP_CONCURRENCY must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Users * 2,
				MaxIdleConnsPerHost: cfg.Users * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	if err := r.waitForAPI(ctx); err != nil {
		log.Fatalf("ingest-api readiness failed: %v", err)
	}

	devices := r.setupDevices(ctx)
	if len(devices) == 0 {
		log.Fatal("failed to initialize any devices")
	}
	log.Printf("load generator initialized: devices=%d duration=%s rate_per_device=%.2f batches/s",
		len(devices), cfg.Duration.String(), cfg.BatchesPerUserPerSecond)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for idx := range devices {
		device := devices[idx]
		wg.Add(1)
		go func(d *simulatedDevice) {
			defer wg.Done()
			r.runDevice(ctx, d)
		}(device)
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load test complete: success_batches=%d error_batches=%d",
		r.batchesSuccess.Load(), r.batchesError.Load())
}

func loadConfig() config {
	return config{
		APIBase:                 env.String("LOADGEN_API_BASE", "http://ingest-api:8080"),
		Users:                   env.Int("LOADGEN_USERS", 200),
		SetupConcurrency:        env.Int("LOADGEN_SETUP_CONCURRENCY", 25),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		BatchesPerUserPerSecond: floatEnv("LOADGEN_BATCHES_PER_USER_PER_SECOND", 0.3),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
		Password:                env.String("LOADGEN_PASSWORD", "load-test-pass-123"),
	}
}

func floatEnv(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (r *runner) waitForAPI(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupDevices(ctx context.Context) []*simulatedDevice {
	type setupResult struct {
		device *simulatedDevice
		err    error
	}

	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	results := make(chan setupResult, r.cfg.Users)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Users; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			device, err := r.setupSingleDevice(ctx, idx)
			results <- setupResult{device: device, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	devices := make([]*simulatedDevice, 0, r.cfg.Users)
	failures := 0
	for result := range results {
		if result.err != nil {
			failures++
			log.Printf("device setup failed: %v", result.err)
			continue
		}
		devices = append(devices, result.device)
	}
	log.Printf("device setup complete: success=%d failed=%d", len(devices), failures)
	return devices
}

func (r *runner) setupSingleDevice(ctx context.Context, idx int) (*simulatedDevice, error) {
	device := &simulatedDevice{
		Index:    idx,
		Username: fmt.Sprintf("load-%s-%04d", r.runID, idx),
		DeviceID: fmt.Sprintf("loadgen-device-%04d", idx),
	}

	var session struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if err := r.postJSON(ctx, r.cfg.APIBase+"/api/v1/auth/register", "", map[string]string{
		"username": device.Username,
		"password": r.cfg.Password,
		"deviceId": device.DeviceID,
	}, &session, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("register %s: %w", device.Username, err)
	}
	if session.Token == "" {
		return nil, fmt.Errorf("empty token for %s", device.Username)
	}
	device.Token = session.Token
	device.UserID = session.UserID

	device.listID = "list-" + nuid.Next()
	if err := r.sendBatch(ctx, device, []map[string]any{{
		"eventId":   nuid.Next(),
		"eventType": "tasks.list.created",
		"timestamp": time.Now().UnixMilli(),
		"payload": map[string]any{
			"listId": device.listID,
			"name":   fmt.Sprintf("Load List %d", device.Index),
		},
	}}); err != nil {
		return nil, fmt.Errorf("seed list for %s: %w", device.Username, err)
	}
	return device, nil
}

func (r *runner) runDevice(ctx context.Context, device *simulatedDevice) {
	if r.cfg.RampUp > 0 && r.cfg.Users > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(r.cfg.Users) * float64(device.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	virtualDevicesGauge.Inc()
	defer virtualDevicesGauge.Dec()

	interval := time.Second
	if r.cfg.BatchesPerUserPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.BatchesPerUserPerSecond)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(device.Index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sendBatch(ctx, device, device.nextEvents(rng)); err != nil {
				if ctx.Err() == nil {
					log.Printf("device %s batch failed: %v", device.DeviceID, err)
				}
			}
		}
	}
}

// nextEvents picks a plausible device action: mostly task creation, with a
// mix of completion, edits, and the occasional delete against known tasks.
func (d *simulatedDevice) nextEvents(rng *rand.Rand) []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UnixMilli()
	roll := rng.Float64()
	switch {
	case roll < 0.5 || len(d.tasks) == 0:
		taskID := "task-" + nuid.Next()
		d.tasks = append(d.tasks, taskID)
		if len(d.tasks) > 50 {
			d.tasks = d.tasks[1:]
		}
		return []map[string]any{{
			"eventId":   nuid.Next(),
			"eventType": "tasks.task.created",
			"timestamp": now,
			"payload": map[string]any{
				"taskId": taskID,
				"listId": d.listID,
				"title":  fmt.Sprintf("load task %d", rng.Intn(100000)),
			},
		}}
	case roll < 0.75:
		taskID := d.tasks[rng.Intn(len(d.tasks))]
		return []map[string]any{{
			"eventId":   nuid.Next(),
			"eventType": "tasks.task.completed",
			"timestamp": now,
			"payload":   map[string]any{"taskId": taskID, "completed": true},
		}}
	case roll < 0.92:
		taskID := d.tasks[rng.Intn(len(d.tasks))]
		return []map[string]any{{
			"eventId":   nuid.Next(),
			"eventType": "tasks.task.updated",
			"timestamp": now,
			"payload": map[string]any{
				"taskId":  taskID,
				"title":   fmt.Sprintf("edited task %d", rng.Intn(100000)),
				"flagged": rng.Intn(2) == 0,
			},
		}}
	default:
		idx := rng.Intn(len(d.tasks))
		taskID := d.tasks[idx]
		d.tasks = append(d.tasks[:idx], d.tasks[idx+1:]...)
		return []map[string]any{{
			"eventId":   nuid.Next(),
			"eventType": "tasks.task.deleted",
			"timestamp": now,
			"payload":   map[string]any{"taskId": taskID},
		}}
	}
}

func (r *runner) sendBatch(ctx context.Context, device *simulatedDevice, events []map[string]any) error {
	var ack struct {
		Results []struct {
			Status string `json:"status"`
		} `json:"results"`
	}
	err := r.postJSON(ctx, r.cfg.APIBase+"/api/v1/sync/batch", device.Token, map[string]any{
		"deviceId": device.DeviceID,
		"appId":    "tasksync-loadgen",
		"events":   events,
	}, &ack, http.StatusAccepted)
	if err != nil {
		r.batchesError.Add(1)
		batchesTotal.WithLabelValues("error").Inc()
		return err
	}

	r.batchesSuccess.Add(1)
	batchesTotal.WithLabelValues("success").Inc()
	for _, result := range ack.Results {
		eventsTotal.WithLabelValues(result.Status).Inc()
	}
	return nil
}

func (r *runner) postJSON(ctx context.Context, url, token string, payload, out any, expectStatus int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != expectStatus {
		return fmt.Errorf("%s: status=%d body=%s", url, resp.StatusCode, string(respBody))
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: success_batches=%d error_batches=%d",
				r.batchesSuccess.Load(), r.batchesError.Load())
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server failed: %v", err)
	}
}
