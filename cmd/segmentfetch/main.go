// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command segmentfetch reads a bounded range of one partition's remote
// segments and writes the batches it finds to stdout as it goes. It
// exists to exercise the hydration and reader path end to end against a
// real etcd-backed manifest and S3-compatible object store, the way an
// operator would when diagnosing a stuck tiered read.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novatechflow/kafscale/pkg/cache"
	"github.com/novatechflow/kafscale/pkg/manifest"
	"github.com/novatechflow/kafscale/pkg/objectstore"
	"github.com/novatechflow/kafscale/pkg/remotesegment"
	"github.com/novatechflow/kafscale/pkg/retry"
)

const (
	defaultMetricsAddr         = ":19095"
	defaultCacheCapacityBytes  = int64(4 << 30)
	defaultCacheMaxSegmentSize = int64(512 << 20)
	defaultReadDeadline        = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	adapter, err := buildAdapter(ctx, logger)
	if err != nil {
		logger.Error("failed to build object store adapter", "error", err)
		os.Exit(1)
	}

	c, metrics, err := buildCache(logger)
	if err != nil {
		logger.Error("failed to build cache", "error", err)
		os.Exit(1)
	}
	defer c.Stop()

	store, m, err := buildManifest(ctx, logger)
	if err != nil {
		logger.Error("failed to build manifest", "error", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	startMetricsServer(ctx, envOrDefault("KAFSCALE_METRICS_ADDR", defaultMetricsAddr), metrics, logger)

	cfg := fetchConfigFromEnv()
	if err := runFetch(ctx, logger, m, c, adapter, cfg); err != nil {
		logger.Error("fetch failed", "error", err)
		os.Exit(1)
	}
}

// fetchConfig bounds what runFetch reads out of the partition's catalog.
type fetchConfig struct {
	partition     string
	startOffset   int64
	maxOffset     int64
	logical       bool
	maxBatchBytes int64
	maxBatches    int
	deadline      time.Duration
}

func fetchConfigFromEnv() fetchConfig {
	return fetchConfig{
		partition:     envOrDefault("KAFSCALE_PARTITION", "orders-0"),
		startOffset:   parseEnvInt64("KAFSCALE_START_OFFSET", 0),
		maxOffset:     parseEnvInt64("KAFSCALE_MAX_OFFSET", 1<<62),
		logical:       parseEnvBool("KAFSCALE_LOGICAL_OFFSETS", false),
		maxBatchBytes: parseEnvInt64("KAFSCALE_MAX_BATCH_BYTES", 4<<20),
		maxBatches:    int(parseEnvInt64("KAFSCALE_MAX_BATCHES_PER_READ", 256)),
		deadline:      parseEnvDuration("KAFSCALE_READ_DEADLINE", defaultReadDeadline),
	}
}

// runFetch walks the manifest from cfg.startOffset forward, hydrating and
// draining each segment it touches in turn, until cfg.maxOffset is passed
// or the catalog runs out of segments.
func runFetch(ctx context.Context, logger *slog.Logger, m *manifest.Manifest, c *cache.Cache, adapter objectstore.Adapter, cfg fetchConfig) error {
	health := retry.NewHealthMonitor(retry.HealthConfig{})
	backoffPolicy := retry.NewHealthAwareBackOff(backoff.NewExponentialBackOff(), health)

	readerCfg := remotesegment.Config{
		StartOffset: cfg.startOffset,
		MaxOffset:   cfg.maxOffset,
		MaxBytes:    cfg.maxBatchBytes,
		MaxBatches:  cfg.maxBatches,
		Logical:     cfg.logical,
	}

	physicalStart := cfg.startOffset
	if cfg.logical {
		if seg, ok := m.SegmentContaining(cfg.startOffset); ok {
			physicalStart = seg.BasePhysicalOffset
		}
	}

	seg, ok := m.SegmentContaining(physicalStart)
	if !ok {
		return fmt.Errorf("segmentfetch: no segment covers offset %d in partition %s", cfg.startOffset, cfg.partition)
	}

	emitted := 0
	for {
		if seg.BasePhysicalOffset > cfg.maxOffset {
			break
		}

		rs := remotesegment.New(remotesegment.PartitionIdentity(cfg.partition), seg, c, adapter)

		// Hydrate explicitly, under a chain carrying the health-aware
		// backoff, before handing the segment to a Reader: Reader.ReadSome
		// hydrates lazily on its own chain if this segment isn't already
		// hydrated, but that internal chain uses a default exponential
		// backoff rather than a caller-supplied policy, so pre-hydrating
		// here is how this policy actually governs retries against a
		// degraded backend.
		start := time.Now()
		chain := retry.NewRoot(ctx, time.Now().Add(cfg.deadline), 8, backoffPolicy)
		_, hydrateErr := rs.Hydrate(chain)
		health.RecordOperation(classifyHydrateOutcome(hydrateErr), time.Since(start))
		if hydrateErr != nil {
			rs.Stop()
			return fmt.Errorf("segmentfetch: hydrate segment base=%d: %w", seg.BasePhysicalOffset, hydrateErr)
		}

		index, indexErr := remotesegment.LoadIndex(ctx, adapter, seg, time.Now().Add(cfg.deadline))
		if indexErr != nil {
			logger.Warn("failed to load segment index; falling back to a byte-0 seek", "base_offset", seg.BasePhysicalOffset, "error", indexErr)
			index = nil
		}

		reader := remotesegment.NewReader(rs, readerCfg, index)
		for {
			out, err := reader.ReadSome(time.Now().Add(cfg.deadline))
			if err != nil {
				rs.Stop()
				return fmt.Errorf("segmentfetch: read segment base=%d: %w", seg.BasePhysicalOffset, err)
			}
			if len(out) == 0 {
				break
			}
			for _, b := range out {
				emitted++
				emitBatch(logger, cfg.partition, b)
			}
		}
		reader.Close()
		rs.Stop()

		next, ok := m.Next(seg.BasePhysicalOffset)
		if !ok {
			break
		}
		seg = next
	}

	logger.Info("fetch complete", "partition", cfg.partition, "batches_emitted", emitted, "backend_health", string(health.State()))
	return nil
}

// classifyHydrateOutcome maps a Hydrate error back to the objectstore
// outcome that best explains it, so the health monitor can weigh a
// missing object differently from a backend that timed out or refused
// the request outright. Hydrate itself only ever returns a plain error,
// so this is the boundary where that classification is recovered.
func classifyHydrateOutcome(err error) objectstore.Outcome {
	switch {
	case err == nil:
		return objectstore.Success
	case errors.Is(err, remotesegment.ErrRemoteSegmentMissing):
		return objectstore.NotFound
	case errors.Is(err, remotesegment.ErrHydrationFailed):
		return objectstore.TransientError
	default:
		return objectstore.PermanentError
	}
}

type batchRecord struct {
	Partition    string `json:"partition"`
	BaseOffset   int64  `json:"base_offset"`
	LogicalBase  int64  `json:"logical_base,omitempty"`
	MessageCount int32  `json:"message_count"`
	SizeBytes    int    `json:"size_bytes"`
}

func emitBatch(logger *slog.Logger, partition string, b remotesegment.Batch) {
	rec := batchRecord{
		Partition:    partition,
		BaseOffset:   b.BaseOffset,
		LogicalBase:  b.LogicalBase,
		MessageCount: b.MessageCount,
		SizeBytes:    len(b.Bytes),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		logger.Error("failed to encode batch record", "error", err)
		return
	}
	fmt.Println(string(line))
}

func buildAdapter(ctx context.Context, logger *slog.Logger) (objectstore.Adapter, error) {
	if parseEnvBool("KAFSCALE_USE_MEMORY_STORE", false) {
		logger.Info("using in-memory object store adapter; reads will miss unless pre-seeded for a smoke test")
		return objectstore.NewMemoryAdapter(), nil
	}

	cfg := objectstore.Config{
		Bucket:          envOrDefault("KAFSCALE_S3_BUCKET", "kafscale"),
		Region:          envOrDefault("KAFSCALE_S3_REGION", "us-east-1"),
		Endpoint:        envOrDefault("KAFSCALE_S3_ENDPOINT", "http://127.0.0.1:9000"),
		ForcePathStyle:  parseEnvBool("KAFSCALE_S3_PATH_STYLE", true),
		AccessKeyID:     os.Getenv("KAFSCALE_S3_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("KAFSCALE_S3_SECRET_KEY"),
		SessionToken:    os.Getenv("KAFSCALE_S3_SESSION_TOKEN"),
	}
	adapter, err := objectstore.NewS3Adapter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("segmentfetch: build S3 adapter: %w", err)
	}
	logger.Info("using S3-compatible object store adapter", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return adapter, nil
}

func buildCache(logger *slog.Logger) (*cache.Cache, *cache.Metrics, error) {
	metrics := cache.NewMetrics()
	if err := metrics.RegisterWith(prometheus.DefaultRegisterer); err != nil {
		return nil, nil, fmt.Errorf("segmentfetch: register cache metrics: %w", err)
	}
	rootDir := envOrDefault("KAFSCALE_CACHE_DIR", os.TempDir()+"/kafscale-segmentfetch")
	c, err := cache.New(cache.Config{
		RootDir:             rootDir,
		CapacityBytes:       parseEnvInt64("KAFSCALE_CACHE_CAPACITY_BYTES", defaultCacheCapacityBytes),
		ReservedBytes:       parseEnvInt64("KAFSCALE_CACHE_RESERVED_BYTES", 0),
		MaxSegmentSizeBytes: parseEnvInt64("KAFSCALE_CACHE_MAX_SEGMENT_BYTES", defaultCacheMaxSegmentSize),
	}, metrics)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("cache ready", "root_dir", rootDir)
	return c, metrics, nil
}

func buildManifest(ctx context.Context, logger *slog.Logger) (*manifest.EtcdStore, *manifest.Manifest, error) {
	endpoints := strings.TrimSpace(os.Getenv("KAFSCALE_ETCD_ENDPOINTS"))
	if endpoints == "" {
		return nil, nil, errors.New("segmentfetch: KAFSCALE_ETCD_ENDPOINTS is required; this tool only reads an existing catalog")
	}
	store, err := manifest.NewEtcdStore(manifest.EtcdStoreConfig{
		Endpoints: strings.Split(endpoints, ","),
		Username:  os.Getenv("KAFSCALE_ETCD_USERNAME"),
		Password:  os.Getenv("KAFSCALE_ETCD_PASSWORD"),
	})
	if err != nil {
		return nil, nil, err
	}
	partition := envOrDefault("KAFSCALE_PARTITION", "orders-0")
	m, err := store.Load(ctx, partition)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	logger.Info("loaded manifest", "partition", partition, "segments", m.Len(), "endpoints", endpoints)
	return store, m, nil
}

func startMetricsServer(ctx context.Context, addr string, metrics *cache.Metrics, logger *slog.Logger) {
	_ = metrics // already registered against the default registerer
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("KAFSCALE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("component", "segmentfetch")
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvInt64(name string, fallback int64) int64 {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvBool(name string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func parseEnvDuration(name string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
