package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecore/internal/blob"
	"tracecore/internal/config"
	"tracecore/internal/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCLICheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deployer: ops\nmetrics:\n  backend: none\n"), 0o600))
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{"-config", path, "-check-config"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "configuration valid")

	stdout.Reset()
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: etcd\n"), 0o600))
	code = cli(context.Background(), []string{"-config", path, "-check-config"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "etcd")

	assert.Equal(t, 2, cli(context.Background(), []string{"-unknown"}, &stdout, &stderr))
}

func TestMainUsesExitFunc(t *testing.T) {
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"tracecored", "-config", filepath.Join(t.TempDir(), "missing.yaml")}
	main()
	require.Len(t, codes, 1)
	assert.Equal(t, 1, codes[0])
}

func TestBuildMetricsBackends(t *testing.T) {
	opt, handler, err := buildMetrics(config.MetricsConfig{Backend: "prometheus"})
	require.NoError(t, err)
	assert.NotNil(t, opt)
	assert.NotNil(t, handler)

	opt, handler, err = buildMetrics(config.MetricsConfig{Backend: "expvar"})
	require.NoError(t, err)
	assert.NotNil(t, opt)
	assert.NotNil(t, handler)

	opt, handler, err = buildMetrics(config.MetricsConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, opt)
	assert.Nil(t, handler)

	_, _, err = buildMetrics(config.MetricsConfig{Backend: "statsd"})
	assert.Error(t, err)
}

func TestBuildLimiterSelection(t *testing.T) {
	cfg := config.Default()
	limiter, closeFn, err := buildLimiter(cfg)
	require.NoError(t, err)
	assert.Nil(t, limiter, "disabled by default")
	assert.Nil(t, closeFn)

	cfg.RateLimit.Requests = 10
	limiter, closeFn, err = buildLimiter(cfg)
	require.NoError(t, err)
	assert.NotNil(t, limiter)
	assert.Nil(t, closeFn, "memory limiter holds no connection")

	cfg.Redis.Addr = "127.0.0.1:1"
	limiter, closeFn, err = buildLimiter(cfg)
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	_, err = limiter.Allow(context.Background(), "k")
	assert.Error(t, err, "nothing listens on port 1")
	assert.NoError(t, closeFn())
}

func TestBuildTracerDisabledWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := buildTracer(context.Background(), config.OTelConfig{})
	require.NoError(t, err)
	assert.Nil(t, tracer)
	assert.Nil(t, shutdown)
}

func TestBuildAppArchivesCommittedEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Backend = "none"
	cfg.Blob.Driver = "fs"
	cfg.Blob.FSRoot = filepath.Join(t.TempDir(), "archive")
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer func() { _ = a.close(ctx) }()

	_, err = a.service.RecordEvent(ctx, core.Caller{Principal: "deployer"}, "lot-shipped", "lot-1")
	require.NoError(t, err)

	store, err := blob.Open(ctx, blob.Config{Driver: blob.DriverFilesystem, FSRoot: cfg.Blob.FSRoot})
	require.NoError(t, err)
	report, err := core.VerifyArchive(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), report.Events)
}

func TestBuildAppResyncsArchiveOnStartup(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Metrics.Backend = "none"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(dir, "trace.db")
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, quietLogger())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	for _, lot := range []string{"lot-1", "lot-2"} {
		_, err = a.service.RecordEvent(ctx, core.Caller{Principal: "deployer"}, "lot-shipped", lot)
		require.NoError(t, err)
	}
	require.NoError(t, a.close(ctx))

	cfg.Blob.Driver = "fs"
	cfg.Blob.FSRoot = filepath.Join(dir, "archive")
	a, err = buildApp(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer func() { _ = a.close(ctx) }()

	store, err := blob.Open(ctx, blob.Config{Driver: blob.DriverFilesystem, FSRoot: cfg.Blob.FSRoot})
	require.NoError(t, err)
	report, err := core.VerifyArchive(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Events, "events committed before the archive was enabled")
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, quietLogger(), ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "go_goroutines"), "prometheus backend is the default")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
