// Command tracecored serves the traceability core over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"tracecore/internal/config"
)

var (
	exitFunc   = os.Exit
	loadConfig = config.LoadFrom
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tracecored", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv(config.EnvConfigFile), "path to YAML configuration")
	checkOnly := fs.Bool("check-config", false, "validate configuration and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := loadConfig(*configPath, os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return 1
	}
	if *checkOnly {
		_, _ = fmt.Fprintln(stdout, "configuration valid.")
		return 0
	}
	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: level}))
	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("tracecored stopped", "error", err)
		return 1
	}
	return 0
}

// run serves until ctx is cancelled. When ready is non-nil it receives the
// bound listener address.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ready chan<- string) error {
	gin.SetMode(gin.ReleaseMode)
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Warn("close resources", "error", err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("tracecored listening",
		"addr", ln.Addr().String(),
		"storage", cfg.Storage.Driver,
		"blob", cfg.Blob.Driver,
		"metrics", cfg.Metrics.Backend,
		"owner", string(a.service.Owner(ctx)),
		"height", a.service.Height(ctx),
	)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
