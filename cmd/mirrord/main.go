// Command mirrord keeps a live mirror of external profile pages and serves
// it as a JSON snapshot, a websocket stream and MCP tools.
//
// Usage:
//
//	mirrord -config mirror.yaml        # HTTP on the configured listen address
//	mirrord -config mirror.yaml -mcp   # additionally serve MCP over stdio
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/profilemirror/mirror"
)

func main() {
	configPath := flag.String("config", env("MIRROR_CONFIG", "mirror.yaml"), "path to mirror.yaml config file")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	withMCP := flag.Bool("mcp", false, "serve MCP tools over stdio")
	flag.Parse()

	// stdout belongs to MCP when -mcp is set.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *withMCP); err != nil {
		logger.Error("mirrord: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, withMCP bool) error {
	cfg, err := mirror.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if v := os.Getenv("MIRROR_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BROWSERD_URL"); v != "" {
		cfg.BrowserdURL = v
	}

	store, err := mirror.OpenCache(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	adapters, err := mirror.NewAdapters(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := mirror.New(cfg, adapters,
		mirror.WithLogger(logger),
		mirror.WithMetrics(mirror.NewMetrics(reg)),
		mirror.WithCache(store),
	)
	if err != nil {
		return err
	}
	m.Start(ctx)
	defer m.Close()

	if withMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "mirrord", Version: "0.1.0"}, nil)
		m.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Warn("mirrord: mcp stdio", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mirror.NewHandler(m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("mirrord: listening", "addr", srv.Addr, "sites", len(cfg.Sites))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("mirrord: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Close ends websocket streams; Shutdown does not wait for hijacked conns.
	m.Close()
	return srv.Shutdown(shutdownCtx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
