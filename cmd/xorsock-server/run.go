package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/xorsock"
	"github.com/Zereker/xorsock/internal/config"
	"github.com/Zereker/xorsock/internal/console"
	"github.com/Zereker/xorsock/internal/observability"
	"github.com/Zereker/xorsock/metrics"
)

func run(ctx context.Context, cfg config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.InitLogger("xorsock-server", cfg.LogLevel)
	adapter := observability.NewAdapter(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(metrics.WithRegistry(registry), metrics.WithSubsystem("server"))

	handler, err := xorsock.NewAckHandler(
		xorsock.KeyOption(cfg.Key),
		xorsock.MaxFrameSizeOption(cfg.MaxFrameSize),
		xorsock.IdleTimeoutOption(cfg.IdleTimeout),
		xorsock.LoggerOption(adapter),
		xorsock.MetricsOption(collector),
	)
	if err != nil {
		return err
	}

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}

	server, err := xorsock.New(addr,
		xorsock.ServerLoggerOption(adapter),
		xorsock.ServerMetricsOption(collector),
	)
	if err != nil {
		logger.Error().Err(err).Str("addr", addr.String()).Msg("failed to bind")
		return err
	}
	defer server.Close()

	console.New(os.Stdout).Banner("xorsock server listening on "+server.Addr().String(), "press Ctrl+C to stop")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(ctx, handler)
	})
	if cfg.MetricsAddr != "" {
		group.Go(func() error {
			return observability.ServeMetrics(ctx, cfg.MetricsAddr, registry, logger)
		})
	}

	err = group.Wait()
	handler.CloseAll()
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("shutting down server")
		return nil
	}
	return err
}
