package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xscopehub/pgmcp/internal/audit"
	"github.com/xscopehub/pgmcp/internal/config"
	"github.com/xscopehub/pgmcp/internal/gateway"
	"github.com/xscopehub/pgmcp/internal/metrics"
	"github.com/xscopehub/pgmcp/internal/ops"
	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/resource"
	"github.com/xscopehub/pgmcp/internal/server"
	"github.com/xscopehub/pgmcp/internal/tools"
	logpkg "github.com/xscopehub/pgmcp/pkg/log"
	"github.com/xscopehub/pgmcp/pkg/manifest"
	"github.com/xscopehub/pgmcp/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP requests on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mf, err := loadManifest(cfg.Server)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, mf.Name, mf.Version, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	logger, err := logpkg.New(mf.Name, logpkg.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		OTel:   cfg.Telemetry.OTLPEndpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	base, err := resource.BaseURL(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("derive resource base: %w", err)
	}

	gw, err := gateway.Open(ctx, gateway.Config{
		URL:            cfg.Database.URL,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}, gateway.Options{Logger: logger, Metrics: m})
	if err != nil {
		return err
	}
	defer gw.Close(context.Background())
	logger.Info("database connected", "resource_base", base)

	auditLog, auditCloser, err := audit.Open(cfg.Audit.Enabled, cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditCloser.Close()

	reg, err := buildRegistry(cfg, gw, base, m, auditLog, logger)
	if err != nil {
		return err
	}

	if cfg.Ops.Listen != "" {
		opsSrv := ops.New(mf.Name, cfg.Ops.Listen, promReg, logger)
		go func() {
			if err := opsSrv.Run(ctx); err != nil {
				logger.Error("ops endpoint stopped", "error", err)
			}
		}()
	}

	srv := server.New(server.Options{
		Manifest:       mf,
		Registry:       reg,
		Logger:         logger,
		Metrics:        m,
		MaxMessageSize: cfg.Server.MaxMessageSize,
	})

	// Serve blocks on stdin, so it runs aside while we wait for a signal.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-ctx.Done():
		logger.Info("interrupted, shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("message channel: %w", err)
		}
		return nil
	}
}

// buildRegistry registers every handler and seals the registry.
func buildRegistry(cfg config.Config, gw *gateway.Gateway, base string, m *metrics.Metrics, auditLog *audit.Logger, logger *slog.Logger) (*registry.Registry, error) {
	reg := registry.New()

	res := &resource.Handlers{Catalog: gw, Base: base, Metrics: m, Logger: logger}
	if err := res.Register(reg); err != nil {
		return nil, err
	}
	if err := (&tools.Query{Runner: gw, Audit: auditLog}).Register(reg); err != nil {
		return nil, err
	}

	if cfg.Fetch.Enabled {
		fetch, err := tools.NewFlowErrors(tools.FetchConfig{
			Endpoint:          cfg.Fetch.Endpoint,
			InstanceBaseURL:   cfg.Fetch.InstanceBaseURL,
			Timeout:           cfg.Fetch.Timeout,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			Burst:             cfg.Fetch.Burst,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := fetch.Register(reg); err != nil {
			return nil, err
		}
	}

	reg.Seal()
	return reg, nil
}

func loadManifest(cfg config.ServerConfig) (manifest.Manifest, error) {
	mf := manifest.Default()
	if cfg.Manifest != "" {
		loaded, err := manifest.Load(cfg.Manifest)
		if err != nil {
			return manifest.Manifest{}, err
		}
		mf = loaded
	}
	if cfg.Name != "" {
		mf.Name = cfg.Name
	}
	if cfg.Version != "" {
		mf.Version = cfg.Version
	}
	return mf, nil
}
