package main

import (
	"context"
	"flag"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/config"
	"github.com/BaSui01/gatekeeper/internal/server"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", "", "Ops listen address (overrides metrics.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withApp(ctx, *configPath, func(a *app) error {
		a.logger.Info("starting gatekeeper",
			zap.String("version", Version),
			zap.String("build_time", BuildTime),
			zap.String("git_commit", GitCommit),
			zap.String("store", string(a.svc.StoreType)),
		)

		cfg := opsServerConfig(a.cfg.Metrics)
		if *addr != "" {
			cfg.Addr = *addr
		}
		srv := server.NewManager(
			server.NewOpsHandler(prometheus.DefaultGatherer, a.readinessChecks()),
			cfg, a.logger,
		)
		if err := srv.Run(ctx); err != nil {
			return err
		}
		a.logger.Info("gatekeeper stopped")
		return nil
	})
}

// opsServerConfig 由指标配置得到运维端口配置
func opsServerConfig(mc config.MetricsConfig) server.Config {
	cfg := server.DefaultConfig()
	if mc.Addr != "" {
		cfg.Addr = mc.Addr
	}
	cfg.TLSCertFile = mc.TLSCertFile
	cfg.TLSKeyFile = mc.TLSKeyFile
	return cfg
}
