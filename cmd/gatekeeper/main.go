// =============================================================================
// Gatekeeper 检索核心入口
// =============================================================================
// 文档写入、语义检索、订单事件登记与运维端口
//
// 使用方法:
//
//	gatekeeper serve --config config.yaml          # 启动运维端口（指标与健康检查）
//	gatekeeper ingest --order O-1 a.pdf.txt b.md   # 切分并写入文档向量
//	gatekeeper search --order O-1 --query "..."    # 语义检索上下文
//	gatekeeper event --order O-1 --id E-1 --summary "..."
//	gatekeeper migrate up                          # 运行数据库迁移
//	gatekeeper version
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/gatekeeper/config"
	"github.com/BaSui01/gatekeeper/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 参数错误, 已打印用法
var errUsage = errors.New("invalid usage")

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	telemetry.Version = Version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(ctx, args)
	case "ingest":
		err = runIngest(ctx, args, os.Stdout)
	case "search":
		err = runSearch(ctx, args, os.Stdout)
	case "delete":
		err = runDelete(ctx, args, os.Stdout)
	case "event":
		err = runEvent(ctx, args, os.Stdout)
	case "events":
		err = runEvents(ctx, args, os.Stdout)
	case "migrate":
		err = runMigrate(ctx, args, os.Stdout)
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("Gatekeeper %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Gatekeeper - semantic document retrieval core

Usage:
  gatekeeper <command> [options]

Commands:
  serve     Run the ops endpoint (/metrics, /healthz, /readyz)
  ingest    Chunk, embed and store one or more documents
  search    Retrieve ranked context snippets for a query
  delete    Delete a document's vectors or a single event vector
  event     Register an order event summary
  events    List an order's event vectors, newest first
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Examples:
  gatekeeper ingest --order ORD-1 --category arrival_notice santos.txt
  gatekeeper search --order ORD-1 --query "arrival at Santos"
  gatekeeper event --order ORD-1 --id EVT-9 --type delay --summary "Vessel delayed"
  gatekeeper delete --doc santos
  gatekeeper migrate up
  gatekeeper migrate status`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

// loadConfig 默认值 → YAML → 环境变量, 并做校验
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		// 子命令的结果写 stdout, 日志默认走 stderr
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
