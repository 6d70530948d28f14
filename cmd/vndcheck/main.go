package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/taoyao-code/vndstream/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/vndstream/internal/config"
	"github.com/taoyao-code/vndstream/internal/logging"
)

// 退出码：0 通过，1 存在 FAIL，2 启动/运行错误
func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "config file (default: $VND_CONFIG or ./configs/example.yaml)")
		mode       = flag.String("mode", bootstrap.ModeCheck, "check|monitor")
		format     = flag.String("format", "", "report format: text|json|yaml (overrides output.format)")
		out        = flag.String("out", "", "report file (overrides output.path, default stdout)")
	)
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 2
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if *out != "" {
		cfg.Output.Path = *out
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 信号处理：取消后检查器仍会下发 STOP 并输出报告
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := bootstrap.Run(ctx, cfg, *mode, os.Stdout, logger)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
	}
	switch {
	case rep == nil:
		return 2
	case !rep.Passed():
		return 1
	case err != nil:
		return 2
	}
	return 0
}
