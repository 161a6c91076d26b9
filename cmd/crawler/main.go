package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"freenode_sieve/internal/service/web"
	"freenode_sieve/internal/shared/config"
	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/internal/shared/types"
	manager "freenode_sieve/nodepool"
	"freenode_sieve/nodepool/pipeline"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	once := flag.Bool("once", false, "Run a single cycle and exit, ignoring [schedule]")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "crawler.ini")

	// 1. 加载 .ini 配置，文件缺失时使用内置默认值
	cfg := types.DefaultConfig()
	iniErr := config.LoadIni(cfg, iniPath)
	if iniErr != nil && !errors.Is(iniErr, os.ErrNotExist) {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, iniErr)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	if iniErr != nil {
		logger.Warn().Str("path", iniPath).Msg("Config file not found, using built-in defaults.")
	}

	// 2. 组装节点池
	m := manager.NewFromConfig(cfg)

	if *once || cfg.ScheduleConf.IntervalMinutes <= 0 {
		code := runOnce(m)
		logger.Close()
		os.Exit(code)
	}

	// 3. 可选的状态服务
	var wg sync.WaitGroup
	hub := web.NewHub()
	srv, err := web.StartServer(&wg, cfg.WebConf, m, hub)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start status service")
	}
	if srv != nil {
		m.SetNotifier(hub)
	}

	// 4. 定时运行，直到收到退出信号
	m.Start()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info().Str("signal", s.String()).Msg("Shutting down...")

	m.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Status service did not shut down cleanly.")
	}
	wg.Wait()
}

// runOnce 执行单个周期并返回进程退出码。空结果不算失败。
func runOnce(m *manager.Manager) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := m.RunOnce(ctx)
	if err != nil && !errors.Is(err, pipeline.ErrNoInput) {
		logger.Error().Err(err).Msg("Cycle failed.")
		return 1
	}
	logger.Info().
		Int("scraped", summary.Scraped).
		Int("validated", summary.Validated).
		Int("accepted", summary.Accepted).
		Str("outcome", string(summary.Outcome)).
		Msg("Done.")
	return 0
}
