package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ccxt-broker/internal/config"
	"ccxt-broker/internal/metrics"
	"ccxt-broker/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 启动经纪层，按轮询间隔对账直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("经纪服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("markets", a.cfg.Exchange.Markets),
		zap.Bool("paper", a.cfg.Paper.Enabled),
	)

	orch, err := newOrchestrator(ctx, a.cfg, a.logger, a.store, metrics.New())
	if err != nil {
		return err
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("启动经纪层失败: %w", err)
	}

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, orch, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	return a.loop(ctx, orch)
}

func (a *App) loop(ctx context.Context, orch *orchestrator) error {
	interval := a.cfg.Broker.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err := orch.Tick(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("执行对账失败", zap.Error(err))
			}
		}
	}
}
