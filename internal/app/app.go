package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-sim/internal/ai"
	"trades-sim/internal/audit"
	"trades-sim/internal/config"
	"trades-sim/internal/engine"
	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
	"trades-sim/internal/ledger"
	"trades-sim/internal/oracle"
	"trades-sim/internal/server"
	"trades-sim/internal/signal"
	"trades-sim/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装各组件并阻塞运行，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg

	a.logger.Info("模拟交易系统已初始化",
		zap.String("environment", cfg.App.Environment),
		zap.String("symbol", cfg.Trading.Symbol),
		zap.Float64("initial_balance", cfg.Trading.InitialBalance),
	)

	book := ledger.New(cfg.Trading.MaxLeverage, cfg.Trading.PriceMaxAge, a.logger)
	if _, err := book.Reset(decimal.NewFromFloat(cfg.Trading.InitialBalance)); err != nil {
		return fmt.Errorf("初始化账本失败: %w", err)
	}

	exClient, err := exchange.NewClient(cfg.Exchange, cfg.Trading.Symbol, a.logger)
	if err != nil {
		return fmt.Errorf("初始化行情客户端失败: %w", err)
	}
	market := exchange.NewMarketDataService(exClient, a.logger)
	prices := oracle.NewExchangeSource(exClient, cfg.Trading.PriceMaxAge, a.logger)

	aiClient, err := ai.NewClient(cfg.OpenAI, a.logger)
	if err != nil {
		return fmt.Errorf("初始化AI客户端失败: %w", err)
	}

	norm := signal.NewNormalizer(cfg.Trading, a.logger)
	controller := execution.NewController(book, cfg.Trading, a.logger)

	audits, err := audit.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化审计服务失败: %w", err)
	}

	session := engine.NewSession(engine.Options{
		Trading:   cfg.Trading,
		Scheduler: cfg.Scheduler,
		Market:    market,
		Prices:    prices,
		Decider:   aiClient,
		Norm:      norm,
		Exec:      controller,
		Book:      book,
		Recorder:  audits,
		Logger:    a.logger,
	})

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("启动会话失败: %w", err)
	}
	defer func() {
		if stopErr := session.Stop(); stopErr != nil && !errors.Is(stopErr, engine.ErrNotRunning) {
			a.logger.Warn("停止会话失败", zap.Error(stopErr))
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, cfg.Trading.Symbol, session, book, controller, audits, a.logger)
		group.Go(func() error {
			return srv.Run(groupCtx)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
