package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ccxt-broker/internal/broker"
	"ccxt-broker/internal/config"
	"ccxt-broker/internal/exchange"
	"ccxt-broker/internal/metrics"
	"ccxt-broker/internal/monitor"
	"ccxt-broker/internal/paper"
	"ccxt-broker/internal/store"
)

// priceFeedConcurrency 限制模拟模式下并发拉取行情的数量。
const priceFeedConcurrency = 4

// priceSource 为模拟撮合提供最新价。
type priceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// OrderRequest 描述一次外部下单请求。
type OrderRequest struct {
	Symbol   string                 `json:"symbol"`
	Side     string                 `json:"side"`
	Size     float64                `json:"size"`
	ExecType string                 `json:"exec_type"`
	Price    *float64               `json:"price,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

type orchestrator struct {
	broker  *broker.Broker
	paper   *paper.Store
	prices  priceSource
	markets []string
	monitor *monitor.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func newOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store, mt *metrics.Metrics) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	exStore, err := exchange.NewStore(cfg.Exchange, cfg.Broker.Currency, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(ctx, st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化事件日志失败: %w", err)
	}

	var (
		brokerStore broker.Store = exStore
		paperStore  *paper.Store
		prices      priceSource
	)
	if cfg.Paper.Enabled {
		logger.Info("经纪层处于模拟撮合模式", zap.Any("balances", cfg.Paper.Balances))
		paperStore = paper.NewStore(cfg.Paper.Balances, cfg.Paper.Commission, logger)
		brokerStore = paperStore
		prices = exStore
	}

	b, err := broker.New(brokerStore, broker.Options{Currency: cfg.Broker.Currency}, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化经纪层失败: %w", err)
	}

	return &orchestrator{
		broker:  b,
		paper:   paperStore,
		prices:  prices,
		markets: cfg.Exchange.Markets,
		monitor: monitorSvc,
		metrics: mt,
		logger:  logger,
	}, nil
}

// Start 记录初始资金并写入首个账户快照。
func (o *orchestrator) Start(ctx context.Context) error {
	if o.paper != nil {
		o.feedPrices(ctx)
	}
	if err := o.broker.Start(ctx); err != nil {
		return err
	}
	o.recordAccount(ctx)
	return nil
}

// Tick 推送行情、对账挂单、落盘通知并记录账户。
func (o *orchestrator) Tick(ctx context.Context) error {
	if o.paper != nil {
		o.feedPrices(ctx)
	}

	start := time.Now()
	err := o.broker.Next(ctx)
	failures := multierr.Errors(err)
	o.metrics.ObserveReconcile(time.Since(start), len(failures), o.broker.OpenCount())
	for _, failure := range failures {
		o.logFailure("订单对账失败", failure)
		o.monitor.RecordError(ctx, "订单对账失败", failure, nil)
	}

	o.drain(ctx)
	o.recordAccount(ctx)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Submit 提交订单并记录提交事件。
func (o *orchestrator) Submit(ctx context.Context, req OrderRequest) (broker.Order, error) {
	opts := make([]broker.OrderOption, 0, 3)

	execType, ok := broker.ParseExecType(req.ExecType)
	if !ok {
		return broker.Order{}, fmt.Errorf("%w: 未知委托类型 %q", broker.ErrInvalidOrder, req.ExecType)
	}
	opts = append(opts, broker.WithExecType(execType))
	if req.Price != nil {
		opts = append(opts, broker.WithPrice(*req.Price))
	}
	if len(req.Params) > 0 {
		// 请求中的 params 原样透传给交易所
		opts = append(opts, broker.WithParams(map[string]interface{}{"params": req.Params}))
	}

	instrument := broker.Symbol(strings.TrimSpace(req.Symbol))

	var (
		order *broker.Order
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(req.Side)) {
	case "buy":
		order, err = o.broker.Buy(ctx, "http", instrument, req.Size, opts...)
	case "sell":
		order, err = o.broker.Sell(ctx, "http", instrument, req.Size, opts...)
	default:
		return broker.Order{}, fmt.Errorf("%w: 未知方向 %q", broker.ErrInvalidOrder, req.Side)
	}
	if err != nil {
		return broker.Order{}, err
	}

	snapshot := o.broker.Copy(order)
	o.monitor.RecordOrder(ctx, snapshot)
	o.metrics.ObserveSubmitted(snapshot)
	return snapshot, nil
}

// Cancel 撤销挂单，返回撤单后的订单快照。
func (o *orchestrator) Cancel(ctx context.Context, id string) (broker.Order, error) {
	order, ok := o.broker.Lookup(id)
	if !ok {
		return broker.Order{}, fmt.Errorf("%w: %s", broker.ErrOrderNotFound, id)
	}
	updated, err := o.broker.Cancel(ctx, order)
	if err != nil {
		return broker.Order{}, err
	}
	snapshot := o.broker.Copy(updated)
	o.drain(ctx)
	return snapshot, nil
}

// Account 汇总账户资金与配置市场的持仓。
func (o *orchestrator) Account(ctx context.Context) (monitor.AccountPayload, error) {
	cash, err := o.broker.GetCash(ctx)
	if err != nil {
		return monitor.AccountPayload{}, err
	}
	value, err := o.broker.GetValue(ctx)
	if err != nil {
		return monitor.AccountPayload{}, err
	}

	account := monitor.AccountPayload{
		Currency:      o.broker.Currency(),
		Cash:          cash,
		Value:         value,
		StartingCash:  o.broker.StartingCash(),
		StartingValue: o.broker.StartingValue(),
		OpenOrders:    o.broker.OpenCount(),
	}

	seen := make(map[string]struct{}, len(o.markets))
	for _, market := range o.markets {
		base := broker.BaseCurrency(market)
		if _, dup := seen[base]; dup || strings.EqualFold(base, account.Currency) {
			continue
		}
		seen[base] = struct{}{}

		pos, err := o.broker.GetPosition(ctx, broker.Symbol(market))
		if err != nil {
			return monitor.AccountPayload{}, err
		}
		account.Positions = append(account.Positions, pos)
	}
	sort.Slice(account.Positions, func(i, j int) bool {
		return account.Positions[i].Currency < account.Positions[j].Currency
	})
	return account, nil
}

// drain 取出全部待处理通知写入事件日志。
func (o *orchestrator) drain(ctx context.Context) int {
	count := 0
	for {
		order, ok := o.broker.GetNotification()
		if !ok {
			return count
		}
		count++
		o.monitor.RecordOrder(ctx, order)
		o.metrics.ObserveNotification(order)
		o.logger.Info("订单已结束",
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.String("status", order.Status.String()),
			zap.Float64("executed_size", order.Executed.Size),
			zap.Float64("executed_price", order.Executed.Price),
		)
	}
}

func (o *orchestrator) recordAccount(ctx context.Context) {
	account, err := o.Account(ctx)
	if err != nil {
		o.logFailure("获取账户状态失败", err)
		o.monitor.RecordError(ctx, "获取账户状态失败", err, nil)
		return
	}
	o.monitor.RecordAccount(ctx, account)
	o.metrics.ObserveAccount(account.Cash, account.Value)
}

// feedPrices 并发拉取配置市场最新价并推送给模拟撮合。
func (o *orchestrator) feedPrices(ctx context.Context) {
	if o.prices == nil {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(priceFeedConcurrency)
	for _, market := range o.markets {
		market := market
		group.Go(func() error {
			price, err := o.prices.LastPrice(groupCtx, market)
			if err != nil {
				o.logFailure("拉取行情失败", err, zap.String("symbol", market))
				o.monitor.RecordError(ctx, "拉取行情失败", err, map[string]interface{}{"symbol": market})
				return nil
			}
			if filled := o.paper.Advance(market, price); filled > 0 {
				o.logger.Debug("模拟撮合已处理订单",
					zap.String("symbol", market),
					zap.Float64("price", price),
					zap.Int("orders", filled),
				)
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (o *orchestrator) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if exchange.IsRetryable(err) || errors.Is(err, exchange.ErrMaintenance) {
		o.logger.Warn(msg, fields...)
		return
	}
	o.logger.Error(msg, fields...)
}
