package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options 控制经纪商行为。
type Options struct {
	// Currency 为结算币种，现金与净值都以该币种报告。
	Currency string
	// PositionFactory 为持仓缓存未命中时的构造函数。
	PositionFactory PositionFactory
}

// Broker 将交易所订单状态映射为引擎可消费的订单生命周期。
//
// 下单、撤单与对账共用一把互斥锁串行执行，以保证同一订单的终态只会被
// 一条路径移除并通知一次。
type Broker struct {
	store    Store
	currency string
	logger   *zap.Logger

	mu        sync.Mutex
	registry  *Registry
	notifs    *NotificationQueue
	positions *PositionBook

	// missing 记录挂单连续被交易所查无的轮数。
	missing map[string]int

	startingCash  float64
	startingValue float64
}

// maxRemoteMisses 为交易所连续查无订单多少轮后按过期处理。
const maxRemoteMisses = 3

// New 创建经纪商实例。
func New(store Store, opts Options, logger *zap.Logger) (*Broker, error) {
	if store == nil {
		return nil, errors.New("broker: store 不能为空")
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		return nil, errors.New("broker: 结算币种不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Broker{
		store:     store,
		currency:  currency,
		logger:    logger,
		registry:  NewRegistry(),
		notifs:    NewNotificationQueue(),
		positions: NewPositionBook(store, opts.PositionFactory),
		missing:   make(map[string]int),
	}, nil
}

// Start 记录初始现金与净值。
func (b *Broker) Start(ctx context.Context) error {
	cash, err := b.GetCash(ctx)
	if err != nil {
		return err
	}
	value, err := b.GetValue(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.startingCash = cash
	b.startingValue = value
	b.mu.Unlock()

	b.logger.Info("经纪商已启动",
		zap.String("currency", b.currency),
		zap.Float64("starting_cash", cash),
		zap.Float64("starting_value", value),
	)
	return nil
}

// Currency 返回结算币种。
func (b *Broker) Currency() string {
	return b.currency
}

// StartingCash 返回 Start 时记录的现金。
func (b *Broker) StartingCash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startingCash
}

// StartingValue 返回 Start 时记录的净值。
func (b *Broker) StartingValue() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startingValue
}

// GetCash 透传查询结算币种现金。
func (b *Broker) GetCash(ctx context.Context) (float64, error) {
	cash, err := b.store.GetCash(ctx, b.currency)
	if err != nil {
		return 0, fmt.Errorf("broker: 获取现金失败: %w", err)
	}
	return cash, nil
}

// GetValue 透传查询以结算币种计价的账户净值。
func (b *Broker) GetValue(ctx context.Context) (float64, error) {
	value, err := b.store.GetValue(ctx, b.currency)
	if err != nil {
		return 0, fmt.Errorf("broker: 获取净值失败: %w", err)
	}
	return value, nil
}

// GetPosition 查询标的基础币种的持仓。
func (b *Broker) GetPosition(ctx context.Context, instrument Instrument) (Position, error) {
	if instrument == nil {
		return Position{}, fmt.Errorf("%w: 标的不能为空", ErrInvalidOrder)
	}
	return b.positions.Get(ctx, BaseCurrency(instrument.Symbol()))
}

// GetNotification 非阻塞地取出下一条订单通知。
func (b *Broker) GetNotification() (Order, bool) {
	return b.notifs.Get()
}

// PendingNotifications 返回待取通知数。
func (b *Broker) PendingNotifications() int {
	return b.notifs.Len()
}

// OpenCount 返回本地挂单数。
func (b *Broker) OpenCount() int {
	return b.registry.Len()
}

// Buy 提交买单。
func (b *Broker) Buy(ctx context.Context, owner interface{}, instrument Instrument, size float64, opts ...OrderOption) (*Order, error) {
	return b.submit(ctx, owner, instrument, SideBuy, size, opts)
}

// Sell 提交卖单。
func (b *Broker) Sell(ctx context.Context, owner interface{}, instrument Instrument, size float64, opts ...OrderOption) (*Order, error) {
	return b.submit(ctx, owner, instrument, SideSell, size, opts)
}

func (b *Broker) submit(ctx context.Context, owner interface{}, instrument Instrument, side Side, size float64, opts []OrderOption) (*Order, error) {
	req, err := buildRequest(instrument, side, size, opts)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	remote, err := b.store.CreateOrder(ctx, req.params())
	if err != nil {
		return nil, fmt.Errorf("broker: 创建订单失败: %w", err)
	}
	if remote.ID == "" {
		return nil, fmt.Errorf("broker: 交易所未返回订单号 symbol=%s", req.symbol)
	}

	order := newOrder(owner, req, remote)
	if err := b.registry.Add(order); err != nil {
		return nil, err
	}

	b.logger.Info("订单已提交",
		zap.String("order_id", order.ID),
		zap.String("ref", order.Ref),
		zap.String("symbol", order.Symbol),
		zap.Stringer("side", order.Side),
		zap.Stringer("exec_type", order.ExecType),
		zap.Float64("size", order.Size),
		zap.Float64("price", order.Price),
	)
	return order, nil
}

// Cancel 撤销订单；交易所已成交的订单原样返回。
func (b *Broker) Cancel(ctx context.Context, order *Order) (*Order, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !order.Alive() {
		return order, nil
	}
	// 只撤销本实例登记的订单，否则终态无法入队通知。
	if registered, ok := b.registry.Get(order.ID); !ok || registered != order {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}

	// 先确认远端状态，已成交订单撤单会被多数交易所拒绝。
	remote, err := b.store.FetchOrder(ctx, order.ID, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("broker: 撤单前查询订单 %s 失败: %w", order.ID, err)
	}
	if remote.Status == RemoteClosed {
		b.logger.Debug("订单已成交，跳过撤单", zap.String("order_id", order.ID))
		return order, nil
	}
	if status, terminal := remote.Status.terminalStatus(); terminal {
		b.finalize(order, status, remote)
		return order, nil
	}

	remote, err = b.store.CancelOrder(ctx, order.ID, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("broker: 撤销订单 %s 失败: %w", order.ID, err)
	}

	b.finalize(order, StatusCanceled, remote)
	return order, nil
}

// Next 执行一轮对账，逐笔查询挂单的远端状态。
//
// 单笔查询失败不会中断本轮，所有失败合并后在结束时返回。
func (b *Broker) Next(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs error
	for _, order := range b.registry.List() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return multierr.Append(errs, ctxErr)
		}

		remote, err := b.store.FetchOrder(ctx, order.ID, order.Symbol)
		if errors.Is(err, ErrRemoteNotFound) {
			if b.expireMissing(order) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("broker: 查询订单 %s 失败: %w", order.ID, err))
			continue
		}
		if err != nil {
			b.logger.Warn("查询订单状态失败",
				zap.String("order_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("broker: 查询订单 %s 失败: %w", order.ID, err))
			continue
		}

		delete(b.missing, order.ID)
		b.reconcile(order, remote)
	}
	return errs
}

// expireMissing 累计交易所查无订单的轮数，达到上限时按过期终结并返回 true。
func (b *Broker) expireMissing(order *Order) bool {
	b.missing[order.ID]++
	misses := b.missing[order.ID]
	if misses < maxRemoteMisses {
		b.logger.Warn("交易所查无此订单",
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.Int("misses", misses),
		)
		return false
	}

	b.logger.Error("交易所连续查无此订单，按过期处理",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.Int("misses", misses),
	)
	remote := order.Remote
	remote.Status = RemoteExpired
	b.finalize(order, StatusExpired, remote)
	return true
}

// ListOpenOrders 清理远端已终结的订单后返回挂单快照。
func (b *Broker) ListOpenOrders(ctx context.Context) ([]*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs error
	for _, order := range b.registry.List() {
		remote, err := b.store.FetchOrder(ctx, order.ID, order.Symbol)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("broker: 查询订单 %s 失败: %w", order.ID, err))
			continue
		}
		b.reconcile(order, remote)
	}
	return b.registry.List(), errs
}

// Snapshot 返回当前挂单的值拷贝，不访问交易所。
func (b *Broker) Snapshot() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := b.registry.List()
	out := make([]Order, 0, len(open))
	for _, o := range open {
		out = append(out, o.Clone())
	}
	return out
}

// Copy 在锁保护下返回订单的值拷贝。
func (b *Broker) Copy(order *Order) Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return order.Clone()
}

// Lookup 按交易所订单号查找挂单。
func (b *Broker) Lookup(id string) (*Order, bool) {
	return b.registry.Get(id)
}

// reconcile 根据远端记录推进本地状态，调用方需持有 b.mu。
func (b *Broker) reconcile(order *Order, remote RemoteOrder) {
	status, terminal := remote.Status.terminalStatus()
	if !terminal {
		order.refresh(remote)
		return
	}
	b.finalize(order, status, remote)
}

// finalize 移除订单并入队通知；订单已被其他路径移除时不再重复通知。
func (b *Broker) finalize(order *Order, status Status, remote RemoteOrder) {
	if err := b.registry.Remove(order); err != nil {
		b.logger.Warn("订单已不在登记表中，跳过通知",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return
	}
	delete(b.missing, order.ID)

	if status == StatusCompleted {
		order.complete(remote)
	} else {
		order.terminate(status, remote)
	}
	b.notifs.Put(order.Clone())

	b.logger.Info("订单进入终态",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.Stringer("status", order.Status),
		zap.Float64("executed_size", order.Executed.Size),
		zap.Float64("executed_price", order.Executed.Price),
	)
}
