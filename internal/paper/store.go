package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"ccxt-broker/internal/broker"
)

// ErrOrderClosed 表示订单已不处于挂单状态，无法撤销。
var ErrOrderClosed = errors.New("paper: order is not open")

// stopPriceKey 为止损限价单触发价的参数名，与 ccxt 统一参数一致。
const stopPriceKey = "stopPrice"

type order struct {
	remote   broker.RemoteOrder
	execType broker.ExecType
	limit    float64
	stop     float64
	armed    bool
	params   map[string]interface{}
	seq      int
}

// Store 是内存撮合账户，按推送的最新价成交挂单。
type Store struct {
	mu         sync.Mutex
	logger     *zap.Logger
	commission float64
	now        func() time.Time

	balances map[string]float64
	avgPrice map[string]float64
	prices   map[string]float64
	orders   map[string]*order
	seq      int
}

var _ broker.Store = (*Store)(nil)

// NewStore 以初始余额创建模拟账户，commission 为按成交额计算的手续费率。
func NewStore(balances map[string]float64, commission float64, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if commission < 0 {
		commission = 0
	}
	s := &Store{
		logger:     logger.With(zap.String("exchange", "paper")),
		commission: commission,
		now:        time.Now,
		balances:   make(map[string]float64, len(balances)),
		avgPrice:   make(map[string]float64),
		prices:     make(map[string]float64),
		orders:     make(map[string]*order),
	}
	for code, amount := range balances {
		s.balances[strings.ToUpper(code)] = amount
	}
	return s
}

// CreateOrder 登记新委托；已有最新价的市价单立即成交。
func (s *Store) CreateOrder(ctx context.Context, params broker.OrderParams) (broker.RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return broker.RemoteOrder{}, err
	}
	if params.Amount <= 0 || math.IsNaN(params.Amount) || math.IsInf(params.Amount, 0) {
		return broker.RemoteOrder{}, fmt.Errorf("paper: 委托数量无效: %v", params.Amount)
	}
	if broker.BaseCurrency(params.Symbol) == "" || broker.QuoteCurrency(params.Symbol) == "" {
		return broker.RemoteOrder{}, fmt.Errorf("paper: 无法解析交易对 %q", params.Symbol)
	}
	execType, ok := broker.ParseExecType(params.OrderType)
	if !ok {
		return broker.RemoteOrder{}, fmt.Errorf("paper: 不支持的委托类型 %q", params.OrderType)
	}

	o := &order{
		execType: execType,
		params:   params.Params,
		remote: broker.RemoteOrder{
			ID:     uuid.NewString(),
			Symbol: params.Symbol,
			Side:   params.Side,
			Type:   params.OrderType,
			Status: broker.RemoteOpen,
			Amount: params.Amount,
			Price:  params.Price,
		},
	}

	switch execType {
	case broker.ExecLimit:
		o.limit = params.Price
	case broker.ExecStop:
		o.stop = params.Price
	case broker.ExecStopLimit:
		o.limit = params.Price
		o.stop = params.Price
		if raw, ok := params.Params[stopPriceKey]; ok {
			stop, err := cast.ToFloat64E(raw)
			if err != nil || stop <= 0 {
				return broker.RemoteOrder{}, fmt.Errorf("paper: 触发价无效: %v", raw)
			}
			o.stop = stop
		}
	}
	if execType != broker.ExecMarket && (!params.HasPrice || params.Price <= 0) {
		return broker.RemoteOrder{}, fmt.Errorf("paper: %s 委托缺少价格", params.OrderType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	o.seq = s.seq
	o.remote.Timestamp = s.now().UTC()
	s.orders[o.remote.ID] = o

	if price, ok := s.prices[params.Symbol]; ok && execType == broker.ExecMarket {
		s.fillLocked(o, price)
	}

	s.logger.Debug("模拟委托已登记",
		zap.String("id", o.remote.ID),
		zap.String("symbol", params.Symbol),
		zap.String("type", params.OrderType),
		zap.String("side", params.Side.String()),
		zap.Float64("amount", params.Amount),
	)
	return s.copyRemote(o), nil
}

// FetchOrder 返回订单当前状态。
func (s *Store) FetchOrder(ctx context.Context, id, symbol string) (broker.RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return broker.RemoteOrder{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return broker.RemoteOrder{}, fmt.Errorf("paper: %w: %s", broker.ErrRemoteNotFound, id)
	}
	return s.copyRemote(o), nil
}

// CancelOrder 撤销挂单，非挂单状态返回 ErrOrderClosed。
func (s *Store) CancelOrder(ctx context.Context, id, symbol string) (broker.RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return broker.RemoteOrder{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return broker.RemoteOrder{}, fmt.Errorf("paper: %w: %s", broker.ErrRemoteNotFound, id)
	}
	if o.remote.Status != broker.RemoteOpen {
		return s.copyRemote(o), fmt.Errorf("%w: %s (%s)", ErrOrderClosed, id, o.remote.Status)
	}
	o.remote.Status = broker.RemoteCanceled
	return s.copyRemote(o), nil
}

// GetCash 返回币种余额。
func (s *Store) GetCash(ctx context.Context, currency string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[strings.ToUpper(currency)], nil
}

// GetValue 以 currency 计价汇总账户，缺少行情的币种不计入。
func (s *Store) GetValue(ctx context.Context, currency string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	currency = strings.ToUpper(currency)

	s.mu.Lock()
	defer s.mu.Unlock()

	value := s.balances[currency]
	for code, amount := range s.balances {
		if code == currency || amount == 0 {
			continue
		}
		price, ok := s.prices[code+"/"+currency]
		if !ok {
			continue
		}
		value += amount * price
	}
	return value, nil
}

// GetPosition 返回币种持仓，Price 为加权平均买入价。
func (s *Store) GetPosition(ctx context.Context, currency string) (broker.Position, error) {
	if err := ctx.Err(); err != nil {
		return broker.Position{}, err
	}
	currency = strings.ToUpper(currency)

	s.mu.Lock()
	defer s.mu.Unlock()
	return broker.Position{
		Currency: currency,
		Size:     s.balances[currency],
		Price:    s.avgPrice[currency],
	}, nil
}

// Advance 推送交易对最新价，并按价格撮合该交易对的挂单。返回本次成交或拒绝的订单数。
func (s *Store) Advance(symbol string, price float64) int {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[symbol] = price

	pending := make([]*order, 0)
	for _, o := range s.orders {
		if o.remote.Symbol == symbol && o.remote.Status == broker.RemoteOpen {
			pending = append(pending, o)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	changed := 0
	for _, o := range pending {
		fillPrice, ok := o.trigger(price)
		if !ok {
			continue
		}
		s.fillLocked(o, fillPrice)
		changed++
	}
	return changed
}

// Balances 返回余额快照。
func (s *Store) Balances() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.balances))
	for code, amount := range s.balances {
		out[code] = amount
	}
	return out
}

// trigger 判断订单在给定价格下是否成交并返回成交价。
func (o *order) trigger(price float64) (float64, bool) {
	buy := o.remote.Side == broker.SideBuy
	switch o.execType {
	case broker.ExecMarket:
		return price, true
	case broker.ExecLimit:
		return o.limit, limitReached(buy, price, o.limit)
	case broker.ExecStop:
		return price, stopReached(buy, price, o.stop)
	case broker.ExecStopLimit:
		if !o.armed {
			if !stopReached(buy, price, o.stop) {
				return 0, false
			}
			o.armed = true
		}
		return o.limit, limitReached(buy, price, o.limit)
	default:
		return 0, false
	}
}

func limitReached(buy bool, price, limit float64) bool {
	if buy {
		return price <= limit
	}
	return price >= limit
}

func stopReached(buy bool, price, stop float64) bool {
	if buy {
		return price >= stop
	}
	return price <= stop
}

// fillLocked 按成交价结算订单，余额不足时标记为拒绝。
func (s *Store) fillLocked(o *order, price float64) {
	base := broker.BaseCurrency(o.remote.Symbol)
	quote := broker.QuoteCurrency(o.remote.Symbol)
	amount := o.remote.Amount
	notional := amount * price
	fee := notional * s.commission

	if o.remote.Side == broker.SideBuy {
		if s.balances[quote] < notional+fee {
			s.rejectLocked(o, quote, notional+fee)
			return
		}
		held := s.balances[base]
		if held > 0 {
			s.avgPrice[base] = (held*s.avgPrice[base] + notional) / (held + amount)
		} else {
			s.avgPrice[base] = price
		}
		s.balances[quote] -= notional + fee
		s.balances[base] = held + amount
	} else {
		if s.balances[base] < amount {
			s.rejectLocked(o, base, amount)
			return
		}
		s.balances[base] -= amount
		s.balances[quote] += notional - fee
		if s.balances[base] <= 0 {
			s.balances[base] = 0
			delete(s.avgPrice, base)
		}
	}

	o.remote.Status = broker.RemoteClosed
	o.remote.Filled = amount
	o.remote.Average = price
	o.remote.Timestamp = s.now().UTC()

	s.logger.Info("模拟委托已成交",
		zap.String("id", o.remote.ID),
		zap.String("symbol", o.remote.Symbol),
		zap.String("side", o.remote.Side.String()),
		zap.Float64("amount", amount),
		zap.Float64("price", price),
		zap.Float64("fee", fee),
	)
}

func (s *Store) rejectLocked(o *order, currency string, required float64) {
	o.remote.Status = broker.RemoteRejected
	o.remote.Timestamp = s.now().UTC()
	s.logger.Warn("模拟账户余额不足，委托被拒绝",
		zap.String("id", o.remote.ID),
		zap.String("currency", currency),
		zap.Float64("required", required),
		zap.Float64("available", s.balances[currency]),
	)
}

func (s *Store) copyRemote(o *order) broker.RemoteOrder {
	remote := o.remote
	if len(o.params) > 0 {
		info := make(map[string]interface{}, len(o.params))
		for k, v := range o.params {
			info[k] = v
		}
		remote.Info = info
	}
	return remote
}
