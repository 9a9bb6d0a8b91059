package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ccxt-broker/internal/broker"
)

// tickerConcurrency 限制估值时并发拉取行情的数量。
const tickerConcurrency = 4

// CreateOrder 在交易所创建订单。
func (s *Store) CreateOrder(ctx context.Context, params broker.OrderParams) (broker.RemoteOrder, error) {
	opts := make([]ccxt.CreateOrderOptions, 0, 2)
	if params.HasPrice {
		opts = append(opts, ccxt.WithCreateOrderPrice(params.Price))
	}
	if len(params.Params) > 0 {
		opts = append(opts, ccxt.WithCreateOrderParams(params.Params))
	}

	var raw ccxt.Order
	// 下单不做自动重试，避免网络抖动时重复委托。
	err := s.ensureMarketsLoaded(ctx)
	if err == nil {
		raw, err = s.client.CreateOrder(params.Symbol, params.OrderType, params.Side.String(), params.Amount, opts...)
		if err != nil {
			err, _ = classifyError(err)
		}
	}
	if err != nil {
		s.logger.Error("创建订单失败",
			zap.String("symbol", params.Symbol),
			zap.String("type", params.OrderType),
			zap.String("side", params.Side.String()),
			zap.Float64("amount", params.Amount),
			zap.Error(err),
		)
		return broker.RemoteOrder{}, err
	}

	remote := convertOrder(raw)
	if remote.Symbol == "" {
		remote.Symbol = params.Symbol
	}
	if remote.Amount == 0 {
		remote.Amount = params.Amount
	}
	return remote, nil
}

// FetchOrder 查询订单当前状态。
func (s *Store) FetchOrder(ctx context.Context, id, symbol string) (broker.RemoteOrder, error) {
	var raw ccxt.Order
	err := s.call(ctx, "fetch_order", func() error {
		order, err := s.client.FetchOrder(id, ccxt.WithFetchOrderSymbol(symbol))
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return broker.RemoteOrder{}, err
	}

	remote := convertOrder(raw)
	if remote.ID == "" {
		remote.ID = id
	}
	if remote.Symbol == "" {
		remote.Symbol = symbol
	}
	return remote, nil
}

// CancelOrder 撤销订单。
func (s *Store) CancelOrder(ctx context.Context, id, symbol string) (broker.RemoteOrder, error) {
	var raw ccxt.Order
	err := s.call(ctx, "cancel_order", func() error {
		order, err := s.client.CancelOrder(id, ccxt.WithCancelOrderSymbol(symbol))
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return broker.RemoteOrder{}, err
	}

	remote := convertOrder(raw)
	if remote.ID == "" {
		remote.ID = id
	}
	if remote.Symbol == "" {
		remote.Symbol = symbol
	}
	// 部分交易所撤单响应不带状态字段。
	if remote.Status == broker.RemoteOpen {
		remote.Status = broker.RemoteCanceled
	}
	return remote, nil
}

// GetCash 返回指定币种的可用余额。
func (s *Store) GetCash(ctx context.Context, currency string) (float64, error) {
	balances, err := s.fetchBalance(ctx)
	if err != nil {
		return 0, err
	}
	return lookup(balances.Free, currency), nil
}

// GetValue 返回以 currency 计价的账户总值，其他币种按最新成交价折算。
func (s *Store) GetValue(ctx context.Context, currency string) (float64, error) {
	balances, err := s.fetchBalance(ctx)
	if err != nil {
		return 0, err
	}

	value := lookup(balances.Total, currency)

	holdings := make(map[string]float64)
	for code, total := range balances.Total {
		if total == nil || *total == 0 || strings.EqualFold(code, currency) {
			continue
		}
		holdings[code] = *total
	}
	if len(holdings) == 0 {
		return value, nil
	}

	codes := make([]string, 0, len(holdings))
	for code := range holdings {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(tickerConcurrency)

	for _, code := range codes {
		code := code
		group.Go(func() error {
			price, err := s.LastPrice(groupCtx, code+"/"+currency)
			if errors.Is(err, ErrUnknownMarket) {
				s.logger.Warn("币种无结算市场，估值时跳过",
					zap.String("currency", code),
					zap.String("settlement", currency),
				)
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			value += holdings[code] * price
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return 0, fmt.Errorf("exchange: 折算账户净值失败: %w", err)
	}
	return value, nil
}

// GetPosition 返回币种的持仓数量；Price 为相对报价币种的最新价格。
func (s *Store) GetPosition(ctx context.Context, currency string) (broker.Position, error) {
	balances, err := s.fetchBalance(ctx)
	if err != nil {
		return broker.Position{}, err
	}

	pos := broker.Position{
		Currency: currency,
		Size:     lookup(balances.Total, currency),
	}
	if pos.Size == 0 || s.quote() == "" || strings.EqualFold(currency, s.quote()) {
		return pos, nil
	}

	price, err := s.LastPrice(ctx, currency+"/"+s.quote())
	if err != nil && !errors.Is(err, ErrUnknownMarket) {
		return broker.Position{}, err
	}
	pos.Price = price
	return pos, nil
}

// LastPrice 返回交易对的最新成交价。
func (s *Store) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker ccxt.Ticker
	err := s.call(ctx, "fetch_ticker", func() error {
		t, err := s.client.FetchTicker(symbol)
		if err != nil {
			return err
		}
		ticker = t
		return nil
	})
	if err != nil {
		return 0, err
	}

	price := derefFloat(ticker.Last)
	if price <= 0 {
		price = derefFloat(ticker.Close)
	}
	if price <= 0 {
		return 0, fmt.Errorf("exchange: %s 无有效价格", symbol)
	}
	return price, nil
}

func (s *Store) fetchBalance(ctx context.Context) (ccxt.Balances, error) {
	var balances ccxt.Balances
	err := s.call(ctx, "fetch_balance", func() error {
		b, err := s.client.FetchBalance()
		if err != nil {
			return err
		}
		balances = b
		return nil
	})
	return balances, err
}

// quote 返回持仓定价使用的币种，未指定时取首个配置市场的报价币种。
func (s *Store) quote() string {
	if s.settlement != "" {
		return s.settlement
	}
	if len(s.cfg.Markets) == 0 {
		return ""
	}
	return broker.QuoteCurrency(s.cfg.Markets[0])
}

func lookup(values map[string]*float64, currency string) float64 {
	if values == nil {
		return 0
	}
	if v, ok := values[currency]; ok && v != nil {
		return *v
	}
	for code, v := range values {
		if strings.EqualFold(code, currency) && v != nil {
			return *v
		}
	}
	return 0
}

func convertOrder(raw ccxt.Order) broker.RemoteOrder {
	remote := broker.RemoteOrder{
		ID:      derefString(raw.Id),
		Symbol:  derefString(raw.Symbol),
		Side:    broker.ParseSide(derefString(raw.Side)),
		Type:    derefString(raw.Type),
		Status:  broker.ParseRemoteStatus(derefString(raw.Status)),
		Amount:  derefFloat(raw.Amount),
		Filled:  derefFloat(raw.Filled),
		Price:   derefFloat(raw.Price),
		Average: derefFloat(raw.Average),
		Info:    raw.Info,
	}
	if raw.Timestamp != nil && *raw.Timestamp > 0 {
		remote.Timestamp = time.UnixMilli(*raw.Timestamp).UTC()
	}
	return remote
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
