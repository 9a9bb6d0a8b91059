package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap/zaptest"

	"ccxt-broker/internal/broker"
	"ccxt-broker/internal/config"
)

func TestConvertOrder_ClosedRecord(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	raw := ccxt.Order{
		Id:        strPtr("42"),
		Symbol:    strPtr("BTC/USDT"),
		Side:      strPtr("sell"),
		Type:      strPtr("limit"),
		Status:    strPtr("closed"),
		Amount:    floatPtr(2),
		Filled:    floatPtr(2),
		Price:     floatPtr(100),
		Average:   floatPtr(101),
		Timestamp: int64Ptr(ts.UnixMilli()),
	}

	got := convertOrder(raw)
	if got.ID != "42" || got.Symbol != "BTC/USDT" || got.Side != broker.SideSell {
		t.Fatalf("unexpected identity fields: %+v", got)
	}
	if got.Status != broker.RemoteClosed {
		t.Fatalf("expected closed status, got %s", got.Status)
	}
	if got.FillPrice() != 101 || got.FillSize() != 2 {
		t.Fatalf("unexpected fill: price=%v size=%v", got.FillPrice(), got.FillSize())
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("unexpected timestamp: %s", got.Timestamp)
	}
}

func TestStoreCreateOrder_PassesPriceAndParams(t *testing.T) {
	client := &mockClient{}
	store := newTestStore(t, client)

	remote, err := store.CreateOrder(context.Background(), broker.OrderParams{
		Symbol:    "BTC/USDT",
		OrderType: "limit",
		Side:      broker.SideBuy,
		Amount:    1,
		Price:     100,
		HasPrice:  true,
		Params:    map[string]interface{}{"timeInForce": "GTC"},
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if remote.ID != "new-1" || remote.Status != broker.RemoteOpen {
		t.Fatalf("unexpected remote order: %+v", remote)
	}
	if client.lastCreate.typ != "limit" || client.lastCreate.side != "buy" || client.lastCreate.optCount != 2 {
		t.Fatalf("unexpected create call: %+v", client.lastCreate)
	}
}

func TestStoreCreateOrder_NoRetry(t *testing.T) {
	client := &mockClient{createErr: &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"}}
	store := newTestStore(t, client)

	if _, err := store.CreateOrder(context.Background(), broker.OrderParams{Symbol: "BTC/USDT", OrderType: "market", Amount: 1}); err == nil {
		t.Fatalf("expected error")
	}
	if client.createCalls != 1 {
		t.Fatalf("expected exactly one create call, got %d", client.createCalls)
	}
}

func TestStoreFetchOrder_RetriesTransientErrors(t *testing.T) {
	client := &mockClient{
		fetchErrs: []error{&ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"}},
		fetchOrder: ccxt.Order{
			Id:     strPtr("7"),
			Status: strPtr("open"),
		},
	}
	store := newTestStore(t, client)

	remote, err := store.FetchOrder(context.Background(), "7", "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrder returned error: %v", err)
	}
	if client.fetchCalls != 2 {
		t.Fatalf("expected a retry, got %d calls", client.fetchCalls)
	}
	if remote.Symbol != "BTC/USDT" {
		t.Fatalf("expected symbol fallback, got %q", remote.Symbol)
	}
}

func TestStoreFetchOrder_NotFound(t *testing.T) {
	client := &mockClient{fetchErrs: []error{&ccxt.Error{Type: ccxt.OrderNotFoundErrType, Message: "unknown order"}}}
	store := newTestStore(t, client)

	_, err := store.FetchOrder(context.Background(), "x", "BTC/USDT")
	if !errors.Is(err, broker.ErrRemoteNotFound) {
		t.Fatalf("expected ErrRemoteNotFound, got %v", err)
	}
	if client.fetchCalls != 1 {
		t.Fatalf("not-found must not be retried, got %d calls", client.fetchCalls)
	}
}

func TestStoreGetValue_TranslatesHoldings(t *testing.T) {
	client := &mockClient{
		balances: ccxt.Balances{
			Total: map[string]*float64{
				"USDT": floatPtr(1000),
				"BTC":  floatPtr(0.5),
				"ETH":  floatPtr(2),
				"DUST": floatPtr(10),
				"ZERO": floatPtr(0),
			},
			Free: map[string]*float64{"USDT": floatPtr(800)},
		},
		tickers: map[string]float64{
			"BTC/USDT": 20000,
			"ETH/USDT": 1500,
		},
	}
	store := newTestStore(t, client)
	ctx := context.Background()

	value, err := store.GetValue(ctx, "USDT")
	if err != nil {
		t.Fatalf("GetValue returned error: %v", err)
	}
	if want := 1000 + 0.5*20000 + 2*1500.0; value != want {
		t.Fatalf("GetValue = %v, want %v", value, want)
	}

	cash, err := store.GetCash(ctx, "USDT")
	if err != nil || cash != 800 {
		t.Fatalf("GetCash = %v (%v), want 800", cash, err)
	}
}

func TestStoreGetPosition_PricesAgainstSettlement(t *testing.T) {
	client := &mockClient{
		balances: ccxt.Balances{Total: map[string]*float64{"BTC": floatPtr(0.25)}},
		tickers:  map[string]float64{"BTC/USDT": 30000},
	}
	store := newTestStore(t, client)

	pos, err := store.GetPosition(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if pos.Currency != "BTC" || pos.Size != 0.25 || pos.Price != 30000 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		retry    bool
		sentinel error
	}{
		{name: "network", err: &ccxt.Error{Type: ccxt.NetworkErrorErrType}, retry: true},
		{name: "rate limit", err: &ccxt.Error{Type: ccxt.RateLimitExceededErrType}, retry: true},
		{name: "maintenance", err: &ccxt.Error{Type: ccxt.OnMaintenanceErrType}, sentinel: ErrMaintenance},
		{name: "bad symbol", err: &ccxt.Error{Type: ccxt.BadSymbolErrType}, sentinel: ErrUnknownMarket},
		{name: "canceled", err: context.Canceled, sentinel: context.Canceled},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, retry := classifyError(tc.err)
			if retry != tc.retry {
				t.Fatalf("retry = %v, want %v", retry, tc.retry)
			}
			if tc.sentinel != nil && !errors.Is(got, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, got)
			}
		})
	}
}

func newTestStore(t *testing.T, client exchangeClient) *Store {
	t.Helper()
	cfg := config.ExchangeConfig{
		Name:    "mock",
		Markets: []string{"BTC/USDT"},
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
	return newStore(cfg, "USDT", client, nil, zaptest.NewLogger(t))
}

type createCall struct {
	symbol   string
	typ      string
	side     string
	amount   float64
	optCount int
}

type mockClient struct {
	createCalls int
	createErr   error
	lastCreate  createCall

	fetchCalls int
	fetchErrs  []error
	fetchOrder ccxt.Order

	balances ccxt.Balances
	tickers  map[string]float64
}

func (m *mockClient) CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error) {
	m.createCalls++
	m.lastCreate = createCall{symbol: symbol, typ: typeVar, side: side, amount: amount, optCount: len(options)}
	if m.createErr != nil {
		return ccxt.Order{}, m.createErr
	}
	return ccxt.Order{
		Id:     strPtr("new-1"),
		Symbol: strPtr(symbol),
		Side:   strPtr(side),
		Status: strPtr("open"),
		Amount: floatPtr(amount),
	}, nil
}

func (m *mockClient) FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error) {
	m.fetchCalls++
	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		return ccxt.Order{}, err
	}
	return m.fetchOrder, nil
}

func (m *mockClient) CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error) {
	return ccxt.Order{Id: strPtr(id)}, nil
}

func (m *mockClient) FetchBalance(params ...interface{}) (ccxt.Balances, error) {
	return m.balances, nil
}

func (m *mockClient) FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error) {
	price, ok := m.tickers[symbol]
	if !ok {
		return ccxt.Ticker{}, &ccxt.Error{Type: ccxt.BadSymbolErrType, Message: symbol}
	}
	return ccxt.Ticker{Symbol: strPtr(symbol), Last: floatPtr(price)}, nil
}

func strPtr(v string) *string     { return &v }
func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }
