package paper

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap/zaptest"

	"ccxt-broker/internal/broker"
)

func TestStore_LimitBuyFillsAtLimit(t *testing.T) {
	store := NewStore(map[string]float64{"USDT": 1000}, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	remote, err := store.CreateOrder(ctx, limitParams(broker.SideBuy, 2, 100))
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if remote.Status != broker.RemoteOpen {
		t.Fatalf("expected open order, got %s", remote.Status)
	}

	if n := store.Advance("BTC/USDT", 105); n != 0 {
		t.Fatalf("expected no fill above the limit, got %d", n)
	}
	if n := store.Advance("BTC/USDT", 99); n != 1 {
		t.Fatalf("expected one fill, got %d", n)
	}

	got, err := store.FetchOrder(ctx, remote.ID, "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrder returned error: %v", err)
	}
	if got.Status != broker.RemoteClosed || got.Average != 100 || got.Filled != 2 {
		t.Fatalf("unexpected fill: %+v", got)
	}

	balances := store.Balances()
	if balances["USDT"] != 800 || balances["BTC"] != 2 {
		t.Fatalf("unexpected balances: %+v", balances)
	}
	pos, _ := store.GetPosition(ctx, "BTC")
	if pos.Size != 2 || pos.Price != 100 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestStore_MarketOrderUsesLastPrice(t *testing.T) {
	store := NewStore(map[string]float64{"USDT": 1000}, 0.001, nil)
	store.Advance("BTC/USDT", 200)

	remote, err := store.CreateOrder(context.Background(), broker.OrderParams{
		Symbol:    "BTC/USDT",
		OrderType: "market",
		Side:      broker.SideBuy,
		Amount:    1,
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if remote.Status != broker.RemoteClosed || remote.Average != 200 {
		t.Fatalf("expected immediate fill at 200, got %+v", remote)
	}
	if cash := store.Balances()["USDT"]; math.Abs(cash-799.8) > 1e-9 {
		t.Fatalf("expected commission to be charged, cash=%v", cash)
	}
}

func TestStore_StopSellTriggersBelowStop(t *testing.T) {
	store := NewStore(map[string]float64{"BTC": 1}, 0, nil)
	ctx := context.Background()

	remote, err := store.CreateOrder(ctx, broker.OrderParams{
		Symbol:    "BTC/USDT",
		OrderType: "stop",
		Side:      broker.SideSell,
		Amount:    1,
		Price:     90,
		HasPrice:  true,
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	store.Advance("BTC/USDT", 95)
	if got, _ := store.FetchOrder(ctx, remote.ID, ""); got.Status != broker.RemoteOpen {
		t.Fatalf("expected stop to stay open above trigger, got %s", got.Status)
	}
	store.Advance("BTC/USDT", 88)
	got, _ := store.FetchOrder(ctx, remote.ID, "")
	if got.Status != broker.RemoteClosed || got.Average != 88 {
		t.Fatalf("expected fill at market price 88, got %+v", got)
	}
	if cash := store.Balances()["USDT"]; cash != 88 {
		t.Fatalf("expected proceeds of 88, got %v", cash)
	}
}

func TestStore_StopLimitArmsThenWaitsForLimit(t *testing.T) {
	store := NewStore(map[string]float64{"USDT": 1000}, 0, nil)
	ctx := context.Background()

	remote, err := store.CreateOrder(ctx, broker.OrderParams{
		Symbol:    "BTC/USDT",
		OrderType: "stop limit",
		Side:      broker.SideBuy,
		Amount:    1,
		Price:     105,
		HasPrice:  true,
		Params:    map[string]interface{}{"stopPrice": "110"},
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	// 触发价之前即便满足限价也不成交
	store.Advance("BTC/USDT", 100)
	if got, _ := store.FetchOrder(ctx, remote.ID, ""); got.Status != broker.RemoteOpen {
		t.Fatalf("expected order to wait for the stop, got %s", got.Status)
	}
	store.Advance("BTC/USDT", 112)
	if got, _ := store.FetchOrder(ctx, remote.ID, ""); got.Status != broker.RemoteOpen {
		t.Fatalf("expected armed order to wait for the limit, got %s", got.Status)
	}
	store.Advance("BTC/USDT", 104)
	got, _ := store.FetchOrder(ctx, remote.ID, "")
	if got.Status != broker.RemoteClosed || got.Average != 105 {
		t.Fatalf("expected fill at limit 105, got %+v", got)
	}
}

func TestStore_UnfundedOrderIsRejected(t *testing.T) {
	store := NewStore(map[string]float64{"USDT": 50}, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	remote, err := store.CreateOrder(ctx, limitParams(broker.SideBuy, 1, 100))
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	store.Advance("BTC/USDT", 100)

	got, _ := store.FetchOrder(ctx, remote.ID, "")
	if got.Status != broker.RemoteRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
	if cash := store.Balances()["USDT"]; cash != 50 {
		t.Fatalf("rejected order must not move cash, got %v", cash)
	}
}

func TestStore_CancelRules(t *testing.T) {
	store := NewStore(map[string]float64{"USDT": 1000}, 0, nil)
	ctx := context.Background()

	open, _ := store.CreateOrder(ctx, limitParams(broker.SideBuy, 1, 50))
	canceled, err := store.CancelOrder(ctx, open.ID, "BTC/USDT")
	if err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	if canceled.Status != broker.RemoteCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}
	if _, err := store.CancelOrder(ctx, open.ID, "BTC/USDT"); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed on second cancel, got %v", err)
	}
	if _, err := store.FetchOrder(ctx, "missing", "BTC/USDT"); !errors.Is(err, broker.ErrRemoteNotFound) {
		t.Fatalf("expected ErrRemoteNotFound, got %v", err)
	}
}

func TestStore_GetValueUsesLastPrices(t *testing.T) {
	store := NewStore(map[string]float64{"usdt": 100, "BTC": 2, "ETH": 3}, 0, nil)
	store.Advance("BTC/USDT", 50)

	value, err := store.GetValue(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("GetValue returned error: %v", err)
	}
	// ETH 无行情，不计入
	if value != 200 {
		t.Fatalf("expected 200, got %v", value)
	}
}

func TestStore_CreateOrderValidation(t *testing.T) {
	store := NewStore(nil, 0, nil)
	ctx := context.Background()

	cases := []broker.OrderParams{
		{Symbol: "BTC/USDT", OrderType: "market", Amount: 0},
		{Symbol: "BTCUSDT", OrderType: "market", Amount: 1},
		{Symbol: "BTC/USDT", OrderType: "iceberg", Amount: 1},
		{Symbol: "BTC/USDT", OrderType: "limit", Amount: 1},
		{Symbol: "BTC/USDT", OrderType: "stop limit", Amount: 1, Price: 10, HasPrice: true, Params: map[string]interface{}{"stopPrice": "abc"}},
	}
	for i, params := range cases {
		if _, err := store.CreateOrder(ctx, params); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, params)
		}
	}
}

func TestStore_DrivesBrokerLifecycle(t *testing.T) {
	store := NewStore(map[string]float64{"USDT": 1000}, 0, nil)
	b, err := broker.New(store, broker.Options{Currency: "USDT"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("broker.New returned error: %v", err)
	}
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	order, err := b.Buy(ctx, nil, broker.Symbol("BTC/USDT"), 1, broker.WithExecType(broker.ExecLimit), broker.WithPrice(100))
	if err != nil {
		t.Fatalf("Buy returned error: %v", err)
	}
	store.Advance("BTC/USDT", 100)

	if err := b.Next(ctx); err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	notif, ok := b.GetNotification()
	if !ok || notif.ID != order.ID || notif.Status != broker.StatusCompleted {
		t.Fatalf("unexpected notification: %+v (ok=%v)", notif, ok)
	}
	if notif.Executed.Price != 100 || notif.Executed.Size != 1 {
		t.Fatalf("unexpected execution: %+v", notif.Executed)
	}

	pos, err := b.GetPosition(ctx, broker.Symbol("BTC/USDT"))
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if pos.Size != 1 || pos.Price != 100 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func limitParams(side broker.Side, amount, price float64) broker.OrderParams {
	return broker.OrderParams{
		Symbol:    "BTC/USDT",
		OrderType: "limit",
		Side:      side,
		Amount:    amount,
		Price:     price,
		HasPrice:  true,
	}
}
