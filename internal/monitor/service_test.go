package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ccxt-broker/internal/broker"
	"ccxt-broker/internal/config"
	"ccxt-broker/internal/store"
)

func TestServiceRecordsOrderLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	order := broker.Order{
		Ref:       "ref-1",
		ID:        "ord-1",
		Symbol:    "BTC/USDT",
		Side:      broker.SideBuy,
		ExecType:  broker.ExecLimit,
		Size:      1,
		Price:     100,
		HasPrice:  true,
		Status:    broker.StatusSubmitted,
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	svc.RecordOrder(ctx, order)

	order.Status = broker.StatusCompleted
	order.Executed = broker.Execution{Size: 1, Price: 99.5, Timestamp: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)}
	order.UpdatedAt = order.Executed.Timestamp
	svc.RecordOrder(ctx, order)

	history, err := svc.OrderHistory(ctx, "ord-1")
	if err != nil {
		t.Fatalf("OrderHistory returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].Type != EventOrderSubmitted || history[1].Type != EventOrderCompleted {
		t.Fatalf("unexpected event order: %s, %s", history[0].Type, history[1].Type)
	}

	var payload OrderPayload
	if err := json.Unmarshal(history[1].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Executed == nil || payload.Executed.Price != 99.5 || payload.Status != "Completed" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if !history[1].Timestamp.Equal(order.UpdatedAt) {
		t.Fatalf("expected event timestamp to follow the order, got %s", history[1].Timestamp)
	}
}

func TestServiceListEventsFiltersByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordAccount(ctx, AccountPayload{Currency: "USDT", Cash: 10, Value: 20})
	svc.RecordError(ctx, "轮询失败", errors.New("boom"), map[string]interface{}{"symbol": "BTC/USDT"})
	svc.RecordAccount(ctx, AccountPayload{Currency: "USDT", Cash: 11, Value: 21})

	accounts, err := svc.ListEvents(ctx, EventAccount, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 account events, got %d", len(accounts))
	}

	var latest AccountPayload
	if err := json.Unmarshal(accounts[0].Payload.(json.RawMessage), &latest); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if latest.Cash != 11 {
		t.Fatalf("expected newest event first, got %+v", latest)
	}

	all, err := svc.ListEvents(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(all))
	}
}

func TestEventTypeFor(t *testing.T) {
	cases := map[broker.Status]EventType{
		broker.StatusSubmitted: EventOrderSubmitted,
		broker.StatusOpen:      EventOrderSubmitted,
		broker.StatusCompleted: EventOrderCompleted,
		broker.StatusCanceled:  EventOrderCanceled,
		broker.StatusExpired:   EventOrderExpired,
		broker.StatusRejected:  EventOrderRejected,
	}
	for status, want := range cases {
		if got := EventTypeFor(status); got != want {
			t.Fatalf("EventTypeFor(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}
