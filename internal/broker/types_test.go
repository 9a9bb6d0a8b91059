package broker

import (
	"context"
	"testing"
)

func TestParseRemoteStatus(t *testing.T) {
	cases := map[string]RemoteStatus{
		"closed":    RemoteClosed,
		"CLOSED":    RemoteClosed,
		"canceled":  RemoteCanceled,
		"cancelled": RemoteCanceled,
		"expired":   RemoteExpired,
		"rejected":  RemoteRejected,
		"open":      RemoteOpen,
		"":          RemoteOpen,
		"pending":   RemoteOpen,
	}
	for raw, want := range cases {
		if got := ParseRemoteStatus(raw); got != want {
			t.Errorf("ParseRemoteStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestOrderTypeFor(t *testing.T) {
	cases := map[ExecType]string{
		ExecMarket:    "market",
		ExecLimit:     "limit",
		ExecStop:      "stop",
		ExecStopLimit: "stop limit",
		ExecType(99):  "market",
	}
	for in, want := range cases {
		if got := OrderTypeFor(in); got != want {
			t.Errorf("OrderTypeFor(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestParseExecType(t *testing.T) {
	if got, ok := ParseExecType("stop_limit"); !ok || got != ExecStopLimit {
		t.Errorf("expected StopLimit, got %v ok=%v", got, ok)
	}
	if got, ok := ParseExecType(""); !ok || got != ExecMarket {
		t.Errorf("expected default Market, got %v ok=%v", got, ok)
	}
	if _, ok := ParseExecType("iceberg"); ok {
		t.Errorf("expected unknown exec type to be rejected")
	}
}

func TestSymbolCurrencies(t *testing.T) {
	if got := BaseCurrency("BTC/USDT"); got != "BTC" {
		t.Errorf("BaseCurrency = %q", got)
	}
	if got := QuoteCurrency("BTC/USDT:USDT"); got != "USDT" {
		t.Errorf("QuoteCurrency = %q", got)
	}
	if got := BaseCurrency("BTC"); got != "BTC" {
		t.Errorf("BaseCurrency without slash = %q", got)
	}
}

func TestPositionBook_FactoryOnMiss(t *testing.T) {
	store := newFakeStore()
	calls := 0
	book := NewPositionBook(store, func(currency string) *Position {
		calls++
		return &Position{Currency: currency, Price: -1}
	})

	if got := book.Cached("ETH"); got.Currency != "ETH" || got.Price != -1 {
		t.Fatalf("unexpected default position: %+v", got)
	}
	_ = book.Cached("ETH")
	if calls != 1 {
		t.Fatalf("expected factory to run once, ran %d times", calls)
	}

	store.positions["ETH"] = Position{Size: 3, Price: 2000}
	got, err := book.Get(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Currency != "ETH" || got.Size != 3 {
		t.Fatalf("unexpected position: %+v", got)
	}
	if cached := book.Cached("ETH"); cached.Size != 3 {
		t.Fatalf("expected cache to hold the read-through value, got %+v", cached)
	}
}
