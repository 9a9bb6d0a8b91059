package broker

import (
	"context"
	"fmt"
	"sync"
)

// PositionFactory 在缓存未命中时构造默认持仓。
type PositionFactory func(currency string) *Position

// EmptyPosition 是默认的持仓工厂。
func EmptyPosition(currency string) *Position {
	return &Position{Currency: currency}
}

// PositionBook 按币种缓存持仓，权威数据始终来自 Store。
type PositionBook struct {
	store   Store
	factory PositionFactory

	mu        sync.Mutex
	positions map[string]*Position
}

// NewPositionBook 创建持仓簿，factory 为空时使用 EmptyPosition。
func NewPositionBook(store Store, factory PositionFactory) *PositionBook {
	if factory == nil {
		factory = EmptyPosition
	}
	return &PositionBook{
		store:     store,
		factory:   factory,
		positions: make(map[string]*Position),
	}
}

// Get 从 Store 读取最新持仓并写入缓存。
func (b *PositionBook) Get(ctx context.Context, currency string) (Position, error) {
	remote, err := b.store.GetPosition(ctx, currency)
	if err != nil {
		return Position{}, fmt.Errorf("broker: 获取 %s 持仓失败: %w", currency, err)
	}
	if remote.Currency == "" {
		remote.Currency = currency
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.lookupLocked(currency)
	// 有持仓但交易所未给出均价时沿用缓存价，工厂默认价因此得以保留。
	if remote.Price == 0 && remote.Size != 0 {
		remote.Price = pos.Price
	}
	*pos = remote
	return *pos, nil
}

// Cached 返回缓存中的持仓，未命中时由工厂创建。
func (b *PositionBook) Cached(currency string) Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.lookupLocked(currency)
}

func (b *PositionBook) lookupLocked(currency string) *Position {
	pos, ok := b.positions[currency]
	if !ok {
		pos = b.factory(currency)
		b.positions[currency] = pos
	}
	return pos
}
