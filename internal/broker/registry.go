package broker

import (
	"fmt"
	"sync"
)

// Registry 保存本地已知的挂单，按登记顺序排列。
type Registry struct {
	mu     sync.Mutex
	orders []*Order
	index  map[string]*Order
}

// NewRegistry 创建空的订单登记表。
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]*Order)}
}

// Add 登记新提交的订单，订单号重复时返回 ErrDuplicateOrder。
func (r *Registry) Add(order *Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[order.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ID)
	}
	r.orders = append(r.orders, order)
	r.index[order.ID] = order
	return nil
}

// Remove 按订单号移除，不存在时返回 ErrOrderNotFound。
func (r *Registry) Remove(order *Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[order.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}
	delete(r.index, order.ID)
	for i, o := range r.orders {
		if o.ID == order.ID {
			r.orders = append(r.orders[:i], r.orders[i+1:]...)
			break
		}
	}
	return nil
}

// Get 按订单号查找挂单。
func (r *Registry) Get(id string) (*Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.index[id]
	return o, ok
}

// List 返回挂单快照，遍历期间的增删不会影响快照。
func (r *Registry) List() []*Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Order(nil), r.orders...)
}

// Len 返回挂单数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}
