package broker

import "sync"

// NotificationQueue 是订单终态通知的先进先出队列，出队永不阻塞。
type NotificationQueue struct {
	mu    sync.Mutex
	items []Order
}

// NewNotificationQueue 创建空队列。
func NewNotificationQueue() *NotificationQueue {
	return &NotificationQueue{}
}

// Put 将订单拷贝入队。
func (q *NotificationQueue) Put(order Order) {
	q.mu.Lock()
	q.items = append(q.items, order)
	q.mu.Unlock()
}

// Get 取出最早的通知，队列为空时第二个返回值为 false。
func (q *NotificationQueue) Get() (Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Order{}, false
	}
	head := q.items[0]
	q.items[0] = Order{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return head, true
}

// Len 返回待取通知数。
func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
