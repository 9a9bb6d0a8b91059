package monitor

import (
	"time"

	"ccxt-broker/internal/broker"
)

// EventType 表示日志事件类型。
type EventType string

const (
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderCompleted EventType = "order_completed"
	EventOrderCanceled  EventType = "order_canceled"
	EventOrderExpired   EventType = "order_expired"
	EventOrderRejected  EventType = "order_rejected"
	EventAccount        EventType = "account"
	EventError          EventType = "error"
)

// EventTypeFor 返回订单状态对应的事件类型。
func EventTypeFor(status broker.Status) EventType {
	switch status {
	case broker.StatusCompleted:
		return EventOrderCompleted
	case broker.StatusCanceled:
		return EventOrderCanceled
	case broker.StatusExpired:
		return EventOrderExpired
	case broker.StatusRejected:
		return EventOrderRejected
	default:
		return EventOrderSubmitted
	}
}

// Event 封装通用日志事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ExecutionPayload 为订单成交信息。
type ExecutionPayload struct {
	Timestamp time.Time `json:"timestamp,omitempty"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
}

// OrderPayload 记录订单快照。
type OrderPayload struct {
	Ref       string            `json:"ref"`
	ID        string            `json:"id"`
	Symbol    string            `json:"symbol"`
	Side      string            `json:"side"`
	ExecType  string            `json:"exec_type"`
	Status    string            `json:"status"`
	Size      float64           `json:"size"`
	Price     float64           `json:"price,omitempty"`
	Executed  *ExecutionPayload `json:"executed,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewOrderPayload 将订单转换为可序列化的快照。
func NewOrderPayload(order broker.Order) OrderPayload {
	payload := OrderPayload{
		Ref:       order.Ref,
		ID:        order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side.String(),
		ExecType:  order.ExecType.String(),
		Status:    order.Status.String(),
		Size:      order.Size,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	if order.HasPrice {
		payload.Price = order.Price
	}
	if order.Status == broker.StatusCompleted {
		payload.Executed = &ExecutionPayload{
			Timestamp: order.Executed.Timestamp,
			Size:      order.Executed.Size,
			Price:     order.Executed.Price,
		}
	}
	return payload
}

// AccountPayload 追踪账户资金与持仓。
type AccountPayload struct {
	Currency      string            `json:"currency"`
	Cash          float64           `json:"cash"`
	Value         float64           `json:"value"`
	StartingCash  float64           `json:"starting_cash"`
	StartingValue float64           `json:"starting_value"`
	OpenOrders    int               `json:"open_orders"`
	Positions     []broker.Position `json:"positions,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
