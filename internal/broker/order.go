package broker

import (
	"time"

	"github.com/google/uuid"
)

// Execution 记录订单完成时的成交信息。
type Execution struct {
	Timestamp time.Time
	Size      float64
	Price     float64
}

// Order 表示一笔交易意图及其交易所对应订单。
type Order struct {
	Ref       string
	ID        string
	Symbol    string
	Owner     interface{}
	Side      Side
	ExecType  ExecType
	Size      float64
	Price     float64
	HasPrice  bool
	Status    Status
	Executed  Execution
	Remote    RemoteOrder
	CreatedAt time.Time
	UpdatedAt time.Time
}

func newOrder(owner interface{}, req orderRequest, remote RemoteOrder) *Order {
	now := time.Now().UTC()
	size := req.size
	if remote.Amount > 0 {
		size = remote.Amount
	}
	return &Order{
		Ref:       uuid.NewString(),
		ID:        remote.ID,
		Symbol:    firstNonEmpty(remote.Symbol, req.symbol),
		Owner:     owner,
		Side:      req.side,
		ExecType:  req.execType,
		Size:      size,
		Price:     req.price,
		HasPrice:  req.hasPrice,
		Status:    StatusSubmitted,
		Remote:    remote,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Alive 判断订单是否仍处于挂单阶段。
func (o *Order) Alive() bool {
	return o.Status == StatusSubmitted || o.Status == StatusOpen
}

// Clone 返回订单的值拷贝，用于通知队列。
func (o *Order) Clone() Order {
	c := *o
	if o.Remote.Info != nil {
		info := make(map[string]interface{}, len(o.Remote.Info))
		for k, v := range o.Remote.Info {
			info[k] = v
		}
		c.Remote.Info = info
	}
	return c
}

func (o *Order) refresh(remote RemoteOrder) {
	o.Remote = remote
	if o.Status == StatusSubmitted {
		o.Status = StatusOpen
	}
	o.UpdatedAt = time.Now().UTC()
}

// complete 以交易所成交记录标记订单完成。
func (o *Order) complete(remote RemoteOrder) {
	o.Remote = remote
	o.Status = StatusCompleted
	ts := remote.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	o.Executed = Execution{
		Timestamp: ts,
		Size:      remote.FillSize(),
		Price:     remote.FillPrice(),
	}
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) terminate(status Status, remote RemoteOrder) {
	o.Remote = remote
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
