package broker

import (
	"fmt"
	"math"
)

// exchangeParamsKey 为参数包中透传给交易所的嵌套键。
const exchangeParamsKey = "params"

// OrderOption 定制一次下单。
type OrderOption func(*orderRequest)

// WithPrice 指定委托价格。
func WithPrice(price float64) OrderOption {
	return func(r *orderRequest) {
		r.price = price
		r.hasPrice = true
	}
}

// WithExecType 指定委托类型，未指定时为市价。
func WithExecType(t ExecType) OrderOption {
	return func(r *orderRequest) {
		r.execType = t
	}
}

// WithParams 传入参数包，只有其中的 "params" 子对象会被发往交易所。
func WithParams(bag map[string]interface{}) OrderOption {
	return func(r *orderRequest) {
		r.bag = bag
	}
}

type orderRequest struct {
	symbol   string
	side     Side
	size     float64
	price    float64
	hasPrice bool
	execType ExecType
	bag      map[string]interface{}
}

func buildRequest(instrument Instrument, side Side, size float64, opts []OrderOption) (orderRequest, error) {
	if instrument == nil || instrument.Symbol() == "" {
		return orderRequest{}, fmt.Errorf("%w: 标的不能为空", ErrInvalidOrder)
	}
	req := orderRequest{
		symbol:   instrument.Symbol(),
		side:     side,
		size:     size,
		execType: ExecMarket,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&req)
		}
	}

	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return orderRequest{}, fmt.Errorf("%w: 数量必须大于0, got %v", ErrInvalidOrder, size)
	}
	if req.execType != ExecMarket && (!req.hasPrice || req.price <= 0) {
		return orderRequest{}, fmt.Errorf("%w: %s 委托需要有效价格", ErrInvalidOrder, req.execType)
	}
	return req, nil
}

func (r orderRequest) params() OrderParams {
	return OrderParams{
		Symbol:    r.symbol,
		OrderType: OrderTypeFor(r.execType),
		Side:      r.side,
		Amount:    r.size,
		Price:     r.price,
		HasPrice:  r.hasPrice,
		Params:    exchangeParams(r.bag),
	}
}

// exchangeParams 只提取参数包中交易所专用的子对象。
func exchangeParams(bag map[string]interface{}) map[string]interface{} {
	if bag == nil {
		return map[string]interface{}{}
	}
	switch nested := bag[exchangeParamsKey].(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(nested))
		for k, v := range nested {
			out[k] = v
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(nested))
		for k, v := range nested {
			out[k] = v
		}
		return out
	default:
		return map[string]interface{}{}
	}
}
