package broker

import "errors"

var (
	// ErrDuplicateOrder 表示同一交易所订单号被重复登记，属于调用方编程错误。
	ErrDuplicateOrder = errors.New("broker: duplicate order id")
	// ErrOrderNotFound 表示本地登记表中不存在该订单。
	ErrOrderNotFound = errors.New("broker: order not found")
	// ErrInvalidOrder 表示下单参数不合法，未发起任何远端调用。
	ErrInvalidOrder = errors.New("broker: invalid order")
	// ErrRemoteNotFound 表示交易所查无此订单。
	ErrRemoteNotFound = errors.New("broker: remote order not found")
)
