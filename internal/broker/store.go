package broker

import "context"

// Store 抽象交易所能力，鉴权、限频与重试都由实现方负责。
type Store interface {
	CreateOrder(ctx context.Context, params OrderParams) (RemoteOrder, error)
	// FetchOrder 在订单不存在时返回包装了 ErrRemoteNotFound 的错误。
	FetchOrder(ctx context.Context, id, symbol string) (RemoteOrder, error)
	CancelOrder(ctx context.Context, id, symbol string) (RemoteOrder, error)
	GetCash(ctx context.Context, currency string) (float64, error)
	GetValue(ctx context.Context, currency string) (float64, error)
	GetPosition(ctx context.Context, currency string) (Position, error)
}
