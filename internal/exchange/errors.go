package exchange

import "errors"

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过本轮。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrUnknownMarket 表示交易所不存在该交易对。
	ErrUnknownMarket = errors.New("exchange: unknown market")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	_, retry := classifyError(err)
	return retry
}
