package broker

import (
	"strings"
	"time"
)

// Side 表示委托方向。
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// ParseSide 将交易所返回的方向字符串转换为 Side。
func ParseSide(raw string) Side {
	if strings.EqualFold(strings.TrimSpace(raw), "sell") {
		return SideSell
	}
	return SideBuy
}

// ExecType 为引擎侧的委托类型。
type ExecType int

const (
	ExecMarket ExecType = iota
	ExecLimit
	ExecStop
	ExecStopLimit
)

var execTypeNames = map[ExecType]string{
	ExecMarket:    "Market",
	ExecLimit:     "Limit",
	ExecStop:      "Stop",
	ExecStopLimit: "StopLimit",
}

func (t ExecType) String() string {
	if name, ok := execTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseExecType 解析配置或 HTTP 请求中的委托类型，无法识别时返回 false。
func ParseExecType(raw string) (ExecType, bool) {
	normalized := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(raw))
	switch normalized {
	case "", "market":
		return ExecMarket, true
	case "limit":
		return ExecLimit, true
	case "stop":
		return ExecStop, true
	case "stoplimit":
		return ExecStopLimit, true
	default:
		return ExecMarket, false
	}
}

// orderTypes 是委托类型到交易所下单类型的固定映射。
var orderTypes = map[ExecType]string{
	ExecMarket:    "market",
	ExecLimit:     "limit",
	ExecStop:      "stop",
	ExecStopLimit: "stop limit",
}

// OrderTypeFor 返回交易所侧的下单类型，未映射的类型按市价处理。
func OrderTypeFor(t ExecType) string {
	if v, ok := orderTypes[t]; ok {
		return v
	}
	return orderTypes[ExecMarket]
}

// Status 为本地订单生命周期状态。
type Status int

const (
	StatusSubmitted Status = iota
	StatusOpen
	StatusCompleted
	StatusCanceled
	StatusExpired
	StatusRejected
)

var statusNames = map[Status]string{
	StatusSubmitted: "Submitted",
	StatusOpen:      "Open",
	StatusCompleted: "Completed",
	StatusCanceled:  "Canceled",
	StatusExpired:   "Expired",
	StatusRejected:  "Rejected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// RemoteStatus 为交易所订单状态的封闭枚举。
type RemoteStatus int

const (
	RemoteOpen RemoteStatus = iota
	RemoteClosed
	RemoteCanceled
	RemoteExpired
	RemoteRejected
)

func (s RemoteStatus) String() string {
	switch s {
	case RemoteClosed:
		return "closed"
	case RemoteCanceled:
		return "canceled"
	case RemoteExpired:
		return "expired"
	case RemoteRejected:
		return "rejected"
	default:
		return "open"
	}
}

// ParseRemoteStatus 转换 ccxt 风格的状态字符串，未知或空值视为挂单中。
func ParseRemoteStatus(raw string) RemoteStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "closed", "filled":
		return RemoteClosed
	case "canceled", "cancelled":
		return RemoteCanceled
	case "expired":
		return RemoteExpired
	case "rejected":
		return RemoteRejected
	default:
		return RemoteOpen
	}
}

// terminalStatus 返回远端状态对应的本地终态。
func (s RemoteStatus) terminalStatus() (Status, bool) {
	switch s {
	case RemoteClosed:
		return StatusCompleted, true
	case RemoteCanceled:
		return StatusCanceled, true
	case RemoteExpired:
		return StatusExpired, true
	case RemoteRejected:
		return StatusRejected, true
	default:
		return StatusOpen, false
	}
}

// RemoteOrder 是交易所订单记录，字段在 Store 边界完成类型转换。
type RemoteOrder struct {
	ID        string
	Symbol    string
	Side      Side
	Type      string
	Status    RemoteStatus
	Amount    float64
	Filled    float64
	Price     float64
	Average   float64
	Timestamp time.Time
	Info      map[string]interface{}
}

// FillSize 返回成交数量，交易所未给出成交量时回退到委托数量。
func (r RemoteOrder) FillSize() float64 {
	if r.Filled > 0 {
		return r.Filled
	}
	return r.Amount
}

// FillPrice 返回成交价，优先使用成交均价。
func (r RemoteOrder) FillPrice() float64 {
	if r.Average > 0 {
		return r.Average
	}
	return r.Price
}

// OrderParams 描述一次交易所下单请求。
type OrderParams struct {
	Symbol    string
	OrderType string
	Side      Side
	Amount    float64
	Price     float64
	HasPrice  bool
	Params    map[string]interface{}
}

// Position 为单一币种的持仓。
type Position struct {
	Currency string
	Size     float64
	Price    float64
}

// Instrument 抽象可交易标的，Symbol 形如 BASE/QUOTE。
type Instrument interface {
	Symbol() string
}

// Symbol 是最简单的 Instrument 实现。
type Symbol string

func (s Symbol) Symbol() string {
	return string(s)
}

// BaseCurrency 返回交易对中第一个 '/' 之前的币种。
func BaseCurrency(symbol string) string {
	s := strings.TrimSpace(symbol)
	if idx := strings.Index(s, "/"); idx >= 0 {
		return s[:idx]
	}
	return s
}

// QuoteCurrency 返回交易对的计价币种，会去掉合约结算后缀（如 BTC/USDT:USDT）。
func QuoteCurrency(symbol string) string {
	s := strings.TrimSpace(symbol)
	idx := strings.Index(s, "/")
	if idx < 0 {
		return ""
	}
	quote := s[idx+1:]
	if colon := strings.Index(quote, ":"); colon >= 0 {
		quote = quote[:colon]
	}
	return quote
}
