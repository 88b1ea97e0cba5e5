package ledger

import "errors"

var (
	// ErrValidation 表示指令参数非法或越界，账本不会发生任何变更。
	ErrValidation = errors.New("ledger: 参数校验失败")
	// ErrInsufficientBalance 表示可用保证金不足以支撑请求的名义敞口。
	ErrInsufficientBalance = errors.New("ledger: 可用余额不足")
	// ErrNoPosition 表示请求平仓时没有对应持仓。
	ErrNoPosition = errors.New("ledger: 无持仓可平")
	// ErrPositionExists 表示该合约已存在持仓，不允许重复开仓。
	ErrPositionExists = errors.New("ledger: 持仓已存在")
	// ErrPriceUnavailable 表示尚未收到该合约的标记价格，任何执行都必须失败。
	ErrPriceUnavailable = errors.New("ledger: 标记价格不可用")
	// ErrPriceStale 表示标记价格超过允许的最大时效，执行被拒绝。
	ErrPriceStale = errors.New("ledger: 标记价格已过期")
)
