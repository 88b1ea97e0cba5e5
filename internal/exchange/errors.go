package exchange

import "errors"

var (
	// ErrMaintenance 表示数据源处于维护状态，需要上层跳过本轮周期。
	ErrMaintenance = errors.New("exchange on maintenance")
)
