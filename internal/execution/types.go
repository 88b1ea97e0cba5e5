package execution

import (
	"errors"
	"time"

	"trades-sim/internal/ledger"
	"trades-sim/internal/signal"
)

// ErrExecutionConflict 表示该合约已有执行在进行中，本次触发被直接拒绝而非排队。
var ErrExecutionConflict = errors.New("execution: 合约执行锁已被占用")

// Outcome 表示一次执行的结局。
type Outcome string

const (
	// OutcomeOpened 表示成功开仓。
	OutcomeOpened Outcome = "opened"
	// OutcomeClosed 表示成功平仓。
	OutcomeClosed Outcome = "closed"
	// OutcomeReversed 表示先平旧仓再反向开仓。
	OutcomeReversed Outcome = "reversed"
	// OutcomeSkipped 表示因门控规则不需要任何操作。
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRejected 表示指令被校验拒绝，账本未发生变更。
	OutcomeRejected Outcome = "rejected"
)

// Result 为执行结果摘要。
type Result struct {
	Outcome     Outcome                  `json:"outcome"`
	Detail      string                   `json:"detail,omitempty"`
	Signal      signal.TradeSignal       `json:"signal"`
	Position    *ledger.PositionSnapshot `json:"position,omitempty"`
	Closed      *ledger.CloseResult      `json:"closed,omitempty"`
	CloseReason ledger.CloseReason       `json:"close_reason,omitempty"`
	ExecutedAt  time.Time                `json:"executed_at"`
}

// IsRejection 判断错误是否属于可记录的指令拒绝，
// 这类错误不会中止交易会话。
func IsRejection(err error) bool {
	return errors.Is(err, ledger.ErrValidation) ||
		errors.Is(err, ledger.ErrInsufficientBalance) ||
		errors.Is(err, ledger.ErrNoPosition) ||
		errors.Is(err, ledger.ErrPositionExists) ||
		errors.Is(err, ledger.ErrPriceUnavailable) ||
		errors.Is(err, ledger.ErrPriceStale)
}
