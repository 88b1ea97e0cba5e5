package audit

import (
	"time"

	"trades-sim/internal/ai"
	"trades-sim/internal/execution"
	"trades-sim/internal/ledger"
	"trades-sim/internal/signal"
)

// EventType 表示审计事件类型。
type EventType string

const (
	EventCycle     EventType = "cycle"
	EventDecision  EventType = "decision"
	EventExecution EventType = "execution"
	EventTrade     EventType = "trade"
	EventError     EventType = "error"
)

// Event 封装通用审计事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CyclePayload 记录单个分析周期的最终结果，
// 让操作者能区分"没有值得交易的机会"与"交易被拒绝"。
type CyclePayload struct {
	Outcome       string                   `json:"outcome"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	Signal        *signal.TradeSignal      `json:"signal,omitempty"`
	Account       ledger.AccountSnapshot   `json:"account"`
	Position      *ledger.PositionSnapshot `json:"position,omitempty"`
}

// DecisionPayload 记录模型原始输出与规范化结果。
type DecisionPayload struct {
	Raw    ai.RawOutput       `json:"raw"`
	Signal signal.TradeSignal `json:"signal"`
}

// ExecutionPayload 记录执行结果。
type ExecutionPayload struct {
	Result execution.Result `json:"result"`
}

// TradePayload 记录一笔已平仓交易。
type TradePayload struct {
	Trade ledger.ClosedTrade `json:"trade"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
