package ai

import (
	"time"

	"trades-sim/internal/indicator"
	"trades-sim/internal/ledger"
	"trades-sim/internal/oracle"
)

// DecisionContext 聚合一次决策所需的全部输入。
type DecisionContext struct {
	Symbol     string
	Quote      oracle.Quote
	Account    ledger.AccountSnapshot
	Position   *ledger.PositionSnapshot
	Indicators []indicator.Summary
	CycleAt    time.Time
}

// ToolCall 为模型发起的一次结构化调用。
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// RawOutput 为模型的原始输出。此处不做任何解释，
// 规范化由 signal 包按优先级完成。
type RawOutput struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
}
