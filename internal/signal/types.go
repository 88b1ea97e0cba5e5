package signal

// Action 表示规范化后的交易动作。
type Action string

const (
	ActionOpenLong  Action = "open_long"
	ActionOpenShort Action = "open_short"
	ActionClose     Action = "close_position"
	ActionHold      Action = "hold"
)

// Direction 表示信号方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionHold  Direction = "hold"
)

// Direction 返回动作对应的信号方向。
func (a Action) Direction() Direction {
	switch a {
	case ActionOpenLong:
		return DirectionLong
	case ActionOpenShort:
		return DirectionShort
	default:
		return DirectionHold
	}
}

// Tier 标识信号来自哪一级解析。
type Tier string

const (
	// TierStructured 表示来自结构化工具调用。
	TierStructured Tier = "structured"
	// TierMarker 表示来自文本中的 ACTION 标记。
	TierMarker Tier = "legacy_marker"
	// TierHeuristic 表示来自关键词启发式推断。
	TierHeuristic Tier = "heuristic"
	// TierNone 表示没有任何可用信号，回落为 hold。
	TierNone Tier = "none"
)

// TradeSignal 为每个周期产生的唯一规范化交易指令。
// 百分比字段内部一律使用小数（0-1），信心度使用0-100。
type TradeSignal struct {
	Action            Action    `json:"action"`
	Direction         Direction `json:"direction"`
	Confidence        float64   `json:"confidence"`
	Leverage          int       `json:"leverage"`
	AmountPercent     float64   `json:"amount_percent"`
	TakeProfitPercent float64   `json:"take_profit_percent"`
	StopLossPercent   float64   `json:"stop_loss_percent"`
	Rationale         string    `json:"rationale,omitempty"`
	Tier              Tier      `json:"tier"`
	Warnings          []string  `json:"warnings,omitempty"`
}

// IsOpen 返回该信号是否请求开仓。
func (s TradeSignal) IsOpen() bool {
	return s.Action == ActionOpenLong || s.Action == ActionOpenShort
}
