package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction 表示持仓方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign 返回方向对应的盈亏符号。
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// CloseReason 表示平仓原因。
type CloseReason string

const (
	CloseReasonTakeProfit     CloseReason = "take_profit"
	CloseReasonStopLoss       CloseReason = "stop_loss"
	CloseReasonManual         CloseReason = "manual"
	CloseReasonSignalReversal CloseReason = "signal_reversal"
)

// Position 表示单个合约的持仓，每个合约同一时刻最多存在一个。
type Position struct {
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Notional   decimal.Decimal `json:"notional_usdt"`
	Leverage   int             `json:"leverage"`
	Size       decimal.Decimal `json:"size"`
	Margin     decimal.Decimal `json:"margin"`
	TakeProfit decimal.Decimal `json:"take_profit_price"`
	StopLoss   decimal.Decimal `json:"stop_loss_price"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// PositionSnapshot 为持仓的只读投影，附带按最新标记价计算的浮动盈亏。
type PositionSnapshot struct {
	Position
	MarkPrice            decimal.Decimal `json:"mark_price"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
	MarkStale            bool            `json:"mark_stale"`
}

// AccountSnapshot 为账户的原子快照。
type AccountSnapshot struct {
	Balance          decimal.Decimal `json:"balance"`
	Equity           decimal.Decimal `json:"equity"`
	UsedMargin       decimal.Decimal `json:"used_margin"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
}

// ClosedTrade 为已完成交易的不可变记录，按平仓时间追加。
type ClosedTrade struct {
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Notional    decimal.Decimal `json:"notional_usdt"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Reason      CloseReason     `json:"close_reason"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
}

// CloseResult 为一次平仓操作的结果。
type CloseResult struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
}

type mark struct {
	price decimal.Decimal
	at    time.Time
}
