package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger 维护模拟账户：余额、保证金、持仓与成交历史。
// 所有资金字段使用定点十进制，避免长周期运行下的浮点漂移。
// 读取返回原子快照，写入全部经过内部互斥锁。
type Ledger struct {
	mu sync.RWMutex

	maxLeverage int
	priceMaxAge time.Duration
	logger      *zap.Logger

	balance    decimal.Decimal
	usedMargin decimal.Decimal
	positions  map[string]*Position
	history    []ClosedTrade
	marks      map[string]mark
}

// New 创建 Ledger，调用方必须先 Reset 注入初始资金。
func New(maxLeverage int, priceMaxAge time.Duration, logger *zap.Logger) *Ledger {
	if maxLeverage < 1 {
		maxLeverage = 1
	}
	if priceMaxAge <= 0 {
		priceMaxAge = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		maxLeverage: maxLeverage,
		priceMaxAge: priceMaxAge,
		logger:      logger,
		positions:   make(map[string]*Position),
		marks:       make(map[string]mark),
	}
}

// Reset 将账户重置为初始余额，清空持仓与历史。幂等。
func (l *Ledger) Reset(initialBalance decimal.Decimal) (AccountSnapshot, error) {
	if initialBalance.LessThanOrEqual(decimal.Zero) {
		return AccountSnapshot{}, fmt.Errorf("%w: 初始余额必须大于0", ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = initialBalance
	l.usedMargin = decimal.Zero
	l.positions = make(map[string]*Position)
	l.history = nil

	l.logger.Info("账本已重置", zap.String("initial_balance", initialBalance.String()))

	return l.accountLocked(), nil
}

// SetMark 更新合约的标记价格。写入价格必须为正。
func (l *Ledger) SetMark(symbol string, price decimal.Decimal, at time.Time) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol 不能为空", ErrValidation)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: 标记价格必须大于0", ErrValidation)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks[symbol] = mark{price: price, at: at}
	return nil
}

// Mark 返回合约最近一次标记价格及其时效状态。
func (l *Ledger) Mark(symbol string) (decimal.Decimal, time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.marks[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, false
	}
	return m.price, m.at, true
}

// Account 返回账户原子快照，按最近已知价格计算浮动盈亏，不做任何网络调用。
func (l *Ledger) Account() AccountSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accountLocked()
}

func (l *Ledger) accountLocked() AccountSnapshot {
	unrealized := decimal.Zero
	for _, pos := range l.positions {
		if m, ok := l.marks[pos.Symbol]; ok {
			unrealized = unrealized.Add(unrealizedPnL(pos, m.price))
		}
	}

	equity := l.balance.Add(unrealized)
	available := equity.Sub(l.usedMargin)

	return AccountSnapshot{
		Balance:          l.balance,
		Equity:           equity,
		UsedMargin:       l.usedMargin,
		AvailableBalance: available,
		UnrealizedPnL:    unrealized,
	}
}

// Position 返回指定合约的持仓快照，第二个返回值标识是否存在持仓。
func (l *Ledger) Position(symbol string) (PositionSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return PositionSnapshot{}, false
	}
	return l.snapshotLocked(pos), true
}

func (l *Ledger) snapshotLocked(pos *Position) PositionSnapshot {
	snapshot := PositionSnapshot{Position: *pos}

	m, ok := l.marks[pos.Symbol]
	if !ok {
		snapshot.MarkStale = true
		return snapshot
	}

	snapshot.MarkPrice = m.price
	snapshot.MarkStale = time.Since(m.at) > l.priceMaxAge
	snapshot.UnrealizedPnL = unrealizedPnL(pos, m.price)
	if pos.Margin.IsPositive() {
		snapshot.UnrealizedPnLPercent = snapshot.UnrealizedPnL.
			Div(pos.Margin).
			Mul(decimal.NewFromInt(100))
	}
	return snapshot
}

// OpenLong 以当前标记价开多仓。
func (l *Ledger) OpenLong(symbol string, leverage int, amountUSDT, tpPrice, slPrice decimal.Decimal) (PositionSnapshot, error) {
	return l.open(symbol, DirectionLong, leverage, amountUSDT, tpPrice, slPrice)
}

// OpenShort 以当前标记价开空仓。
func (l *Ledger) OpenShort(symbol string, leverage int, amountUSDT, tpPrice, slPrice decimal.Decimal) (PositionSnapshot, error) {
	return l.open(symbol, DirectionShort, leverage, amountUSDT, tpPrice, slPrice)
}

func (l *Ledger) open(symbol string, direction Direction, leverage int, amountUSDT, tpPrice, slPrice decimal.Decimal) (PositionSnapshot, error) {
	if symbol == "" {
		return PositionSnapshot{}, fmt.Errorf("%w: symbol 不能为空", ErrValidation)
	}
	if leverage < 1 || leverage > l.maxLeverage {
		return PositionSnapshot{}, fmt.Errorf("%w: leverage=%d 越界，允许范围[1,%d]", ErrValidation, leverage, l.maxLeverage)
	}
	if amountUSDT.LessThanOrEqual(decimal.Zero) {
		return PositionSnapshot{}, fmt.Errorf("%w: 开仓名义金额必须大于0", ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[symbol]; exists {
		return PositionSnapshot{}, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}

	entry, err := l.freshMarkLocked(symbol)
	if err != nil {
		return PositionSnapshot{}, err
	}

	if err := validateProtectivePrices(direction, entry, tpPrice, slPrice); err != nil {
		return PositionSnapshot{}, err
	}

	available := l.accountLocked().AvailableBalance
	levDecimal := decimal.NewFromInt(int64(leverage))
	if amountUSDT.GreaterThan(available.Mul(levDecimal)) {
		return PositionSnapshot{}, fmt.Errorf("%w: 需要名义 %s，可用 %s × 杠杆 %d",
			ErrInsufficientBalance, amountUSDT.String(), available.String(), leverage)
	}

	margin := amountUSDT.Div(levDecimal)

	pos := &Position{
		Symbol:     symbol,
		Direction:  direction,
		EntryPrice: entry,
		Notional:   amountUSDT,
		Leverage:   leverage,
		Size:       amountUSDT.Div(entry),
		Margin:     margin,
		TakeProfit: tpPrice,
		StopLoss:   slPrice,
		OpenedAt:   time.Now().UTC(),
	}

	l.usedMargin = l.usedMargin.Add(margin)
	l.positions[symbol] = pos

	l.logger.Info("开仓成功",
		zap.String("symbol", symbol),
		zap.String("direction", string(direction)),
		zap.Int("leverage", leverage),
		zap.String("entry_price", entry.String()),
		zap.String("notional", amountUSDT.String()),
		zap.String("margin", margin.String()),
	)

	return l.snapshotLocked(pos), nil
}

// ClosePosition 以当前标记价平仓，返回已实现盈亏。
func (l *Ledger) ClosePosition(symbol string, reason CloseReason) (CloseResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return CloseResult{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	exit, err := l.freshMarkLocked(symbol)
	if err != nil {
		return CloseResult{}, err
	}

	realized := unrealizedPnL(pos, exit)

	if l.usedMargin.LessThan(pos.Margin) {
		// 保证金释放越界意味着账本内部状态已损坏，属于不可恢复错误。
		// 校验先于任何写入，失败时账本保持原状。
		return CloseResult{}, fmt.Errorf("ledger: 保证金释放越界 symbol=%s margin=%s", symbol, pos.Margin.String())
	}

	l.balance = l.balance.Add(realized)
	l.usedMargin = l.usedMargin.Sub(pos.Margin)

	delete(l.positions, symbol)
	l.history = append(l.history, ClosedTrade{
		Symbol:      pos.Symbol,
		Direction:   pos.Direction,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		Notional:    pos.Notional,
		RealizedPnL: realized,
		Reason:      reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    time.Now().UTC(),
	})

	l.logger.Info("平仓完成",
		zap.String("symbol", symbol),
		zap.String("reason", string(reason)),
		zap.String("exit_price", exit.String()),
		zap.String("realized_pnl", realized.String()),
	)

	return CloseResult{RealizedPnL: realized, ExitPrice: exit}, nil
}

// History 返回平仓历史的副本，按时间升序。
func (l *Ledger) History() []ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ClosedTrade(nil), l.history...)
}

func (l *Ledger) freshMarkLocked(symbol string) (decimal.Decimal, error) {
	m, ok := l.marks[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	if time.Since(m.at) > l.priceMaxAge {
		return decimal.Zero, fmt.Errorf("%w: %s 最近更新于 %s", ErrPriceStale, symbol, m.at.Format(time.RFC3339))
	}
	return m.price, nil
}

// unrealizedPnL = 方向符号 × (price − entry) / entry × notional。
func unrealizedPnL(pos *Position, price decimal.Decimal) decimal.Decimal {
	if pos.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return price.Sub(pos.EntryPrice).
		Mul(pos.Notional).
		Div(pos.EntryPrice).
		Mul(pos.Direction.Sign())
}

func validateProtectivePrices(direction Direction, entry, tp, sl decimal.Decimal) error {
	if tp.LessThanOrEqual(decimal.Zero) || sl.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: 止盈止损价格必须大于0", ErrValidation)
	}

	switch direction {
	case DirectionLong:
		if !sl.LessThan(entry) || !entry.LessThan(tp) {
			return fmt.Errorf("%w: 多仓要求 sl(%s) < entry(%s) < tp(%s)", ErrValidation, sl, entry, tp)
		}
	case DirectionShort:
		if !tp.LessThan(entry) || !entry.LessThan(sl) {
			return fmt.Errorf("%w: 空仓要求 tp(%s) < entry(%s) < sl(%s)", ErrValidation, tp, entry, sl)
		}
	default:
		return fmt.Errorf("%w: 未知方向 %s", ErrValidation, direction)
	}

	return nil
}
