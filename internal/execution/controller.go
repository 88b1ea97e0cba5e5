package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-sim/internal/config"
	"trades-sim/internal/ledger"
	"trades-sim/internal/signal"
)

// Controller 将规范化信号落实到账本，并保证同一合约同一时刻
// 最多只有一次开/平仓在执行。锁在所有退出路径上都会释放；
// 锁被占用时立即失败而不是排队等待。
type Controller struct {
	ledger *ledger.Ledger
	cfg    config.TradingConfig
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewController 创建执行控制器。
func NewController(book *ledger.Ledger, cfg config.TradingConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		ledger: book,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (c *Controller) lockFor(symbol string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[symbol] = lock
	}
	return lock
}

// Execute 在合约执行锁内校验并应用信号。
func (c *Controller) Execute(ctx context.Context, symbol string, sig signal.TradeSignal) (Result, error) {
	lock := c.lockFor(symbol)
	if !lock.TryLock() {
		return Result{}, fmt.Errorf("%w: %s", ErrExecutionConflict, symbol)
	}
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result := Result{
		Signal:     sig,
		ExecutedAt: time.Now().UTC(),
	}

	switch sig.Action {
	case signal.ActionHold:
		result.Outcome = OutcomeSkipped
		result.Detail = "信号为 hold，无需操作"
		return result, nil

	case signal.ActionClose:
		closed, err := c.ledger.ClosePosition(symbol, ledger.CloseReasonManual)
		if err != nil {
			result.Outcome = OutcomeRejected
			result.Detail = err.Error()
			return result, err
		}
		result.Outcome = OutcomeClosed
		result.Closed = &closed
		result.CloseReason = ledger.CloseReasonManual
		return result, nil

	case signal.ActionOpenLong, signal.ActionOpenShort:
		return c.executeOpen(symbol, sig, result)

	default:
		result.Outcome = OutcomeRejected
		result.Detail = fmt.Sprintf("未知动作 %s", sig.Action)
		return result, fmt.Errorf("%w: 未知动作 %s", ledger.ErrValidation, sig.Action)
	}
}

func (c *Controller) executeOpen(symbol string, sig signal.TradeSignal, result Result) (Result, error) {
	if sig.Confidence < c.cfg.MinConfidence {
		result.Outcome = OutcomeSkipped
		result.Detail = fmt.Sprintf("信心度 %.0f 低于门槛 %.0f，不开仓", sig.Confidence, c.cfg.MinConfidence)
		return result, nil
	}

	direction := ledger.DirectionLong
	if sig.Action == signal.ActionOpenShort {
		direction = ledger.DirectionShort
	}

	var reversed *ledger.CloseResult
	if pos, exists := c.ledger.Position(symbol); exists {
		if pos.Direction == direction {
			// 位置感知门控：同方向持仓已存在时视为空操作，避免重复建仓。
			result.Outcome = OutcomeSkipped
			result.Detail = fmt.Sprintf("已持有 %s 同方向仓位", pos.Direction)
			return result, nil
		}

		closed, err := c.ledger.ClosePosition(symbol, ledger.CloseReasonSignalReversal)
		if err != nil {
			result.Outcome = OutcomeRejected
			result.Detail = fmt.Sprintf("反向信号平仓失败: %v", err)
			return result, err
		}
		reversed = &closed
		result.CloseReason = ledger.CloseReasonSignalReversal
	}

	mark, _, ok := c.ledger.Mark(symbol)
	if !ok {
		result.Outcome = OutcomeRejected
		result.Detail = "标记价格不可用"
		return result, fmt.Errorf("%w: %s", ledger.ErrPriceUnavailable, symbol)
	}

	amount := c.ledger.Account().AvailableBalance.
		Mul(decimal.NewFromFloat(sig.AmountPercent)).
		Mul(decimal.NewFromInt(int64(sig.Leverage)))

	tpPrice, slPrice := c.protectivePrices(direction, mark, sig)

	var (
		position ledger.PositionSnapshot
		err      error
	)
	if direction == ledger.DirectionLong {
		position, err = c.ledger.OpenLong(symbol, sig.Leverage, amount, tpPrice, slPrice)
	} else {
		position, err = c.ledger.OpenShort(symbol, sig.Leverage, amount, tpPrice, slPrice)
	}
	if err != nil {
		result.Outcome = OutcomeRejected
		result.Detail = err.Error()
		result.Closed = reversed
		return result, err
	}

	result.Position = &position
	result.Closed = reversed
	if reversed != nil {
		result.Outcome = OutcomeReversed
	} else {
		result.Outcome = OutcomeOpened
	}
	return result, nil
}

// protectivePrices 由信号中的止盈止损距离推导价格，缺省时使用配置默认值。
func (c *Controller) protectivePrices(direction ledger.Direction, mark decimal.Decimal, sig signal.TradeSignal) (decimal.Decimal, decimal.Decimal) {
	tpPct := sig.TakeProfitPercent
	if tpPct <= 0 {
		tpPct = c.cfg.DefaultTPPercent
	}
	slPct := sig.StopLossPercent
	if slPct <= 0 {
		slPct = c.cfg.DefaultSLPercent
	}

	one := decimal.NewFromInt(1)
	tpDelta := decimal.NewFromFloat(tpPct)
	slDelta := decimal.NewFromFloat(slPct)

	if direction == ledger.DirectionLong {
		return mark.Mul(one.Add(tpDelta)), mark.Mul(one.Sub(slDelta))
	}
	return mark.Mul(one.Sub(tpDelta)), mark.Mul(one.Add(slDelta))
}

// SweepTriggers 检查持仓是否触及止盈/止损价，触及则平仓。
// 锁被占用时直接跳过本次巡检。
func (c *Controller) SweepTriggers(symbol string) (*Result, error) {
	lock := c.lockFor(symbol)
	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrExecutionConflict, symbol)
	}
	defer lock.Unlock()

	pos, exists := c.ledger.Position(symbol)
	if !exists {
		return nil, nil
	}

	mark, _, ok := c.ledger.Mark(symbol)
	if !ok {
		return nil, nil
	}

	var reason ledger.CloseReason
	switch pos.Direction {
	case ledger.DirectionLong:
		if mark.GreaterThanOrEqual(pos.TakeProfit) {
			reason = ledger.CloseReasonTakeProfit
		} else if mark.LessThanOrEqual(pos.StopLoss) {
			reason = ledger.CloseReasonStopLoss
		}
	case ledger.DirectionShort:
		if mark.LessThanOrEqual(pos.TakeProfit) {
			reason = ledger.CloseReasonTakeProfit
		} else if mark.GreaterThanOrEqual(pos.StopLoss) {
			reason = ledger.CloseReasonStopLoss
		}
	}

	if reason == "" {
		return nil, nil
	}

	closed, err := c.ledger.ClosePosition(symbol, reason)
	if err != nil {
		return nil, err
	}

	c.logger.Info("保护价触发平仓",
		zap.String("symbol", symbol),
		zap.String("reason", string(reason)),
		zap.String("realized_pnl", closed.RealizedPnL.String()),
	)

	return &Result{
		Outcome:     OutcomeClosed,
		Detail:      "保护价触发",
		Closed:      &closed,
		CloseReason: reason,
		ExecutedAt:  time.Now().UTC(),
	}, nil
}
