package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"trades-sim/internal/ai"
	"trades-sim/internal/audit"
	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
	"trades-sim/internal/indicator"
	"trades-sim/internal/signal"
)

const (
	cycleOutcomeExecuted = "executed"
	cycleOutcomeSkipped  = "skipped"
	cycleOutcomeRejected = "rejected"
	cycleOutcomeConflict = "conflict"
	cycleOutcomeFailed   = "failed"
)

// runCycle 执行一个完整的"采集-决策-执行"周期。
// 任意阶段失败都会记录原因并进入冷却，不影响后续周期。
func (s *Session) runCycle(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
	if !s.setState(StateGathering) {
		return
	}

	startedAt := time.Now().UTC()

	dctx, err := s.gather(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.failCycle(ctx, "采集市场数据失败", err)
		return
	}

	if !s.setState(StateDeciding) {
		return
	}

	raw, err := s.decider.Decide(ctx, dctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.failCycle(ctx, "模型决策失败", err)
		return
	}

	sig := s.norm.Normalize(raw)
	s.recorder.RecordDecision(ctx, raw, sig)

	if !s.setState(StateExecuting) {
		return
	}

	result, execErr := s.exec.Execute(ctx, s.symbol, sig)
	s.finishCycle(ctx, sig, result, execErr, startedAt)
}

// gather 采集价格、推送标记价、巡检止盈止损并组装决策上下文。
func (s *Session) gather(ctx context.Context) (ai.DecisionContext, error) {
	quote, err := s.prices.CurrentPrice(ctx, s.symbol)
	if err != nil {
		return ai.DecisionContext{}, err
	}

	if err := s.book.SetMark(s.symbol, quote.Price, quote.At); err != nil {
		return ai.DecisionContext{}, err
	}

	s.sweepTriggers(ctx)

	snapshot, err := s.market.GetSnapshot(ctx, exchange.DefaultSnapshotRequest())
	if err != nil {
		return ai.DecisionContext{}, err
	}

	s.logger.Debug("市场快照就绪",
		zap.String("symbol", s.symbol),
		zap.Float64("latest_close", snapshot.LatestClose()),
		zap.Int("candles_15m", len(snapshot.Candles15M)),
	)

	summaries := s.summarize(snapshot)

	dctx := ai.DecisionContext{
		Symbol:     s.symbol,
		Quote:      quote,
		Account:    s.book.Account(),
		Indicators: summaries,
		CycleAt:    time.Now().UTC(),
	}
	if pos, ok := s.book.Position(s.symbol); ok {
		dctx.Position = &pos
	}
	return dctx, nil
}

// sweepTriggers 检查当前标记价是否触发持仓的止盈止损。
// 失败只记录，不阻断周期。
func (s *Session) sweepTriggers(ctx context.Context) {
	result, err := s.exec.SweepTriggers(s.symbol)
	if err != nil {
		if !errors.Is(err, execution.ErrExecutionConflict) {
			s.recorder.RecordError(ctx, "止盈止损巡检失败", err, map[string]interface{}{"symbol": s.symbol})
		}
		return
	}
	if result == nil {
		return
	}

	s.logger.Info("持仓触发保护价平仓",
		zap.String("symbol", s.symbol),
		zap.String("reason", string(result.CloseReason)),
	)
	s.recorder.RecordExecution(ctx, *result)
	s.recordLatestTrade(ctx)
}

func (s *Session) summarize(snapshot exchange.MarketSnapshot) []indicator.Summary {
	inputs := []struct {
		timeframe string
		candles   []exchange.Candle
	}{
		{exchange.Timeframe15m, snapshot.Candles15M},
		{exchange.Timeframe1h, snapshot.Candles1H},
		{exchange.Timeframe4h, snapshot.Candles4H},
	}

	summaries := make([]indicator.Summary, 0, len(inputs))
	for _, in := range inputs {
		summary, err := s.calc.Summarize(in.timeframe, in.candles)
		if err != nil {
			s.logger.Warn("指标计算失败",
				zap.String("timeframe", in.timeframe),
				zap.Error(err),
			)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func (s *Session) finishCycle(ctx context.Context, sig signal.TradeSignal, result execution.Result, execErr error, startedAt time.Time) {
	payload := audit.CyclePayload{
		Signal:  &sig,
		Account: s.book.Account(),
	}
	if pos, ok := s.book.Position(s.symbol); ok {
		payload.Position = &pos
	}

	switch {
	case execErr == nil:
		if result.Outcome == execution.OutcomeSkipped {
			payload.Outcome = cycleOutcomeSkipped
			payload.FailureReason = result.Detail
		} else {
			payload.Outcome = cycleOutcomeExecuted
		}
		s.recorder.RecordExecution(ctx, result)
		if result.Closed != nil {
			s.recordLatestTrade(ctx)
		}

	case errors.Is(execErr, execution.ErrExecutionConflict):
		payload.Outcome = cycleOutcomeConflict
		payload.FailureReason = execErr.Error()
		s.logger.Warn("执行锁被占用，本周期跳过", zap.String("symbol", s.symbol))

	case execution.IsRejection(execErr):
		payload.Outcome = cycleOutcomeRejected
		payload.FailureReason = execErr.Error()
		s.recorder.RecordExecution(ctx, result)

	default:
		payload.Outcome = cycleOutcomeFailed
		payload.FailureReason = execErr.Error()
		s.recorder.RecordError(ctx, "执行信号失败", execErr, map[string]interface{}{"symbol": s.symbol})
	}

	s.recorder.RecordCycle(ctx, payload)
	s.logger.Info("周期结束",
		zap.String("outcome", payload.Outcome),
		zap.String("action", string(sig.Action)),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	s.setState(StateCooldown)
}

func (s *Session) failCycle(ctx context.Context, msg string, err error) {
	s.recorder.RecordError(ctx, msg, err, map[string]interface{}{"symbol": s.symbol})

	payload := audit.CyclePayload{
		Outcome:       cycleOutcomeFailed,
		FailureReason: err.Error(),
		Account:       s.book.Account(),
	}
	if pos, ok := s.book.Position(s.symbol); ok {
		payload.Position = &pos
	}
	s.recorder.RecordCycle(ctx, payload)

	s.logger.Error(msg, zap.Error(err), zap.String("symbol", s.symbol))
	s.setState(StateCooldown)
}

// recordLatestTrade 将账本中最新一笔平仓写入审计。
func (s *Session) recordLatestTrade(ctx context.Context) {
	history := s.book.History()
	if len(history) == 0 {
		return
	}
	s.recorder.RecordTrade(ctx, history[len(history)-1])
}
