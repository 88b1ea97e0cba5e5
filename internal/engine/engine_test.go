package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trades-sim/internal/ai"
	"trades-sim/internal/audit"
	"trades-sim/internal/config"
	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
	"trades-sim/internal/ledger"
	"trades-sim/internal/oracle"
	"trades-sim/internal/signal"
)

const testSymbol = "BTC/USDT:USDT"

type mockMarket struct {
	err error
}

func (m *mockMarket) GetSnapshot(_ context.Context, _ exchange.SnapshotRequest) (exchange.MarketSnapshot, error) {
	if m.err != nil {
		return exchange.MarketSnapshot{}, m.err
	}
	return exchange.MarketSnapshot{
		Symbol:      testSymbol,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

type mockDecider struct {
	mu     sync.Mutex
	output ai.RawOutput
	err    error
	block  chan struct{}
	calls  int
}

func (m *mockDecider) Decide(ctx context.Context, _ ai.DecisionContext) (ai.RawOutput, error) {
	m.mu.Lock()
	m.calls++
	block := m.block
	output, err := m.output, m.err
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ai.RawOutput{}, ctx.Err()
		}
	}
	return output, err
}

func (m *mockDecider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRecorder struct {
	mu     sync.Mutex
	cycles []audit.CyclePayload
	errs   []string
	trades []ledger.ClosedTrade
}

func (m *mockRecorder) RecordCycle(_ context.Context, payload audit.CyclePayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, payload)
}

func (m *mockRecorder) RecordDecision(_ context.Context, _ ai.RawOutput, _ signal.TradeSignal) {}

func (m *mockRecorder) RecordExecution(_ context.Context, _ execution.Result) {}

func (m *mockRecorder) RecordTrade(_ context.Context, trade ledger.ClosedTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
}

func (m *mockRecorder) RecordError(_ context.Context, msg string, _ error, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, msg)
}

func (m *mockRecorder) cycleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cycles)
}

func (m *mockRecorder) lastCycle() (audit.CyclePayload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cycles) == 0 {
		return audit.CyclePayload{}, false
	}
	return m.cycles[len(m.cycles)-1], true
}

type testHarness struct {
	session  *Session
	book     *ledger.Ledger
	prices   *oracle.StaticSource
	decider  *mockDecider
	recorder *mockRecorder
}

func newHarness(t *testing.T, market MarketData, decider *mockDecider) *testHarness {
	t.Helper()

	trading := config.TradingConfig{
		Symbol:             testSymbol,
		InitialBalance:     10000,
		MaxLeverage:        20,
		MinPositionPercent: 0.01,
		MaxPositionPercent: 1.0,
		MinConfidence:      60,
		DefaultTPPercent:   0.05,
		DefaultSLPercent:   0.02,
		PriceMaxAge:        90 * time.Second,
	}

	book := ledger.New(trading.MaxLeverage, trading.PriceMaxAge, nil)
	if _, err := book.Reset(decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	prices := oracle.NewStaticSource()
	prices.Set(testSymbol, decimal.NewFromInt(50000), time.Now().UTC())

	recorder := &mockRecorder{}
	session := NewSession(Options{
		Trading:   trading,
		Scheduler: config.SchedulerConfig{CycleInterval: time.Hour},
		Market:    market,
		Prices:    prices,
		Decider:   decider,
		Norm:      signal.NewNormalizer(trading, nil),
		Exec:      execution.NewController(book, trading, nil),
		Book:      book,
		Recorder:  recorder,
	})

	return &testHarness{
		session:  session,
		book:     book,
		prices:   prices,
		decider:  decider,
		recorder: recorder,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func openLongOutput() ai.RawOutput {
	return ai.RawOutput{
		ToolCalls: []ai.ToolCall{
			{
				Name:      "open_long",
				Arguments: `{"confidence": 80, "leverage": 10, "amount_percent": 10}`,
			},
		},
	}
}

func TestSession_FirstCycleOpensPosition(t *testing.T) {
	h := newHarness(t, &mockMarket{}, &mockDecider{output: openLongOutput()})

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = h.session.Stop() }()

	waitFor(t, func() bool { return h.recorder.cycleCount() >= 1 }, "first cycle")

	payload, _ := h.recorder.lastCycle()
	if payload.Outcome != cycleOutcomeExecuted {
		t.Fatalf("expected executed cycle, got %s (%s)", payload.Outcome, payload.FailureReason)
	}

	pos, ok := h.book.Position(testSymbol)
	if !ok {
		t.Fatalf("expected open position after cycle")
	}
	if pos.Direction != ledger.DirectionLong {
		t.Errorf("expected long direction, got %s", pos.Direction)
	}
}

func TestSession_TriggerRejectedWhileBusy(t *testing.T) {
	block := make(chan struct{})
	decider := &mockDecider{output: openLongOutput(), block: block}
	h := newHarness(t, &mockMarket{}, decider)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	waitFor(t, func() bool { return h.session.State() == StateDeciding }, "deciding state")

	if err := h.session.Trigger(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy while cycle in flight, got %v", err)
	}

	close(block)
	waitFor(t, func() bool { return h.recorder.cycleCount() >= 1 }, "cycle completion")

	if err := h.session.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestSession_TriggerRunsExtraCycle(t *testing.T) {
	decider := &mockDecider{output: ai.RawOutput{Content: "观望"}}
	h := newHarness(t, &mockMarket{}, decider)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = h.session.Stop() }()

	waitFor(t, func() bool {
		return h.recorder.cycleCount() >= 1 && h.session.State() == StateCooldown
	}, "first cycle")

	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	waitFor(t, func() bool { return h.recorder.cycleCount() >= 2 }, "triggered cycle")

	if decider.callCount() < 2 {
		t.Errorf("expected at least 2 decide calls, got %d", decider.callCount())
	}
}

func TestSession_StaleTriggerCoalescesWithFinishedCycle(t *testing.T) {
	decider := &mockDecider{output: ai.RawOutput{Content: "观望"}}
	h := newHarness(t, &mockMarket{}, decider)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = h.session.Stop() }()

	waitFor(t, func() bool {
		return h.recorder.cycleCount() >= 1 && h.session.State() == StateCooldown
	}, "first cycle")

	// 模拟在周期启动窗口内被受理的触发请求：携带的序号早于刚完成的周期，
	// 主循环应将其视为已满足而不追加执行。
	h.session.trigger <- 0
	time.Sleep(50 * time.Millisecond)
	if got := h.recorder.cycleCount(); got != 1 {
		t.Fatalf("expected stale trigger to coalesce with finished cycle, got %d cycles", got)
	}

	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	waitFor(t, func() bool { return h.recorder.cycleCount() >= 2 }, "fresh trigger cycle")
}

func TestSession_TriggerWhenStopped(t *testing.T) {
	h := newHarness(t, &mockMarket{}, &mockDecider{output: ai.RawOutput{Content: "观望"}})

	if err := h.session.Trigger(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning before start, got %v", err)
	}
}

func TestSession_StopIdempotentErrors(t *testing.T) {
	h := newHarness(t, &mockMarket{}, &mockDecider{output: ai.RawOutput{Content: "观望"}})

	if err := h.session.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning for stop before start, got %v", err)
	}

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := h.session.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning for double start, got %v", err)
	}

	if err := h.session.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if h.session.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", h.session.State())
	}
	if err := h.session.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning for second stop, got %v", err)
	}
}

func TestSession_GatherFailureEntersCooldown(t *testing.T) {
	marketErr := errors.New("fetch failed")
	h := newHarness(t, &mockMarket{err: marketErr}, &mockDecider{output: openLongOutput()})

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = h.session.Stop() }()

	waitFor(t, func() bool {
		return h.recorder.cycleCount() >= 1 && h.session.State() == StateCooldown
	}, "failed cycle")

	payload, _ := h.recorder.lastCycle()
	if payload.Outcome != cycleOutcomeFailed {
		t.Fatalf("expected failed cycle, got %s", payload.Outcome)
	}
	if payload.FailureReason == "" {
		t.Errorf("expected failure reason recorded")
	}
	if _, ok := h.book.Position(testSymbol); ok {
		t.Errorf("expected no position after failed cycle")
	}
}

func TestSession_SweepClosesTriggeredPosition(t *testing.T) {
	decider := &mockDecider{output: openLongOutput()}
	h := newHarness(t, &mockMarket{}, decider)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = h.session.Stop() }()

	waitFor(t, func() bool {
		return h.recorder.cycleCount() >= 1 && h.session.State() == StateCooldown
	}, "first cycle")
	if _, ok := h.book.Position(testSymbol); !ok {
		t.Fatalf("expected open position after first cycle")
	}

	// 突破默认止盈价 52500 后，下一周期巡检应平仓
	h.prices.Set(testSymbol, decimal.NewFromInt(53000), time.Now().UTC())
	decider.mu.Lock()
	decider.output = ai.RawOutput{Content: "观望"}
	decider.mu.Unlock()

	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}

	waitFor(t, func() bool {
		history := h.book.History()
		return len(history) == 1 && history[0].Reason == ledger.CloseReasonTakeProfit
	}, "take-profit sweep")

	h.recorder.mu.Lock()
	tradeCount := len(h.recorder.trades)
	h.recorder.mu.Unlock()
	if tradeCount != 1 {
		t.Errorf("expected 1 recorded trade, got %d", tradeCount)
	}
}
