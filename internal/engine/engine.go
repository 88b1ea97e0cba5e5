package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"trades-sim/internal/ai"
	"trades-sim/internal/audit"
	"trades-sim/internal/config"
	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
	"trades-sim/internal/indicator"
	"trades-sim/internal/ledger"
	"trades-sim/internal/oracle"
	"trades-sim/internal/signal"
)

// State 表示会话当前所处阶段。
type State string

const (
	StateIdle      State = "idle"
	StateGathering State = "gathering"
	StateDeciding  State = "deciding"
	StateExecuting State = "executing"
	StateCooldown  State = "cooldown"
	StateStopped   State = "stopped"
)

var (
	// ErrAlreadyRunning 表示会话已启动。
	ErrAlreadyRunning = errors.New("engine: 会话已在运行")
	// ErrNotRunning 表示会话未启动。
	ErrNotRunning = errors.New("engine: 会话未运行")
	// ErrBusy 表示当前正有周期在执行，手动触发被拒绝。
	ErrBusy = errors.New("engine: 周期执行中，拒绝手动触发")
)

// MarketData 提供多周期K线快照。
type MarketData interface {
	GetSnapshot(ctx context.Context, req exchange.SnapshotRequest) (exchange.MarketSnapshot, error)
}

// DecisionProvider 产出模型原始决策输出。
type DecisionProvider interface {
	Decide(ctx context.Context, dctx ai.DecisionContext) (ai.RawOutput, error)
}

// Recorder 持久化周期内产生的审计事件。
type Recorder interface {
	RecordCycle(ctx context.Context, payload audit.CyclePayload)
	RecordDecision(ctx context.Context, raw ai.RawOutput, sig signal.TradeSignal)
	RecordExecution(ctx context.Context, result execution.Result)
	RecordTrade(ctx context.Context, trade ledger.ClosedTrade)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
}

// Session 驱动周期性的"采集-决策-执行"主循环。
type Session struct {
	symbol   string
	interval time.Duration

	market   MarketData
	prices   oracle.Source
	decider  DecisionProvider
	norm     *signal.Normalizer
	exec     *execution.Controller
	book     *ledger.Ledger
	calc     *indicator.Calculator
	recorder Recorder
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	completed uint64
	trigger   chan uint64
}

// Options 聚合会话依赖。
type Options struct {
	Trading   config.TradingConfig
	Scheduler config.SchedulerConfig
	Market    MarketData
	Prices    oracle.Source
	Decider   DecisionProvider
	Norm      *signal.Normalizer
	Exec      *execution.Controller
	Book      *ledger.Ledger
	Calc      *indicator.Calculator
	Recorder  Recorder
	Logger    *zap.Logger
}

// NewSession 创建会话，不启动主循环。
func NewSession(opts Options) *Session {
	interval := opts.Scheduler.CycleInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	calc := opts.Calc
	if calc == nil {
		calc = indicator.NewCalculator()
	}
	return &Session{
		symbol:   opts.Trading.Symbol,
		interval: interval,
		market:   opts.Market,
		prices:   opts.Prices,
		decider:  opts.Decider,
		norm:     opts.Norm,
		exec:     opts.Exec,
		book:     opts.Book,
		calc:     calc,
		recorder: opts.Recorder,
		logger:   logger,
		state:    StateIdle,
		trigger:  make(chan uint64, 1),
	}
}

// State 返回当前会话状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running 返回主循环是否在运行。
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start 启动主循环。立即执行一次周期，之后按固定间隔触发。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateIdle
	s.mu.Unlock()

	go s.run(loopCtx)
	return nil
}

// Stop 停止主循环并等待进行中的周期结束。
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}

// Trigger 请求立即执行一次周期。周期进行中时立刻拒绝，不排队。
// 触发请求携带受理时刻的已完成周期数；若受理后又有周期完成，
// 该请求已被那次周期满足，主循环不再额外执行。
func (s *Session) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return ErrNotRunning
	}
	if s.state == StateGathering || s.state == StateDeciding || s.state == StateExecuting {
		return ErrBusy
	}

	select {
	case s.trigger <- s.completed:
		return nil
	default:
		return ErrBusy
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.logger.Info("会话主循环已启动",
		zap.String("symbol", s.symbol),
		zap.Duration("interval", s.interval),
	)

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("会话主循环已停止")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case seen := <-s.trigger:
			if s.completedCycles() > seen {
				// 受理之后已有周期跑完，触发请求已被满足。
				continue
			}
			s.runCycle(ctx)
		}
	}
}

func (s *Session) completedCycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// setState 切换状态。会话已停止时返回 false。
// 进入冷却态即视为一次周期完成，计数与状态在同一把锁下更新，
// 保证触发请求携带的周期序号与可见状态一致。
func (s *Session) setState(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	s.state = next
	if next == StateCooldown {
		s.completed++
	}
	return true
}
