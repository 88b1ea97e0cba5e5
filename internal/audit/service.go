package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-sim/internal/ai"
	"trades-sim/internal/execution"
	"trades-sim/internal/ledger"
	"trades-sim/internal/signal"
	"trades-sim/internal/store"
)

// Service 负责持久化审计事件与成交历史。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化审计服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("audit: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("audit: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("audit: 写入事件失败: %w", err)
	}

	return nil
}

// RecordCycle 记录周期结果。
func (s *Service) RecordCycle(ctx context.Context, payload CyclePayload) {
	if err := s.Record(ctx, Event{
		Type:      EventCycle,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录周期事件失败", zap.Error(err))
	}
}

// RecordDecision 记录模型输出与规范化信号。
func (s *Service) RecordDecision(ctx context.Context, raw ai.RawOutput, sig signal.TradeSignal) {
	if err := s.Record(ctx, Event{
		Type:      EventDecision,
		Timestamp: time.Now().UTC(),
		Payload:   DecisionPayload{Raw: raw, Signal: sig},
	}); err != nil {
		s.logger.Warn("记录决策事件失败", zap.Error(err))
	}
}

// RecordExecution 记录执行结果。
func (s *Service) RecordExecution(ctx context.Context, result execution.Result) {
	if err := s.Record(ctx, Event{
		Type:      EventExecution,
		Timestamp: time.Now().UTC(),
		Payload:   ExecutionPayload{Result: result},
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordTrade 记录一笔已平仓交易。
func (s *Service) RecordTrade(ctx context.Context, trade ledger.ClosedTrade) {
	if err := s.Record(ctx, Event{
		Type:      EventTrade,
		Timestamp: time.Now().UTC(),
		Payload:   TradePayload{Trade: trade},
	}); err != nil {
		s.logger.Warn("记录成交事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型分页检索事件，按时间倒序。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT event_type, payload, created_at FROM audit_events`
	args := make([]interface{}, 0, 3)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("audit: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: 读取事件失败: %w", err)
	}

	return events, nil
}

// ListTrades 从事件日志中分页检索已平仓交易，按时间倒序。
// 与账本内存历史不同，该数据跨进程重启仍然可查。
func (s *Service) ListTrades(ctx context.Context, limit, offset int) ([]ledger.ClosedTrade, error) {
	events, err := s.ListEvents(ctx, EventTrade, limit, offset)
	if err != nil {
		return nil, err
	}

	trades := make([]ledger.ClosedTrade, 0, len(events))
	for _, event := range events {
		raw, ok := event.Payload.(json.RawMessage)
		if !ok {
			continue
		}
		var payload TradePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			s.logger.Warn("成交事件负载解析失败", zap.Error(err))
			continue
		}
		trades = append(trades, payload.Trade)
	}
	return trades, nil
}
