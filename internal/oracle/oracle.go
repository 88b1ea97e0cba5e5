package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-sim/internal/exchange"
)

// ErrUnavailable 表示数据源当前无法给出价格。
var ErrUnavailable = errors.New("oracle: 价格不可用")

// Quote 为价格快照。Price 字段始终存在，过期与否由 Stale 显式标识，
// 调用方不需要探测任何内部字段。
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
	Stale  bool            `json:"stale"`
}

// Source 提供指定合约的当前价格。
type Source interface {
	CurrentPrice(ctx context.Context, symbol string) (Quote, error)
}

// ExchangeSource 基于行情客户端实现 Source，并缓存最近一次成功结果，
// 拉取失败时返回标记为 Stale 的缓存价格。
type ExchangeSource struct {
	client *exchange.Client
	maxAge time.Duration
	logger *zap.Logger

	mu   sync.Mutex
	last Quote
}

// NewExchangeSource 创建行情价格源。
func NewExchangeSource(client *exchange.Client, maxAge time.Duration, logger *zap.Logger) *ExchangeSource {
	if maxAge <= 0 {
		maxAge = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeSource{
		client: client,
		maxAge: maxAge,
		logger: logger,
	}
}

// CurrentPrice 实现 Source。
func (s *ExchangeSource) CurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	if symbol != s.client.Symbol() {
		return Quote{}, fmt.Errorf("%w: 未知合约 %s", ErrUnavailable, symbol)
	}

	price, ts, err := s.client.FetchLastPrice(ctx)
	if err == nil {
		quote := Quote{
			Symbol: symbol,
			Price:  decimal.NewFromFloat(price),
			At:     ts,
			Stale:  time.Since(ts) > s.maxAge,
		}
		s.mu.Lock()
		s.last = quote
		s.mu.Unlock()
		return quote, nil
	}

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last.At.IsZero() {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Warn("价格拉取失败，回退到缓存报价",
		zap.String("symbol", symbol),
		zap.Time("cached_at", last.At),
		zap.Error(err),
	)

	last.Stale = true
	return last, nil
}

// StaticSource 为测试与离线运行提供固定报价。
type StaticSource struct {
	mu     sync.Mutex
	quotes map[string]Quote
}

// NewStaticSource 创建固定价格源。
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string]Quote)}
}

// Set 写入报价。
func (s *StaticSource) Set(symbol string, price decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = Quote{Symbol: symbol, Price: price, At: at}
}

// SetStale 将报价标记为过期。
func (s *StaticSource) SetStale(symbol string, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.quotes[symbol]; ok {
		q.Stale = stale
		s.quotes[symbol] = q
	}
}

// CurrentPrice 实现 Source。
func (s *StaticSource) CurrentPrice(_ context.Context, symbol string) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}
	return q, nil
}
