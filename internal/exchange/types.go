package exchange

import "time"

const (
	// Timeframe15m 用于短周期动量观察。
	Timeframe15m = "15m"
	// Timeframe1h 为主决策周期。
	Timeframe1h = "1h"
	// Timeframe4h 为趋势过滤周期。
	Timeframe4h = "4h"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketSnapshot 聚合多个时间框架的K线数据。
type MarketSnapshot struct {
	Symbol      string
	Candles15M  []Candle
	Candles1H   []Candle
	Candles4H   []Candle
	RetrievedAt time.Time
}

// SnapshotRequest 控制一次快照采集的参数。
type SnapshotRequest struct {
	Limit15M int
	Limit1H  int
	Limit4H  int
}

// DefaultSnapshotRequest 返回默认快照参数。
func DefaultSnapshotRequest() SnapshotRequest {
	return SnapshotRequest{
		Limit15M: 96,
		Limit1H:  200,
		Limit4H:  120,
	}
}

// LatestClose 返回快照中最新的收盘价，优先使用最细周期。
func (s MarketSnapshot) LatestClose() float64 {
	for _, candles := range [][]Candle{s.Candles15M, s.Candles1H, s.Candles4H} {
		if len(candles) > 0 {
			return candles[len(candles)-1].Close
		}
	}
	return 0
}
