package indicator

import (
	"fmt"
	"sync"

	talib "github.com/markcheno/go-talib"

	"trades-sim/internal/exchange"
)

// 指标窗口需要足够的K线才能得到稳定数值。
const minCandles = 60

// Summary 汇总单个时间框架的关键技术指标，供决策提示词使用。
type Summary struct {
	Timeframe     string  `json:"timeframe"`
	Close         float64 `json:"close"`
	PreviousClose float64 `json:"previous_close"`
	EMA12         float64 `json:"ema12"`
	EMA26         float64 `json:"ema26"`
	EMA50         float64 `json:"ema50"`
	MACDValue     float64 `json:"macd_value"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
	RSI           float64 `json:"rsi"`
	ATRAbsolute   float64 `json:"atr_absolute"`
	ATRRelative   float64 `json:"atr_relative"`
	VolumeRatio   float64 `json:"volume_ratio"`
}

type cacheEntry struct {
	key     string
	summary Summary
}

// Calculator 提供技术指标计算并带有简单缓存。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Summarize 依据给定K线计算指标摘要。
func (c *Calculator) Summarize(timeframe string, candles []exchange.Candle) (Summary, error) {
	if len(candles) < minCandles {
		return Summary{}, fmt.Errorf("indicator: %s 周期K线不足，需要至少 %d 根，当前 %d 根", timeframe, minCandles, len(candles))
	}

	series := NewSeries(candles)
	cacheKey := fmt.Sprintf("%s:%d:%d", timeframe, series.Len(), series.Timestamps[len(series.Timestamps)-1].Unix())

	c.mu.Lock()
	if entry, ok := c.cache[timeframe]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.summary, nil
	}
	c.mu.Unlock()

	summary := c.calculate(timeframe, series)

	c.mu.Lock()
	c.cache[timeframe] = cacheEntry{key: cacheKey, summary: summary}
	c.mu.Unlock()

	return summary, nil
}

func (c *Calculator) calculate(timeframe string, series Series) Summary {
	closePrices := series.Close
	highs := series.High
	lows := series.Low
	volumes := series.Volume

	ema12 := talib.Ema(closePrices, 12)
	ema26 := talib.Ema(closePrices, 26)
	ema50 := talib.Ema(closePrices, 50)

	macd, macdSignal, macdHist := talib.Macd(closePrices, 12, 26, 9)

	rsi := talib.Rsi(closePrices, 14)

	atr := talib.Atr(highs, lows, closePrices, 14)

	lastClose := Last(closePrices)
	atrAbs := Last(atr)

	volumeAvg20 := averageTail(volumes, 20)
	volumeRatio := SafeDivide(Last(volumes), volumeAvg20)

	return Summary{
		Timeframe:     timeframe,
		Close:         lastClose,
		PreviousClose: Prev(closePrices),
		EMA12:         Last(ema12),
		EMA26:         Last(ema26),
		EMA50:         Last(ema50),
		MACDValue:     Last(macd),
		MACDSignal:    Last(macdSignal),
		MACDHistogram: Last(macdHist),
		RSI:           Last(rsi),
		ATRAbsolute:   atrAbs,
		ATRRelative:   SafeDivide(atrAbs, lastClose),
		VolumeRatio:   volumeRatio,
	}
}
