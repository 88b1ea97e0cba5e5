package indicator

import (
	"math"
	"testing"
	"time"

	"trades-sim/internal/exchange"
)

func makeCandles(n int) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 50000.0
	for i := 0; i < n; i++ {
		// 叠加正弦波制造涨跌交替的序列
		price += 120 * math.Sin(float64(i)/5)
		candles[i] = exchange.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price - 50,
			High:      price + 100,
			Low:       price - 100,
			Close:     price,
			Volume:    1000 + 50*float64(i%10),
		}
	}
	return candles
}

func TestSummarize_RejectsShortSeries(t *testing.T) {
	calc := NewCalculator()

	if _, err := calc.Summarize(exchange.Timeframe1h, makeCandles(30)); err == nil {
		t.Fatalf("expected error for short series")
	}
}

func TestSummarize_ProducesIndicators(t *testing.T) {
	calc := NewCalculator()
	candles := makeCandles(120)

	summary, err := calc.Summarize(exchange.Timeframe1h, candles)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}

	if summary.Timeframe != exchange.Timeframe1h {
		t.Errorf("unexpected timeframe %q", summary.Timeframe)
	}
	if summary.Close != candles[len(candles)-1].Close {
		t.Errorf("close mismatch: got %f want %f", summary.Close, candles[len(candles)-1].Close)
	}
	if summary.PreviousClose != candles[len(candles)-2].Close {
		t.Errorf("previous close mismatch")
	}
	if summary.RSI < 0 || summary.RSI > 100 {
		t.Errorf("rsi out of range: %f", summary.RSI)
	}
	if summary.EMA12 <= 0 || summary.EMA26 <= 0 || summary.EMA50 <= 0 {
		t.Errorf("expected positive EMA values: %f %f %f", summary.EMA12, summary.EMA26, summary.EMA50)
	}
	if summary.ATRAbsolute <= 0 {
		t.Errorf("expected positive ATR, got %f", summary.ATRAbsolute)
	}
	if summary.ATRRelative <= 0 || summary.ATRRelative >= 1 {
		t.Errorf("atr relative out of range: %f", summary.ATRRelative)
	}
	if summary.VolumeRatio <= 0 {
		t.Errorf("expected positive volume ratio, got %f", summary.VolumeRatio)
	}
}

func TestSummarize_CachesByLatestCandle(t *testing.T) {
	calc := NewCalculator()
	candles := makeCandles(120)

	first, err := calc.Summarize(exchange.Timeframe1h, candles)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	second, err := calc.Summarize(exchange.Timeframe1h, candles)
	if err != nil {
		t.Fatalf("second Summarize returned error: %v", err)
	}
	if first != second {
		t.Errorf("expected cached summary for identical input")
	}

	extended := append(candles, exchange.Candle{
		Timestamp: candles[len(candles)-1].Timestamp.Add(time.Hour),
		Open:      50000, High: 50100, Low: 49900, Close: 50050, Volume: 1200,
	})
	third, err := calc.Summarize(exchange.Timeframe1h, extended)
	if err != nil {
		t.Fatalf("third Summarize returned error: %v", err)
	}
	if third.Close != 50050 {
		t.Errorf("expected recomputed summary after new candle, got close %f", third.Close)
	}
}
