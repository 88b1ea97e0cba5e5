package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const testSymbol = "BTC/USDT:USDT"

func TestStaticSource_ReturnsQuote(t *testing.T) {
	src := NewStaticSource()
	at := time.Now().UTC()
	src.Set(testSymbol, decimal.NewFromInt(50000), at)

	q, err := src.CurrentPrice(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("CurrentPrice returned error: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("unexpected price %s", q.Price)
	}
	if !q.At.Equal(at) {
		t.Errorf("unexpected timestamp %s", q.At)
	}
	if q.Stale {
		t.Errorf("expected fresh quote")
	}
}

func TestStaticSource_SetStaleFlagsQuote(t *testing.T) {
	src := NewStaticSource()
	src.Set(testSymbol, decimal.NewFromInt(50000), time.Now().UTC())

	src.SetStale(testSymbol, true)
	q, err := src.CurrentPrice(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("CurrentPrice returned error: %v", err)
	}
	if !q.Stale {
		t.Errorf("expected stale quote after SetStale")
	}

	src.SetStale(testSymbol, false)
	q, err = src.CurrentPrice(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("CurrentPrice returned error: %v", err)
	}
	if q.Stale {
		t.Errorf("expected quote fresh again after clearing stale flag")
	}
}

func TestStaticSource_UnknownSymbol(t *testing.T) {
	src := NewStaticSource()

	if _, err := src.CurrentPrice(context.Background(), "ETH/USDT:USDT"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for unknown symbol, got %v", err)
	}
}
