package signal

import (
	"math"
	"testing"

	"trades-sim/internal/ai"
	"trades-sim/internal/config"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(config.TradingConfig{
		MaxLeverage:        20,
		MinPositionPercent: 0.01,
		MaxPositionPercent: 1.0,
	}, nil)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalize_StructuredCallWins(t *testing.T) {
	n := newTestNormalizer()

	raw := ai.RawOutput{
		Content: "ACTION: open_short amount=0.5 confidence=90",
		ToolCalls: []ai.ToolCall{
			{
				Name:      "open_long",
				Arguments: `{"confidence": 75, "leverage": 10, "amount_percent": 25, "take_profit_percent": 5, "stop_loss_percent": 2, "rationale": "趋势向上"}`,
			},
		},
	}

	sig := n.Normalize(raw)
	if sig.Action != ActionOpenLong {
		t.Fatalf("expected open_long, got %s", sig.Action)
	}
	if sig.Tier != TierStructured {
		t.Errorf("expected structured tier, got %s", sig.Tier)
	}
	if sig.Confidence != 75 {
		t.Errorf("expected confidence 75, got %f", sig.Confidence)
	}
	if sig.Leverage != 10 {
		t.Errorf("expected leverage 10, got %d", sig.Leverage)
	}
	if !almostEqual(sig.AmountPercent, 0.25) {
		t.Errorf("expected amount 0.25, got %f", sig.AmountPercent)
	}
	if !almostEqual(sig.TakeProfitPercent, 0.05) {
		t.Errorf("expected tp 0.05, got %f", sig.TakeProfitPercent)
	}
	if !almostEqual(sig.StopLossPercent, 0.02) {
		t.Errorf("expected sl 0.02, got %f", sig.StopLossPercent)
	}
	if sig.Rationale != "趋势向上" {
		t.Errorf("unexpected rationale %q", sig.Rationale)
	}
}

func TestNormalize_MalformedStructuredFallsBackToMarker(t *testing.T) {
	n := newTestNormalizer()

	raw := ai.RawOutput{
		Content: "分析如下\nACTION: open_short amount=0.3 leverage=5 confidence=80 tp=4 sl=2",
		ToolCalls: []ai.ToolCall{
			{Name: "open_long", Arguments: `{"leverage": 10}`}, // 缺少 amount_percent 与 confidence
			{Name: "unknown_tool", Arguments: `{}`},
		},
	}

	sig := n.Normalize(raw)
	if sig.Action != ActionOpenShort {
		t.Fatalf("expected open_short from marker, got %s", sig.Action)
	}
	if sig.Tier != TierMarker {
		t.Errorf("expected marker tier, got %s", sig.Tier)
	}
	if sig.Confidence != 80 {
		t.Errorf("expected confidence 80, got %f", sig.Confidence)
	}
	if sig.Leverage != 5 {
		t.Errorf("expected leverage 5, got %d", sig.Leverage)
	}
	if !almostEqual(sig.AmountPercent, 0.3) {
		t.Errorf("expected amount 0.3, got %f", sig.AmountPercent)
	}
	if !almostEqual(sig.TakeProfitPercent, 0.04) {
		t.Errorf("expected tp 0.04, got %f", sig.TakeProfitPercent)
	}
	if len(sig.Warnings) == 0 {
		t.Errorf("expected warnings about degraded parsing")
	}
}

func TestNormalize_ExtraStructuredCallsDiscarded(t *testing.T) {
	n := newTestNormalizer()

	raw := ai.RawOutput{
		ToolCalls: []ai.ToolCall{
			{Name: "close_position", Arguments: `{"rationale": "锁定利润"}`},
			{Name: "open_short", Arguments: `{"confidence": 90, "amount_percent": 50}`},
		},
	}

	sig := n.Normalize(raw)
	if sig.Action != ActionClose {
		t.Fatalf("expected first call close_position, got %s", sig.Action)
	}
	if len(sig.Warnings) == 0 {
		t.Errorf("expected warning about discarded extra calls")
	}
}

func TestNormalize_HeuristicBearishText(t *testing.T) {
	n := newTestNormalizer()

	raw := ai.RawOutput{
		Content: "市场明显走弱，建议做空，跌破支撑后可能继续下跌",
	}

	sig := n.Normalize(raw)
	if sig.Action != ActionOpenShort {
		t.Fatalf("expected open_short from heuristic, got %s", sig.Action)
	}
	if sig.Tier != TierHeuristic {
		t.Errorf("expected heuristic tier, got %s", sig.Tier)
	}
	if sig.Confidence != 65 {
		t.Errorf("expected boosted confidence 65, got %f", sig.Confidence)
	}
	if !almostEqual(sig.AmountPercent, 0.01) {
		t.Errorf("expected minimum amount, got %f", sig.AmountPercent)
	}
}

func TestNormalize_HeuristicCloseText(t *testing.T) {
	n := newTestNormalizer()

	sig := n.Normalize(ai.RawOutput{Content: "行情不确定，建议立即平仓观望"})
	if sig.Action != ActionClose {
		t.Fatalf("expected close_position, got %s", sig.Action)
	}
	if sig.Confidence != 60 {
		t.Errorf("expected confidence 60, got %f", sig.Confidence)
	}
}

func TestNormalize_TiedKeywordsFallThrough(t *testing.T) {
	n := newTestNormalizer()

	sig := n.Normalize(ai.RawOutput{Content: "既可能上涨也可能下跌"})
	if sig.Action != ActionHold {
		t.Fatalf("expected hold on tie, got %s", sig.Action)
	}
	if sig.Tier != TierNone {
		t.Errorf("expected none tier, got %s", sig.Tier)
	}
	if sig.Confidence != 0 {
		t.Errorf("expected zero confidence, got %f", sig.Confidence)
	}
}

func TestNormalize_EmptyOutputYieldsHold(t *testing.T) {
	n := newTestNormalizer()

	sig := n.Normalize(ai.RawOutput{})
	if sig.Action != ActionHold {
		t.Fatalf("expected hold, got %s", sig.Action)
	}
	if sig.Tier != TierNone {
		t.Errorf("expected none tier, got %s", sig.Tier)
	}
	if len(sig.Warnings) == 0 {
		t.Errorf("expected warning about unparseable output")
	}
}

func TestNormalize_ClampsOutOfRangeValues(t *testing.T) {
	n := newTestNormalizer()

	raw := ai.RawOutput{
		ToolCalls: []ai.ToolCall{
			{
				Name:      "open_long",
				Arguments: `{"confidence": 150, "leverage": 100, "amount_percent": 250}`,
			},
		},
	}

	sig := n.Normalize(raw)
	if sig.Confidence != 100 {
		t.Errorf("expected confidence clamped to 100, got %f", sig.Confidence)
	}
	if sig.Leverage != 20 {
		t.Errorf("expected leverage clamped to 20, got %d", sig.Leverage)
	}
	if !almostEqual(sig.AmountPercent, 1.0) {
		t.Errorf("expected amount clamped to 1.0, got %f", sig.AmountPercent)
	}
}
