package signal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"trades-sim/internal/ai"
	"trades-sim/internal/config"
)

// Normalizer 将决策参与者的原始输出规范化为唯一的 TradeSignal。
// 解析按三级优先级进行：结构化调用 → ACTION 文本标记 → 关键词启发式；
// 上一级缺少必填字段时降级到下一级，而不是让整个周期失败。
type Normalizer struct {
	maxLeverage int
	minPercent  float64
	maxPercent  float64
	logger      *zap.Logger
}

// NewNormalizer 创建 Normalizer。
func NewNormalizer(cfg config.TradingConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxLeverage := cfg.MaxLeverage
	if maxLeverage < 1 {
		maxLeverage = 1
	}
	minPercent := cfg.MinPositionPercent
	if minPercent <= 0 {
		minPercent = 0.01
	}
	maxPercent := cfg.MaxPositionPercent
	if maxPercent <= 0 || maxPercent > 1 {
		maxPercent = 1
	}
	return &Normalizer{
		maxLeverage: maxLeverage,
		minPercent:  minPercent,
		maxPercent:  maxPercent,
		logger:      logger,
	}
}

// Normalize 总是返回恰好一个信号；无法解析时返回信心度为0的 hold。
func (n *Normalizer) Normalize(raw ai.RawOutput) TradeSignal {
	var warnings []string

	if sig, ok := n.fromToolCalls(raw.ToolCalls, &warnings); ok {
		sig.Warnings = warnings
		n.logResult(sig)
		return sig
	}

	if sig, ok := n.fromMarker(raw.Content, &warnings); ok {
		sig.Warnings = warnings
		n.logResult(sig)
		return sig
	}

	if sig, ok := n.fromHeuristic(raw.Content, &warnings); ok {
		sig.Warnings = warnings
		n.logResult(sig)
		return sig
	}

	warnings = append(warnings, "未能从任何层级提取可用信号")
	sig := TradeSignal{
		Action:    ActionHold,
		Direction: DirectionHold,
		Tier:      TierNone,
		Warnings:  warnings,
	}
	n.logResult(sig)
	return sig
}

type callArguments struct {
	Confidence        *float64 `json:"confidence"`
	Leverage          *float64 `json:"leverage"`
	AmountPercent     *float64 `json:"amount_percent"`
	TakeProfitPercent *float64 `json:"take_profit_percent"`
	StopLossPercent   *float64 `json:"stop_loss_percent"`
	Rationale         string   `json:"rationale"`
}

func (n *Normalizer) fromToolCalls(calls []ai.ToolCall, warnings *[]string) (TradeSignal, bool) {
	if len(calls) == 0 {
		return TradeSignal{}, false
	}

	for i, call := range calls {
		action, ok := parseAction(call.Name)
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("忽略未知工具调用 %q", call.Name))
			continue
		}

		var args callArguments
		if strings.TrimSpace(call.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				*warnings = append(*warnings, fmt.Sprintf("工具调用 %q 参数无法解析: %v", call.Name, err))
				continue
			}
		}

		if action == ActionOpenLong || action == ActionOpenShort {
			if args.AmountPercent == nil || *args.AmountPercent <= 0 {
				*warnings = append(*warnings, fmt.Sprintf("工具调用 %q 缺少 amount_percent，降级解析", call.Name))
				continue
			}
			if args.Confidence == nil {
				*warnings = append(*warnings, fmt.Sprintf("工具调用 %q 缺少 confidence，降级解析", call.Name))
				continue
			}
		}

		if rest := len(calls) - i - 1; rest > 0 {
			*warnings = append(*warnings, fmt.Sprintf("丢弃 %d 个多余的结构化调用", rest))
		}

		sig := TradeSignal{
			Action:    action,
			Direction: action.Direction(),
			Rationale: args.Rationale,
			Tier:      TierStructured,
		}
		if args.Confidence != nil {
			sig.Confidence = clamp(*args.Confidence, 0, 100)
		}
		n.fillOpenFields(&sig, args.Leverage, args.AmountPercent, args.TakeProfitPercent, args.StopLossPercent)
		return sig, true
	}

	return TradeSignal{}, false
}

// fromMarker 解析形如 `ACTION: open_long amount=0.25 leverage=10 confidence=70` 的文本指令。
func (n *Normalizer) fromMarker(content string, warnings *[]string) (TradeSignal, bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.HasPrefix(upper, "ACTION:") {
			continue
		}

		fields := strings.Fields(strings.TrimSpace(line[len("ACTION:"):]))
		if len(fields) == 0 {
			*warnings = append(*warnings, "ACTION 标记缺少动作名，降级解析")
			continue
		}

		action, ok := parseAction(fields[0])
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("ACTION 标记包含未知动作 %q，降级解析", fields[0]))
			continue
		}

		kv := make(map[string]float64)
		for _, field := range fields[1:] {
			parts := strings.SplitN(field, "=", 2)
			if len(parts) != 2 {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("ACTION 标记字段 %q 无法解析", field))
				continue
			}
			kv[strings.ToLower(strings.TrimSpace(parts[0]))] = value
		}

		sig := TradeSignal{
			Action:    action,
			Direction: action.Direction(),
			Tier:      TierMarker,
		}

		if action == ActionOpenLong || action == ActionOpenShort {
			amount, ok := lookupFirst(kv, "amount", "amount_percent")
			if !ok || amount <= 0 {
				*warnings = append(*warnings, "ACTION 标记缺少 amount，降级解析")
				continue
			}
			confidence, _ := lookupFirst(kv, "confidence", "conf")
			sig.Confidence = clamp(confidence, 0, 100)

			var leverage, tp, sl *float64
			if v, ok := lookupFirst(kv, "leverage", "lev"); ok {
				leverage = &v
			}
			if v, ok := lookupFirst(kv, "tp", "take_profit"); ok {
				tp = &v
			}
			if v, ok := lookupFirst(kv, "sl", "stop_loss"); ok {
				sl = &v
			}
			n.fillOpenFields(&sig, leverage, &amount, tp, sl)
		} else if confidence, ok := lookupFirst(kv, "confidence", "conf"); ok {
			sig.Confidence = clamp(confidence, 0, 100)
		}

		return sig, true
	}

	return TradeSignal{}, false
}

var (
	bullishKeywords = []string{"bullish", "做多", "看多", "看涨", "买入", "上涨", "breakout", "go long", "买进"}
	bearishKeywords = []string{"bearish", "做空", "看空", "看跌", "卖出", "下跌", "breakdown", "go short", "抛售"}
	closeKeywords   = []string{"平仓", "close position", "exit position", "清仓", "离场"}
	strongKeywords  = []string{"strongly", "强烈", "明显", "显著", "significant", "clear"}
)

// fromHeuristic 从自由文本中推断方向与粗略信心度。
func (n *Normalizer) fromHeuristic(content string, warnings *[]string) (TradeSignal, bool) {
	text := strings.ToLower(content)
	if strings.TrimSpace(text) == "" {
		return TradeSignal{}, false
	}

	if countMatches(text, closeKeywords) > 0 {
		return TradeSignal{
			Action:     ActionClose,
			Direction:  DirectionHold,
			Confidence: 60,
			Tier:       TierHeuristic,
		}, true
	}

	bull := countMatches(text, bullishKeywords)
	bear := countMatches(text, bearishKeywords)
	if bull == bear {
		if bull > 0 {
			*warnings = append(*warnings, "看多与看空关键词数量相同，无法判定方向")
		}
		return TradeSignal{}, false
	}

	confidence := 55.0
	if countMatches(text, strongKeywords) > 0 {
		confidence = 65
	}

	action := ActionOpenLong
	if bear > bull {
		action = ActionOpenShort
	}

	sig := TradeSignal{
		Action:     action,
		Direction:  action.Direction(),
		Confidence: confidence,
		Tier:       TierHeuristic,
	}
	amount := n.minPercent
	n.fillOpenFields(&sig, nil, &amount, nil, nil)
	return sig, true
}

// fillOpenFields 将数值字段收敛到各自的合法区间，百分比统一转为小数。
func (n *Normalizer) fillOpenFields(sig *TradeSignal, leverage, amount, tp, sl *float64) {
	if !sig.IsOpen() {
		return
	}

	sig.Leverage = 1
	if leverage != nil {
		sig.Leverage = int(clamp(*leverage, 1, float64(n.maxLeverage)))
	}

	if amount != nil {
		sig.AmountPercent = clamp(asFraction(*amount), n.minPercent, n.maxPercent)
	}
	if tp != nil && *tp > 0 {
		sig.TakeProfitPercent = asFraction(*tp)
	}
	if sl != nil && *sl > 0 {
		sig.StopLossPercent = asFraction(*sl)
	}
}

func (n *Normalizer) logResult(sig TradeSignal) {
	n.logger.Info("信号规范化完成",
		zap.String("action", string(sig.Action)),
		zap.String("tier", string(sig.Tier)),
		zap.Float64("confidence", sig.Confidence),
		zap.Float64("amount_percent", sig.AmountPercent),
		zap.Strings("warnings", sig.Warnings),
	)
}

func parseAction(name string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(name))) {
	case ActionOpenLong:
		return ActionOpenLong, true
	case ActionOpenShort:
		return ActionOpenShort, true
	case ActionClose:
		return ActionClose, true
	case ActionHold:
		return ActionHold, true
	default:
		return "", false
	}
}

func lookupFirst(kv map[string]float64, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := kv[key]; ok {
			return v, true
		}
	}
	return 0, false
}

func countMatches(text string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		count += strings.Count(text, keyword)
	}
	return count
}

// asFraction 兼容边界上以0-100表示的百分比，内部统一为0-1小数。
func asFraction(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
