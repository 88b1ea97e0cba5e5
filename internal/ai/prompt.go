package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

const decisionTemplate = `
你是一个专业的加密货币量化交易员，管理一个模拟合约账户。请根据以下市场与账户状态，决定本周期的交易动作。

合约: {{ .Symbol }}
当前价格: {{ .Quote.Price }}{{ if .Quote.Stale }}（注意：该价格已过期）{{ end }}

技术指标：
{{ .IndicatorsJSON }}

账户状态：
- 余额: {{ .Account.Balance }}
- 净值: {{ .Account.Equity }}
- 已用保证金: {{ .Account.UsedMargin }}
- 可用余额: {{ .Account.AvailableBalance }}

{{ if .Position -}}
当前持仓：
- 方向: {{ .Position.Direction }}
- 入场价格: {{ .Position.EntryPrice }}
- 名义金额: {{ .Position.Notional }}
- 杠杆: {{ .Position.Leverage }}
- 浮动盈亏: {{ .Position.UnrealizedPnL }} ({{ .Position.UnrealizedPnLPercent }}%)
- 止盈价: {{ .Position.TakeProfit }}
- 止损价: {{ .Position.StopLoss }}
请优先评估是继续持有还是退出该仓位，而不是盲目提出新开仓。
{{- else -}}
当前无持仓。
{{- end }}

请通过提供的工具（open_long / open_short / close_position / hold）下达唯一指令：
1. 先判断趋势与动量，确认是否存在高胜率方向；
2. 若已有持仓且方向一致，保持即可（hold）；方向相反时考虑 close_position 或反向开仓；
3. 开仓必须给出 confidence、amount_percent，并建议给出 leverage 与止盈止损距离；
4. 不确定时选择 hold，保守处理。
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

type promptContext struct {
	DecisionContext
	IndicatorsJSON string
}

// BuildPrompt 将决策上下文渲染成提示词字符串。
func BuildPrompt(dctx DecisionContext) (string, error) {
	indicatorsJSON, err := json.MarshalIndent(dctx.Indicators, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化指标失败: %w", err)
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, promptContext{
		DecisionContext: dctx,
		IndicatorsJSON:  string(indicatorsJSON),
	}); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
