package ai

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"
)

// 四个固定交易动作以 OpenAI 工具形式声明，
// 模型优先通过结构化调用下达指令。
const (
	ToolOpenLong      = "open_long"
	ToolOpenShort     = "open_short"
	ToolClosePosition = "close_position"
	ToolHold          = "hold"
)

var openParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "confidence": {
      "type": "number",
      "description": "决策信心度，0-100"
    },
    "leverage": {
      "type": "integer",
      "description": "杠杆倍数，整数"
    },
    "amount_percent": {
      "type": "number",
      "description": "投入可用余额的比例，0-1之间的小数"
    },
    "take_profit_percent": {
      "type": "number",
      "description": "止盈距离，相对入场价的比例"
    },
    "stop_loss_percent": {
      "type": "number",
      "description": "止损距离，相对入场价的比例"
    },
    "rationale": {
      "type": "string",
      "description": "支撑结论的关键理由"
    }
  },
  "required": ["confidence", "amount_percent"]
}`)

var closeParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "confidence": {
      "type": "number",
      "description": "决策信心度，0-100"
    },
    "rationale": {
      "type": "string",
      "description": "平仓理由"
    }
  },
  "required": []
}`)

var holdParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "rationale": {
      "type": "string",
      "description": "观望理由"
    }
  },
  "required": []
}`)

func tradeTools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolOpenLong,
				Description: "建立多头仓位",
				Parameters:  openParameters,
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolOpenShort,
				Description: "建立空头仓位",
				Parameters:  openParameters,
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolClosePosition,
				Description: "平掉当前持仓",
				Parameters:  closeParameters,
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolHold,
				Description: "本周期不操作",
				Parameters:  holdParameters,
			},
		},
	}
}
