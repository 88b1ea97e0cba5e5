package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"trades-sim/internal/config"
)

// Client 封装 OpenAI 调用逻辑。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}
	client := openai.NewClientWithConfig(clientConfig)

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    client,
	}, nil
}

// Decide 根据决策上下文调用模型，返回未经解释的原始输出。
func (c *Client) Decide(ctx context.Context, dctx DecisionContext) (RawOutput, error) {
	if c.cfg.Model == "" {
		return RawOutput{}, errors.New("openai model 不能为空")
	}

	prompt, err := BuildPrompt(dctx)
	if err != nil {
		return RawOutput{}, err
	}

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Tools:       tradeTools(),
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return RawOutput{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return RawOutput{}, errors.New("OpenAI 返回结果为空")
	}

	message := response.Choices[0].Message
	raw := RawOutput{
		Content: strings.TrimSpace(message.Content),
	}
	for _, call := range message.ToolCalls {
		if call.Type != openai.ToolTypeFunction {
			continue
		}
		raw.ToolCalls = append(raw.ToolCalls, ToolCall{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	if raw.Content == "" && len(raw.ToolCalls) == 0 {
		return RawOutput{}, errors.New("OpenAI 返回内容为空")
	}

	c.logger.Info("AI 原始输出已获取",
		zap.Int("tool_calls", len(raw.ToolCalls)),
		zap.Int("content_len", len(raw.Content)),
	)

	return raw, nil
}
