// Package openai adapts github.com/openai/openai-go/v3's Chat Completions
// API to the Agent Loop's llm.Client contract, as an alternate backend
// selectable alongside internal/llm/anthropic.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/revittco/agentrun/internal/llm"
)

// Client implements llm.Client against the OpenAI Chat Completions API.
type Client struct {
	client openai.Client
	model  string
}

// New builds a Client from an already-configured SDK client.
func New(client openai.Client, model string) (*Client, error) {
	if model == "" {
		return nil, errors.New("openai: model is required")
	}
	return &Client{client: client, model: model}, nil
}

// NewFromAPIKey builds a Client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(openai.NewClient(option.WithAPIKey(apiKey)), model)
}

// Complete sends req.History as chat messages and parses the single
// returned message content as the Agent Loop's {kind, text|code} envelope.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		switch m.Role {
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(m.Text))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Text))
		case llm.RoleTool:
			messages = append(messages, openai.UserMessage(
				fmt.Sprintf("[tool result for %s]\n%s", m.ToolPath, m.ReceiptJSON)))
		}
	}
	if len(messages) == 0 {
		return llm.Response{}, errors.New("openai: at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return llm.Response{}, errors.New("openai: no choices in response")
	}
	return parseEnvelope(completion.Choices[0].Message.Content)
}

func parseEnvelope(text string) (llm.Response, error) {
	if text == "" {
		return llm.Response{}, errors.New("openai: model returned no content")
	}
	var env struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return llm.Response{Kind: llm.KindFinal, Text: text}, nil
	}
	switch llm.ResponseKind(env.Kind) {
	case llm.KindCode:
		return llm.Response{Kind: llm.KindCode, Code: env.Code}, nil
	default:
		return llm.Response{Kind: llm.KindFinal, Text: env.Text}, nil
	}
}

func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit") {
		return fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
}
