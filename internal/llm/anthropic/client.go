// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// Agent Loop's llm.Client contract. Unlike a typical tool-calling
// integration, code-mode tool invocation lives entirely in the
// model-authored code string, so the adapter asks the model for a single
// JSON object per step ({"kind":"final","text":...} or
// {"kind":"code","code":...}) rather than using native tool_use blocks.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/revittco/agentrun/internal/llm"
)

// MessagesClient is the subset of the SDK used here, so tests can supply a
// fake without a live API key.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds a Client from an explicit Messages service, for injecting a
// fake in tests.
func New(msg MessagesClient, model string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a Client backed by the real Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, model, maxTokens)
}

// Complete sends req.History as a Messages conversation with req.System as
// the system prompt, and parses the single returned text block as the
// Agent Loop's {kind, text|code} envelope.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	msgs := make([]sdk.MessageParam, 0, len(req.History))
	for _, m := range req.History {
		text := m.Text
		if m.Role == llm.RoleTool {
			text = fmt.Sprintf("[tool result for %s]\n%s", m.ToolPath, m.ReceiptJSON)
		}
		switch m.Role {
		case llm.RoleUser, llm.RoleTool:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		case llm.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		}
	}
	if len(msgs) == 0 {
		return llm.Response{}, errors.New("anthropic: at least one message is required")
	}

	maxTokens := int64(c.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
	}
	return parseEnvelope(msg)
}

func parseEnvelope(msg *sdk.Message) (llm.Response, error) {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return llm.Response{}, errors.New("anthropic: model returned no text content")
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
