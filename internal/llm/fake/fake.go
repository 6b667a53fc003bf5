// Package fake provides a deterministic llm.Client for tests, so the Agent
// Loop is exercisable without a live API key.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/revittco/agentrun/internal/llm"
)

// Client replays a fixed script of responses, one per call to Complete. If
// the script is exhausted it repeats the final entry.
type Client struct {
	mu     sync.Mutex
	script []llm.Response
	calls  int
}

// New creates a Client that returns script[i] on the i-th call, holding on
// the last entry once exhausted.
func New(script ...llm.Response) *Client {
	if len(script) == 0 {
		script = []llm.Response{{Kind: llm.KindFinal, Text: "done"}}
	}
	return &Client{script: script}
}

// Complete ignores req and returns the next scripted response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	select {
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	c.calls++
	return c.script[idx], nil
}

// Calls reports how many times Complete has been invoked.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// EchoToolResults is a convenience script generator for tests: it returns a
// code step followed by a final step whose text is "executed: " plus code.
func EchoToolResults(code string) *Client {
	return New(
		llm.Response{Kind: llm.KindCode, Code: code},
		llm.Response{Kind: llm.KindFinal, Text: fmt.Sprintf("executed: %s", code)},
	)
}
