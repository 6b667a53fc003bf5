// Package llm defines the Agent Loop's contract with a language model
// backend: a single turn of "here is the conversation so far, what do you
// want to do next" that yields either a final answer or a code-mode
// snippet to execute in the sandbox.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Client.Complete when the backend could not
// be reached at all (network, auth, rate limit) as opposed to the backend
// reaching a terminal error answering the prompt.
var ErrUnavailable = errors.New("llm: backend unavailable")

// Role mirrors the small set of roles the Agent Loop needs to reconstruct
// a conversation; it deliberately does not expose provider-specific roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation fed back into the model. ToolPath and
// ReceiptJSON are populated only for RoleTool messages, reporting the
// result of the previous step's code-mode execution.
type Message struct {
	Role        Role
	Text        string
	ToolPath    string
	ReceiptJSON string
}

// ResponseKind tags what the model chose to do this step, per the Agent
// Loop's {kind:"final",text} / {kind:"code",code} contract.
type ResponseKind string

const (
	KindFinal ResponseKind = "final"
	KindCode  ResponseKind = "code"
)

// Response is a single step's output from the model.
type Response struct {
	Kind ResponseKind
	Text string // set when Kind == KindFinal
	Code string // set when Kind == KindCode
}

// Request bundles everything the Agent Loop sends to the backend for one
// step: the system prompt describing the tool catalog and code-mode
// contract, plus the conversation so far.
type Request struct {
	System   string
	History  []Message
	MaxTokens int
}

// Client is the LM backend contract the Agent Loop depends on. Every
// concrete backend (Anthropic, OpenAI, the deterministic fake) implements
// this and nothing more, so the loop is provider-agnostic.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
