// Package domain holds the data types shared across the turn runtime:
// receipts, approval requests, rules, and turn events. It has no
// dependencies of its own so every other internal package can import it
// without creating cycles.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ApprovalMode is a tool's declared approval requirement.
type ApprovalMode string

const (
	ApprovalAuto     ApprovalMode = "auto"
	ApprovalRequired ApprovalMode = "required"
)

// Decision is the binary human (or rule, or timeout) outcome of an approval.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// ReceiptDecision records how a tool invocation's approval was settled.
type ReceiptDecision string

const (
	ReceiptAuto     ReceiptDecision = "auto"
	ReceiptApproved ReceiptDecision = "approved"
	ReceiptDenied   ReceiptDecision = "denied"
)

// ReceiptStatus records the outcome of invoking the tool itself.
type ReceiptStatus string

const (
	StatusSucceeded ReceiptStatus = "succeeded"
	StatusFailed    ReceiptStatus = "failed"
	StatusDenied    ReceiptStatus = "denied"
	StatusTimedOut  ReceiptStatus = "timed_out"
)

// Receipt is the immutable record of a single tool invocation.
type Receipt struct {
	ToolPath      string          `json:"tool_path"`
	CallID        string          `json:"call_id"`
	Decision      ReceiptDecision `json:"decision"`
	Status        ReceiptStatus   `json:"status"`
	InputPreview  string          `json:"input_preview"`
	OutputDigest  string          `json:"output_digest,omitempty"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// ApprovalRequest is the public projection of a pending approval handed to
// callers (never includes the raw input, only its preview).
type ApprovalRequest struct {
	CallID       string    `json:"call_id"`
	TurnID       string    `json:"turn_id"`
	ToolPath     string    `json:"tool_path"`
	InputPreview string    `json:"input_preview"`
	CreatedAt    time.Time `json:"created_at"`
}

// PendingApproval is the Approval Registry's internal bookkeeping entry.
type PendingApproval struct {
	CallID          string
	TurnID          string
	RequesterID     string
	ToolPath        string
	Input           json.RawMessage
	CreatedAt       time.Time
	TimeoutDeadline time.Time
	Resolved        bool
}

// Snapshot projects a PendingApproval to the public ApprovalRequest shape.
func (p PendingApproval) Snapshot() ApprovalRequest {
	return ApprovalRequest{
		CallID:       p.CallID,
		TurnID:       p.TurnID,
		ToolPath:     p.ToolPath,
		InputPreview: DefaultPreview(p.Input),
		CreatedAt:    p.CreatedAt,
	}
}

// RuleOperator is the comparison an ApprovalRule applies to a field.
type RuleOperator string

const (
	OpEquals      RuleOperator = "equals"
	OpNotEquals   RuleOperator = "not_equals"
	OpIncludes    RuleOperator = "includes"
	OpNotIncludes RuleOperator = "not_includes"
)

// ApprovalRule auto-resolves future or pending approvals within one turn
// that match a dot-path predicate against the call's input.
type ApprovalRule struct {
	ID       int
	TurnID   string
	ToolPath string
	Field    string
	Operator RuleOperator
	Value    string
	Decision Decision
}

// Matches reports whether the rule's predicate holds against input.
func (r ApprovalRule) Matches(input json.RawMessage) bool {
	fv := getByDotPath(input, r.Field)
	switch r.Operator {
	case OpEquals:
		return fv == r.Value
	case OpNotEquals:
		return fv != r.Value
	case OpIncludes:
		return strings.Contains(fv, r.Value)
	case OpNotIncludes:
		return !strings.Contains(fv, r.Value)
	default:
		return false
	}
}

// getByDotPath extracts a JSON field by a dot-separated path and stringifies
// it. A missing field yields "".
func getByDotPath(input json.RawMessage, field string) string {
	if len(input) == 0 || field == "" {
		return ""
	}
	var cur any
	if err := json.Unmarshal(input, &cur); err != nil {
		return ""
	}
	for _, seg := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = obj[seg]
		if !ok {
			return ""
		}
	}
	return stringify(cur)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// DefaultPreview renders a conservative, truncated JSON projection of an
// input for display when a tool does not supply its own PreviewInput.
func DefaultPreview(input json.RawMessage) string {
	const maxLen = 500
	s := string(input)
	if len(s) > maxLen {
		s = s[:maxLen] + "...(truncated)"
	}
	return s
}

// redactedPlaceholder replaces a secret field's value wherever it appears
// in a redacted preview or persisted receipt.
const redactedPlaceholder = "[REDACTED]"

// RedactFields returns a copy of input with every dot-path in fields
// replaced by a fixed placeholder, plus a map of the original values the
// replacement removed (keyed by dot-path, stringified the same way
// ApprovalRule.Matches reads them). A field absent from input is simply
// skipped. Malformed input is returned unchanged with no extracted values.
func RedactFields(input json.RawMessage, fields []string) (redacted json.RawMessage, extracted map[string]string) {
	extracted = make(map[string]string)
	if len(fields) == 0 || len(input) == 0 {
		return input, extracted
	}
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return input, extracted
	}
	for _, field := range fields {
		if v := getByDotPath(input, field); v != "" {
			extracted[field] = v
		}
		doc = setByDotPath(doc, strings.Split(field, "."), redactedPlaceholder)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return input, extracted
	}
	return b, extracted
}

// DefaultPreviewRedacted is DefaultPreview composed with RedactFields, used
// as a tool's preview when it declares no custom PreviewFunc: per-field
// secrets never reach the truncated projection handed to an approver.
func DefaultPreviewRedacted(input json.RawMessage, secretFields []string) string {
	redacted, _ := RedactFields(input, secretFields)
	return DefaultPreview(redacted)
}

// setByDotPath returns a copy of cur with the value at segs replaced by
// val, creating no new structure: a path through a non-object or a
// missing segment is left untouched.
func setByDotPath(cur any, segs []string, val string) any {
	obj, ok := cur.(map[string]any)
	if !ok {
		return cur
	}
	if len(segs) == 1 {
		if _, present := obj[segs[0]]; present {
			clone := cloneMap(obj)
			clone[segs[0]] = val
			return clone
		}
		return obj
	}
	child, ok := obj[segs[0]]
	if !ok {
		return obj
	}
	clone := cloneMap(obj)
	clone[segs[0]] = setByDotPath(child, segs[1:], val)
	return clone
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TurnState is the lifecycle stage of a TurnSession.
type TurnState string

const (
	TurnRunning          TurnState = "running"
	TurnAwaitingApproval TurnState = "awaiting_approval"
	TurnCompleted        TurnState = "completed"
	TurnFailed           TurnState = "failed"
	TurnCancelled        TurnState = "cancelled"
)

// IsTerminal reports whether state is one a session does not leave.
func (s TurnState) IsTerminal() bool {
	return s == TurnCompleted || s == TurnFailed || s == TurnCancelled
}

// FailureReason is drawn from the closed set spec'd for terminal `failed`
// events.
type FailureReason string

const (
	ReasonStepBudget       FailureReason = "step_budget"
	ReasonTotalTimeout     FailureReason = "total_timeout"
	ReasonBackpressure     FailureReason = "event_backpressure"
	ReasonSandboxFault     FailureReason = "sandbox_fault"
	ReasonLMUnavailable    FailureReason = "lm_unavailable"
	ReasonInternal         FailureReason = "internal"
)

// EventType tags the TurnEvent union.
type EventType string

const (
	EventStatus           EventType = "status"
	EventCodeGenerated     EventType = "code_generated"
	EventToolResult        EventType = "tool_result"
	EventAwaitingApproval  EventType = "awaiting_approval"
	EventApprovalResolved  EventType = "approval_resolved"
	EventAgentMessage      EventType = "agent_message"
	EventFailed            EventType = "failed"
	EventCompleted         EventType = "completed"
)

// TurnEvent is the tagged union emitted per session. Only the fields
// relevant to Type are populated; the rest are zero values.
type TurnEvent struct {
	Type EventType `json:"type"`

	// status
	StatusText string `json:"status_text,omitempty"`

	// code_generated
	Code string `json:"code,omitempty"`

	// tool_result
	Receipt *Receipt `json:"receipt,omitempty"`

	// awaiting_approval
	CallID       string `json:"call_id,omitempty"`
	ToolPath     string `json:"tool_path,omitempty"`
	InputPreview string `json:"input_preview,omitempty"`

	// approval_resolved (reuses CallID above)
	ResolvedDecision Decision `json:"resolved_decision,omitempty"`
	ActorID          string   `json:"actor_id,omitempty"`

	// agent_message
	Text string `json:"text,omitempty"`

	// failed
	Reason     FailureReason `json:"reason,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`

	// completed
	FinalText    string `json:"final_text,omitempty"`
	ReceiptCount int    `json:"receipt_count,omitempty"`
}
