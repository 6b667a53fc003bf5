// Package builtin holds a handful of reference tools -- math.add and
// calendar.update -- used by the scenario walkthroughs in the turn runtime
// contract (an auto tool and a required-approval tool, one of each kind)
// and by cmd/agentrund's default seed catalog when no config overrides it.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/toolreg"
)

var mathAddSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"a": {"type": "number"},
		"b": {"type": "number"}
	},
	"required": ["a", "b"]
}`)

type mathAddInput struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// MathAdd is an always-auto tool: no approval gate, pure arithmetic.
func MathAdd() *toolreg.Tool {
	return &toolreg.Tool{
		Path:        "math.add",
		Description: "Add two numbers and return the sum.",
		Approval:    domain.ApprovalAuto,
		InputSchema: mathAddSchema,
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in mathAddInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("math.add: %w", err)
			}
			return json.Marshal(in.A + in.B)
		},
	}
}
