package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/toolreg"
)

var calendarUpdateSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"start": {"type": "string"},
		"attendees": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["title", "start"]
}`)

type calendarUpdateInput struct {
	Title     string   `json:"title"`
	Start     string   `json:"start"`
	Attendees []string `json:"attendees"`
}

type calendarUpdateOutput struct {
	Status string `json:"status"`
	Title  string `json:"title"`
}

// CalendarUpdate is an always-required tool: it writes to a shared
// calendar, so every call must clear the Approval Registry first.
func CalendarUpdate() *toolreg.Tool {
	return &toolreg.Tool{
		Path:        "calendar.update",
		Description: "Create or update a calendar event.",
		Approval:    domain.ApprovalRequired,
		InputSchema: calendarUpdateSchema,
		Preview: func(input json.RawMessage) string {
			var in calendarUpdateInput
			if err := json.Unmarshal(input, &in); err != nil || in.Title == "" {
				return domain.DefaultPreview(input)
			}
			if in.Start != "" {
				return fmt.Sprintf("%s at %s", in.Title, in.Start)
			}
			return in.Title
		},
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in calendarUpdateInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("calendar.update: %w", err)
			}
			return json.Marshal(calendarUpdateOutput{Status: "updated", Title: in.Title})
		},
	}
}
