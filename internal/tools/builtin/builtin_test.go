package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/toolreg"
)

func TestMathAddSucceeds(t *testing.T) {
	tool := MathAdd()
	if tool.Approval != domain.ApprovalAuto {
		t.Fatalf("approval = %v, want auto", tool.Approval)
	}
	input, _ := json.Marshal(map[string]float64{"a": 2, "b": 3})
	if err := tool.ValidateInput(input); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
	out, err := tool.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var sum float64
	if err := json.Unmarshal(out, &sum); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if sum != 5 {
		t.Fatalf("sum = %v, want 5", sum)
	}
}

func TestMathAddRejectsMissingField(t *testing.T) {
	tool := MathAdd()
	input, _ := json.Marshal(map[string]float64{"a": 2})
	if err := tool.ValidateInput(input); err == nil {
		t.Fatal("expected a validation error for missing b")
	}
}

func TestCalendarUpdateIsApprovalRequired(t *testing.T) {
	tool := CalendarUpdate()
	if tool.Approval != domain.ApprovalRequired {
		t.Fatalf("approval = %v, want required", tool.Approval)
	}
	input, _ := json.Marshal(map[string]string{"title": "Dinner with Ella", "start": "tomorrow 5pm"})
	preview := tool.PreviewInput(input)
	if preview != "Dinner with Ella at tomorrow 5pm" {
		t.Fatalf("preview = %q", preview)
	}
	out, err := tool.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var result calendarUpdateOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Status != "updated" || result.Title != "Dinner with Ella" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCalendarUpdatePreviewFallsBackWithoutTitle(t *testing.T) {
	tool := CalendarUpdate()
	preview := tool.PreviewInput(json.RawMessage(`{}`))
	if preview == "" {
		t.Fatal("expected a non-empty fallback preview")
	}
}

func TestRegisterAllRegistersBothTools(t *testing.T) {
	reg := toolreg.New()
	if err := RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if _, err := reg.Resolve("math.add"); err != nil {
		t.Fatalf("resolve math.add: %v", err)
	}
	if _, err := reg.Resolve("calendar.update"); err != nil {
		t.Fatalf("resolve calendar.update: %v", err)
	}
}
