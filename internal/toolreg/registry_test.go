package toolreg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/revittco/agentrun/internal/domain"
)

func echoTool(path string, mode domain.ApprovalMode) *Tool {
	return &Tool{
		Path:     path,
		Approval: mode,
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	if err := r.Register(echoTool("calendar.update", domain.ApprovalRequired)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(echoTool("math.add", domain.ApprovalAuto)); err != nil {
		t.Fatalf("register: %v", err)
	}

	tool, err := r.Resolve("calendar.update")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tool.Approval != domain.ApprovalRequired {
		t.Fatalf("got approval %v, want required", tool.Approval)
	}

	if _, err := r.Resolve("calendar.delete"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got err %v, want ErrNotFound", err)
	}
	if _, err := r.Resolve("calendar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolving a sub-tree should be ErrNotFound, got %v", err)
	}
}

func TestRegisterDuplicatePathFails(t *testing.T) {
	r := New()
	if err := r.Register(echoTool("math.add", domain.ApprovalAuto)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(echoTool("math.add", domain.ApprovalAuto))
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("got err %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegisterLeafSubtreeConflict(t *testing.T) {
	r := New()
	if err := r.Register(echoTool("math", domain.ApprovalAuto)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(echoTool("math.add", domain.ApprovalAuto)); err == nil {
		t.Fatal("expected nesting under a leaf to fail")
	}
}

func TestWalkIsLexicographic(t *testing.T) {
	r := New()
	for _, p := range []string{"zeta.one", "alpha.two", "alpha.one"} {
		if err := r.Register(echoTool(p, domain.ApprovalAuto)); err != nil {
			t.Fatalf("register %s: %v", p, err)
		}
	}
	var got []string
	r.Walk(func(path string, tool *Tool) { got = append(got, path) })
	want := []string{"alpha.one", "alpha.two", "zeta.one"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestValidateInputSchema(t *testing.T) {
	tool := &Tool{
		Path:     "calendar.update",
		Approval: domain.ApprovalRequired,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"title": {"type": "string"}},
			"required": ["title"]
		}`),
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
	r := New()
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := tool.ValidateInput(json.RawMessage(`{"title":"Dinner"}`)); err != nil {
		t.Fatalf("expected valid input to pass: %v", err)
	}
	if err := tool.ValidateInput(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}

func TestDefaultPreviewFallsBackToTruncatedJSON(t *testing.T) {
	tool := &Tool{Path: "math.add", Approval: domain.ApprovalAuto}
	got := tool.PreviewInput(json.RawMessage(`{"a":1,"b":2}`))
	if got != `{"a":1,"b":2}` {
		t.Fatalf("got %q", got)
	}
}
