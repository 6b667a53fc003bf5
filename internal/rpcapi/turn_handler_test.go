package rpcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/revittco/agentrun/internal/agentloop"
	"github.com/revittco/agentrun/internal/approval"
	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/llm"
	"github.com/revittco/agentrun/internal/llm/fake"
	"github.com/revittco/agentrun/internal/sandbox"
	"github.com/revittco/agentrun/internal/toolreg"
	"github.com/revittco/agentrun/internal/turn"
)

func newTestServer(t *testing.T, client llm.Client) *httptest.Server {
	t.Helper()
	reg := toolreg.New()
	if err := reg.Register(&toolreg.Tool{
		Path:     "calendar.update",
		Approval: domain.ApprovalRequired,
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(map[string]string{"status": "updated"})
		},
	}); err != nil {
		t.Fatalf("register calendar.update: %v", err)
	}

	approvals := approval.New()
	runner := sandbox.New(reg, approvals, 5*time.Second, 5*time.Second)
	mgr := turn.New(client, runner, approvals, func() string { return "system" },
		turn.WithBudgets(agentloop.Budgets{MaxSteps: 4}),
	)
	approvals.SetEventSink(mgr)

	handler := NewRouter(RouterDeps{Manager: mgr, LongPollTimeout: 2 * time.Second})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func TestRunTurnReturnsFirstEvent(t *testing.T) {
	client := fake.New(llm.Response{Kind: llm.KindFinal, Text: "all done"})
	srv := newTestServer(t, client)

	resp := postJSON(t, srv.URL+"/api/v1/turns", runTurnRequest{
		Prompt:      "do a thing",
		RequesterID: "user-1",
		ChannelID:   "chan-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out turnEventResponse
	decodeBody(t, resp, &out)
	if out.TurnID == "" {
		t.Fatal("expected a non-empty turn_id")
	}
	if out.Event.Type != domain.EventStatus {
		t.Fatalf("first event type = %v, want status", out.Event.Type)
	}
}

func TestRunTurnRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t, fake.New())
	resp := postJSON(t, srv.URL+"/api/v1/turns", runTurnRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestContinueTurnDrainsToCompletion(t *testing.T) {
	client := fake.New(llm.Response{Kind: llm.KindFinal, Text: "all done"})
	srv := newTestServer(t, client)

	resp := postJSON(t, srv.URL+"/api/v1/turns", runTurnRequest{
		Prompt: "do a thing", RequesterID: "user-1", ChannelID: "chan-1",
	})
	var first turnEventResponse
	decodeBody(t, resp, &first)

	var last domain.TurnEvent
	for i := 0; i < 10; i++ {
		r, err := http.Get(srv.URL + "/api/v1/turns/" + first.TurnID + "/next")
		if err != nil {
			t.Fatalf("GET next: %v", err)
		}
		if r.StatusCode == http.StatusNoContent {
			r.Body.Close()
			continue
		}
		var out turnEventResponse
		decodeBody(t, r, &out)
		last = out.Event
		if last.Type == domain.EventCompleted || last.Type == domain.EventFailed {
			break
		}
	}
	if last.Type != domain.EventCompleted {
		t.Fatalf("last event = %+v, want completed", last)
	}
}

func TestContinueTurnUnknownTurnIs404(t *testing.T) {
	srv := newTestServer(t, fake.New())
	resp, err := http.Get(srv.URL + "/api/v1/turns/no-such-turn/next")
	if err != nil {
		t.Fatalf("GET next: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResolveApprovalFlow(t *testing.T) {
	client := fake.EchoToolResults(`tools.calendar.update({title: "x"})`)
	srv := newTestServer(t, client)

	resp := postJSON(t, srv.URL+"/api/v1/turns", runTurnRequest{
		Prompt: "update calendar", RequesterID: "user-1", ChannelID: "chan-1",
	})
	var first turnEventResponse
	decodeBody(t, resp, &first)

	var awaiting domain.TurnEvent
	for i := 0; i < 20; i++ {
		r, err := http.Get(srv.URL + "/api/v1/turns/" + first.TurnID + "/next")
		if err != nil {
			t.Fatalf("GET next: %v", err)
		}
		if r.StatusCode == http.StatusNoContent {
			r.Body.Close()
			time.Sleep(10 * time.Millisecond)
			continue
		}
		var out turnEventResponse
		decodeBody(t, r, &out)
		if out.Event.Type == domain.EventAwaitingApproval {
			awaiting = out.Event
			break
		}
	}
	if awaiting.CallID == "" {
		t.Fatal("expected an awaiting_approval event")
	}

	resp = postJSON(t, srv.URL+"/api/v1/turns/"+first.TurnID+"/approvals/resolve", resolveApprovalRequest{
		CallID:   awaiting.CallID,
		ActorID:  "someone-else",
		Decision: domain.DecisionApproved,
	})
	var unauthorized resolveApprovalResponse
	decodeBody(t, resp, &unauthorized)
	if resp.StatusCode != http.StatusForbidden || unauthorized.Status != approval.StatusUnauthorized {
		t.Fatalf("status = %d/%v, want 403/unauthorized", resp.StatusCode, unauthorized.Status)
	}

	resp = postJSON(t, srv.URL+"/api/v1/turns/"+first.TurnID+"/approvals/resolve", resolveApprovalRequest{
		CallID:   awaiting.CallID,
		ActorID:  "user-1",
		Decision: domain.DecisionApproved,
	})
	var resolved resolveApprovalResponse
	decodeBody(t, resp, &resolved)
	if resp.StatusCode != http.StatusOK || resolved.Status != approval.StatusResolved {
		t.Fatalf("status = %d/%v, want 200/resolved", resp.StatusCode, resolved.Status)
	}
}

func TestAddRuleUnknownTurnReturnsZero(t *testing.T) {
	srv := newTestServer(t, fake.New())
	resp := postJSON(t, srv.URL+"/api/v1/turns/no-such-turn/rules", addRuleRequest{
		ToolPath: "calendar.update",
		Field:    "title",
		Operator: domain.OpEquals,
		Value:    "x",
		Decision: domain.DecisionApproved,
	})
	var out addRuleResponse
	decodeBody(t, resp, &out)
	if out.RulesApplied != 0 {
		t.Fatalf("rules_applied = %d, want 0", out.RulesApplied)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, fake.New())
	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := json.Marshal(map[string]string{"status": "ok"})
	var got map[string]string
	decodeBody(t, resp, &got)
	if got["status"] != "ok" || !strings.Contains(string(body), "ok") {
		t.Fatalf("unexpected health body: %+v", got)
	}
}
