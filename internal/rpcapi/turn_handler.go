// Package rpcapi adapts the Turn Session Manager's Start/WaitForNext/
// ResolveApproval/AddRule operations onto the three transport-agnostic
// verbs -- RunTurn, ContinueTurn, ResolveApproval -- as an net/http surface.
// The logical verbs don't carry a cursor of their own; this package tracks
// one fixed cursor per turn (rpcCursor) for the primary caller, and hands
// out a fresh cursor per connection to the optional SSE observer stream so
// a second, read-only watcher can replay a turn independently.
package rpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/revittco/agentrun/internal/approval"
	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/turn"
)

// rpcCursor is the cursor id ContinueTurn resumes from. One turn has
// exactly one RunTurn/ContinueTurn caller in the logical-verb model, so a
// constant per-turn cursor is enough; it cannot collide across turns
// because turn.Manager's cursor map is scoped per session.
const rpcCursor = "rpc"

// DefaultLongPollTimeout bounds how long ContinueTurn blocks waiting for a
// new event before returning 204 so the caller can retry.
const DefaultLongPollTimeout = 25 * time.Second

type turnHandler struct {
	mgr         *turn.Manager
	longPollFor time.Duration
}

type runTurnRequest struct {
	Prompt      string `json:"prompt"`
	RequesterID string `json:"requester_id"`
	ChannelID   string `json:"channel_id"`
}

type turnEventResponse struct {
	TurnID string           `json:"turn_id"`
	Event  domain.TurnEvent `json:"event"`
}

// runTurn implements RunTurn: start a session and return its first event.
func (h *turnHandler) runTurn(w http.ResponseWriter, r *http.Request) {
	var body runTurnRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Prompt == "" || body.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "prompt and requester_id are required")
		return
	}

	turnID := h.mgr.Start(context.WithoutCancel(r.Context()), body.Prompt, body.RequesterID, body.ChannelID, time.Now().UTC())

	ctx, cancel := deadlineCtx(r.Context(), h.longPollFor)
	defer cancel()
	evt, ok := h.mgr.WaitForNext(ctx, turnID, rpcCursor)
	if !ok {
		// The loop hasn't emitted anything yet within the wait window; the
		// turn still exists, so the caller should keep polling /next.
		writeJSON(w, http.StatusAccepted, turnEventResponse{TurnID: turnID})
		return
	}
	writeJSON(w, http.StatusOK, turnEventResponse{TurnID: turnID, Event: evt})
}

// continueTurn implements ContinueTurn: block for the next event on the
// turn's rpc cursor.
func (h *turnHandler) continueTurn(w http.ResponseWriter, r *http.Request) {
	turnID := r.PathValue("id")

	ctx, cancel := deadlineCtx(r.Context(), h.longPollFor)
	defer cancel()
	evt, ok := h.mgr.WaitForNext(ctx, turnID, rpcCursor)
	if !ok {
		if ctx.Err() != nil && r.Context().Err() == nil {
			// Our own long-poll deadline fired, not the caller's; nothing
			// new arrived in the window, ask the caller to retry.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, http.StatusNotFound, "turn not found")
		return
	}
	writeJSON(w, http.StatusOK, turnEventResponse{TurnID: turnID, Event: evt})
}

type resolveApprovalRequest struct {
	CallID   string          `json:"call_id"`
	ActorID  string          `json:"actor_id"`
	Decision domain.Decision `json:"decision"`
}

type resolveApprovalResponse struct {
	Status approval.ResolveStatus `json:"status"`
}

// resolveApproval implements ResolveApproval.
func (h *turnHandler) resolveApproval(w http.ResponseWriter, r *http.Request) {
	turnID := r.PathValue("id")

	var body resolveApprovalRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Decision != domain.DecisionApproved && body.Decision != domain.DecisionDenied {
		writeError(w, http.StatusBadRequest, "decision must be approved or denied")
		return
	}

	status := h.mgr.ResolveApproval(turnID, body.CallID, body.ActorID, body.Decision)
	switch status {
	case approval.StatusResolved:
		writeJSON(w, http.StatusOK, resolveApprovalResponse{Status: status})
	case approval.StatusUnauthorized:
		writeJSON(w, http.StatusForbidden, resolveApprovalResponse{Status: status})
	default:
		writeJSON(w, http.StatusNotFound, resolveApprovalResponse{Status: status})
	}
}

type addRuleRequest struct {
	ToolPath string              `json:"tool_path"`
	Field    string              `json:"field"`
	Operator domain.RuleOperator `json:"operator"`
	Value    string              `json:"value"`
	Decision domain.Decision     `json:"decision"`
}

type addRuleResponse struct {
	RulesApplied int `json:"rules_applied"`
}

// addRule exposes turn.Manager.AddRule, the fourth Turn Session Manager
// operation the RPC verbs don't name individually but which ResolveApproval
// callers need to pre-authorize a class of future approvals within a turn.
func (h *turnHandler) addRule(w http.ResponseWriter, r *http.Request) {
	turnID := r.PathValue("id")

	var body addRuleRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	n := h.mgr.AddRule(turnID, domain.ApprovalRule{
		ToolPath: body.ToolPath,
		Field:    body.Field,
		Operator: body.Operator,
		Value:    body.Value,
		Decision: body.Decision,
	})
	writeJSON(w, http.StatusOK, addRuleResponse{RulesApplied: n})
}

// cancelTurn requests early termination of a turn, surfacing
// turn.Manager.Cancel for operator-initiated aborts of a whole run rather
// than one call within it.
func (h *turnHandler) cancelTurn(w http.ResponseWriter, r *http.Request) {
	turnID := r.PathValue("id")
	h.mgr.Cancel(turnID)
	w.WriteHeader(http.StatusAccepted)
}

type listPendingApprovalsResponse struct {
	Approvals []domain.ApprovalRequest `json:"approvals"`
}

// listPendingApprovals lets an operator client discover outstanding
// approvals across every live turn without already knowing a turn id,
// optionally excluding its own requests via ?exclude_requester_id=.
func (h *turnHandler) listPendingApprovals(w http.ResponseWriter, r *http.Request) {
	exclude := r.URL.Query().Get("exclude_requester_id")
	approvals := h.mgr.ListPendingApprovals(exclude)
	writeJSON(w, http.StatusOK, listPendingApprovalsResponse{Approvals: approvals})
}

// stream serves an independent, replay-from-start SSE observer of a turn's
// events, for dashboards that want to watch without owning the rpc cursor.
func (h *turnHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	turnID := r.PathValue("id")
	cursorID := "sse-" + uuid.NewString()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()

	// One background goroutine pumps events for the life of the
	// connection; spawning a fresh one per select iteration would leave a
	// goroutine permanently blocked in WaitForNext every time a heartbeat
	// tick won the race instead of an event.
	type result struct {
		evt domain.TurnEvent
		ok  bool
	}
	events := make(chan result)
	go func() {
		defer close(events)
		for {
			evt, ok := h.mgr.WaitForNext(ctx, turnID, cursorID)
			select {
			case events <- result{evt, ok}:
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case res, chOpen := <-events:
			if !chOpen || !res.ok {
				return
			}
			data, err := json.Marshal(res.evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if res.evt.Type == domain.EventCompleted || res.evt.Type == domain.EventFailed {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()
		}
	}
}

// deadlineCtx derives a context that gives up after wait even if parent
// itself has no deadline, so ContinueTurn/RunTurn never block a caller
// forever waiting on a turn that stalls.
func deadlineCtx(parent context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, wait)
}
