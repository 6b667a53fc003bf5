// Package turn implements the Turn Session Manager: it owns per-turn
// lifecycle (start, event delivery, approval resolution, rule scoping, and
// teardown) and is the thing the RPC Surface actually talks to.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/revittco/agentrun/internal/agentloop"
	"github.com/revittco/agentrun/internal/approval"
	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/llm"
	"github.com/revittco/agentrun/internal/sandbox"
	"github.com/revittco/agentrun/internal/store"
)

// DefaultPostTerminalRetention is how long a terminal session's final event
// stays available to slow readers before the sweeper reclaims it.
const DefaultPostTerminalRetention = 30 * time.Second

// SystemPromptFunc builds the system prompt for a turn, typically rendering
// the tool catalog (path, description, schemas) from a toolreg.Registry.
// Kept as a function rather than a fixed string so Manager stays agnostic
// of how the catalog is assembled.
type SystemPromptFunc func() string

// Manager owns every live turn session. It implements both
// approval.EventSink and agentloop.EventSink (both are just
// Emit(turnID, TurnEvent)), which is how approval and agent-loop events
// reach a session's event log without either package importing turn.
type Manager struct {
	client       llm.Client
	runner       *sandbox.Runner
	approvals    *approval.Registry
	budgets      agentloop.Budgets
	systemPrompt SystemPromptFunc
	retention    time.Duration
	defaultRules []domain.ApprovalRule
	durable      store.Store

	mu       sync.Mutex
	sessions map[string]*session

	wg errgroup.Group
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithBudgets overrides the Agent Loop's default step/time budgets.
func WithBudgets(b agentloop.Budgets) Option {
	return func(m *Manager) { m.budgets = b }
}

// WithPostTerminalRetention overrides DefaultPostTerminalRetention.
func WithPostTerminalRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithDefaultRules installs rule templates that every new turn starts
// with, materialized as real per-turn ApprovalRules at Start time (each
// copy gets its TurnID stamped by AddRule, same as a rule added over the
// RPC Surface mid-turn). This is how a YAML-seeded catalog's default
// approval policy reaches the turn-scoped Approval Registry without
// inventing a turn-independent rule concept: the rules still only ever
// live inside a session, they just get added automatically instead of by
// an explicit ResolveApproval/AddRule call.
func WithDefaultRules(rules []domain.ApprovalRule) Option {
	return func(m *Manager) { m.defaultRules = rules }
}

// WithStore makes every emitted tool_result event's Receipt durable,
// in addition to the in-memory session log WaitForNext reads from. A nil
// store (the default) keeps receipts in-memory only.
func WithStore(s store.Store) Option {
	return func(m *Manager) { m.durable = s }
}

// New builds a Manager. approvals must be the same Registry instance the
// sandbox.Runner passed to Run was constructed with, so resolveApproval and
// the sandbox's own approval gate agree on in-flight calls.
func New(client llm.Client, runner *sandbox.Runner, approvals *approval.Registry, systemPrompt SystemPromptFunc, opts ...Option) *Manager {
	m := &Manager{
		client:       client,
		runner:       runner,
		approvals:    approvals,
		systemPrompt: systemPrompt,
		retention:    DefaultPostTerminalRetention,
		sessions:     make(map[string]*session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Emit appends evt to turnID's session log. Unknown turnIDs are dropped
// silently: this happens for a straggling approval-timeout event racing a
// session that was already torn down.
func (m *Manager) Emit(turnID string, evt domain.TurnEvent) {
	m.mu.Lock()
	s, ok := m.sessions[turnID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.append(evt)

	if m.durable != nil && evt.Receipt != nil {
		if err := m.durable.SaveReceipt(context.Background(), turnID, *evt.Receipt); err != nil {
			slog.Error("persist receipt", "turn_id", turnID, "call_id", evt.Receipt.CallID, "error", err)
		}
	}

	// Teardown (spec: "on terminal emission, cancel any outstanding
	// PendingApproval owned by the session; drop associated rules") happens
	// here, synchronously with the terminal event itself, rather than
	// waiting for the sweeper to gc the session after its retention window.
	// CancelTurn is idempotent, so gc's own later call is harmless.
	if isTerminal(evt.Type) {
		m.approvals.CancelTurn(turnID)
	}
}

// Start creates a session, spawns its agent loop, and returns the new
// turn's id synchronously; the loop itself runs asynchronously and reports
// progress via Emit.
func (m *Manager) Start(ctx context.Context, prompt, requesterID, channelID string, now time.Time) string {
	turnID := uuid.NewString()
	loopCtx, cancel := context.WithCancel(ctx)
	s := newSession(turnID, requesterID, channelID, now, cancel)

	m.mu.Lock()
	m.sessions[turnID] = s
	m.mu.Unlock()

	for _, rule := range m.defaultRules {
		rule.TurnID = turnID
		m.approvals.AddRule(rule)
	}

	loop := agentloop.New(m.client, m.runner, m.budgets, m)
	system := ""
	if m.systemPrompt != nil {
		system = m.systemPrompt()
	}

	// errgroup.Group here is pure goroutine supervision (panic-safe Wait at
	// Shutdown), not cross-turn cancellation: loop.Run never returns a Go
	// error, so one turn's failed/cancelled outcome never aborts another's.
	m.wg.Go(func() error {
		defer cancel()
		loop.Run(loopCtx, turnID, requesterID, system, prompt)
		return nil
	})

	return turnID
}

// WaitForNext is the long-poll primitive backing ContinueTurn: it blocks
// until cursorID's next unread event exists or ctx is done, returning
// ok=false if the turn is unknown (never started, or already garbage
// collected) or ctx fires first.
func (m *Manager) WaitForNext(ctx context.Context, turnID, cursorID string) (domain.TurnEvent, bool) {
	m.mu.Lock()
	s, ok := m.sessions[turnID]
	m.mu.Unlock()
	if !ok {
		return domain.TurnEvent{}, false
	}
	return s.waitNext(cursorID, ctx.Done())
}

// ResolveApproval delegates to the Approval Registry if the turn is known.
// Authorization (actorID must match the turn's requester) is enforced
// inside approval.Registry.Resolve, which is what spec's "authorization
// check uses the session's requesterId" describes in practice, since the
// PendingApproval's RequesterID is always the turn's requesterID.
func (m *Manager) ResolveApproval(turnID, callID, actorID string, decision domain.Decision) approval.ResolveStatus {
	m.mu.Lock()
	_, ok := m.sessions[turnID]
	m.mu.Unlock()
	if !ok {
		return approval.StatusNotFound
	}
	return m.approvals.Resolve(callID, actorID, decision)
}

// AddRule scopes rule to turnID and registers it with the Approval
// Registry. A no-op (returning 0) if the turn is unknown or already torn
// down, matching "persists only while the session exists".
func (m *Manager) AddRule(turnID string, rule domain.ApprovalRule) int {
	m.mu.Lock()
	_, ok := m.sessions[turnID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	rule.TurnID = turnID
	return m.approvals.AddRule(rule)
}

// ListPendingApprovals exposes the Approval Registry's pending queue across
// every live turn, for an operator client (e.g. the TUI approver) that
// wants to discover outstanding approvals without already knowing a
// specific turn id.
func (m *Manager) ListPendingApprovals(excludeRequesterID string) []domain.ApprovalRequest {
	return m.approvals.ListPending(excludeRequesterID)
}

// Cancel requests early termination of turnID's agent loop. The loop's own
// ctx cancellation produces a failed(internal, "cancelled") terminal event
// through the normal Emit path; Cancel does not itself mutate session
// state.
func (m *Manager) Cancel(turnID string) {
	m.mu.Lock()
	s, ok := m.sessions[turnID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
}

// gc removes turnID's session and releases its approvals and rules. Safe to
// call more than once.
func (m *Manager) gc(turnID string) {
	m.mu.Lock()
	_, ok := m.sessions[turnID]
	if ok {
		delete(m.sessions, turnID)
	}
	m.mu.Unlock()
	if ok {
		m.approvals.CancelTurn(turnID)
	}
}

// SweepExpired reclaims every terminal session whose terminal event is
// older than the configured retention, for subscribers that never came
// back to drain it. See Sweeper for the cron-scheduled caller.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		m.mu.Lock()
		s, ok := m.sessions[id]
		m.mu.Unlock()
		if !ok {
			continue
		}
		age, terminal := s.terminalAge()
		if terminal && age >= m.retention {
			m.gc(id)
			n++
		}
	}
	return n
}

// Stats is a point-in-time count of sessions by lifecycle state, mirroring
// the teacher's GetApprovalMetrics SQL aggregate but computed over the live
// in-memory session map.
type Stats struct {
	Running          int
	AwaitingApproval int
	Completed        int
	Failed           int
	Cancelled        int
}

// Snapshot reports Stats across every session still tracked by the
// Manager (terminal sessions are included until the sweeper reclaims
// them).
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	ids := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		ids = append(ids, s)
	}
	m.mu.Unlock()

	var st Stats
	for _, s := range ids {
		switch s.snapshotState() {
		case domain.TurnRunning:
			st.Running++
		case domain.TurnAwaitingApproval:
			st.AwaitingApproval++
		case domain.TurnCompleted:
			st.Completed++
		case domain.TurnFailed:
			st.Failed++
		case domain.TurnCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Shutdown cancels every live turn and waits for their loop goroutines to
// return, then denies any approvals still outstanding.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	for _, s := range m.sessions {
		s.cancel()
	}
	m.mu.Unlock()

	if err := m.wg.Wait(); err != nil {
		return fmt.Errorf("turn: shutdown: %w", err)
	}
	m.approvals.Shutdown()
	return nil
}
