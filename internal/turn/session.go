package turn

import (
	"sync"
	"time"

	"github.com/revittco/agentrun/internal/domain"
)

// session is one turn's event log plus the cursors reading it. Its zero
// value is not usable; construct via newSession.
type session struct {
	id          string
	requesterID string
	channelID   string
	createdAt   time.Time

	cancel func()

	mu         sync.Mutex
	cond       *sync.Cond
	events     []domain.TurnEvent
	cursors    map[string]int
	state      domain.TurnState
	terminalAt time.Time
}

func newSession(id, requesterID, channelID string, now time.Time, cancel func()) *session {
	s := &session{
		id:          id,
		requesterID: requesterID,
		channelID:   channelID,
		createdAt:   now,
		cancel:      cancel,
		cursors:     make(map[string]int),
		state:       domain.TurnRunning,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// append adds evt to the log and wakes every blocked waitNext call. If evt
// is a terminal event the session's state is updated and terminalAt is
// stamped, so the sweeper can reclaim it after the retention window.
func (s *session) append(evt domain.TurnEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	switch {
	case isTerminal(evt.Type) && s.terminalAt.IsZero():
		s.terminalAt = time.Now().UTC()
		s.state = terminalState(evt)
	case evt.Type == domain.EventAwaitingApproval:
		s.state = domain.TurnAwaitingApproval
	case evt.Type == domain.EventApprovalResolved && s.terminalAt.IsZero():
		s.state = domain.TurnRunning
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// waitNext blocks until the event at cursorID's position exists or done
// fires, returning ok=false only when done fires first. A cursor that has
// never been seen starts at position 0.
func (s *session) waitNext(cursorID string, done <-chan struct{}) (domain.TurnEvent, bool) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-done:
			s.cond.Broadcast()
		case <-stop:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		pos := s.cursors[cursorID]
		if pos < len(s.events) {
			evt := s.events[pos]
			s.cursors[cursorID] = pos + 1
			return evt, true
		}
		select {
		case <-done:
			return domain.TurnEvent{}, false
		default:
		}
		s.cond.Wait()
	}
}

func (s *session) terminalAge() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalAt.IsZero() {
		return 0, false
	}
	return time.Since(s.terminalAt), true
}

func (s *session) snapshotState() domain.TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func isTerminal(t domain.EventType) bool {
	return t == domain.EventCompleted || t == domain.EventFailed
}

// terminalState maps a terminal TurnEvent to a TurnState. A failed event
// whose Reason is internal and whose Diagnostic is "cancelled" represents an
// externally cancelled turn: the closed domain.EventType set has no
// dedicated "cancelled" wire event, so agentloop.Loop folds cancellation
// into EventFailed and this is where that folding is undone for state
// bookkeeping.
func terminalState(evt domain.TurnEvent) domain.TurnState {
	switch evt.Type {
	case domain.EventCompleted:
		return domain.TurnCompleted
	case domain.EventFailed:
		if evt.Reason == domain.ReasonInternal && evt.Diagnostic == "cancelled" {
			return domain.TurnCancelled
		}
		return domain.TurnFailed
	default:
		return domain.TurnRunning
	}
}
