package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/revittco/agentrun/internal/domain"
)

const pollInterval = 2 * time.Second

var (
	styleHeader   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	styleSelected = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	styleDim      = lipgloss.NewStyle().Faint(true)
	styleApproved = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleDenied   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// model is the bubbletea model for agentrun-approve: a periodically
// refreshed list of every pending approval across every live turn, with
// y/n (or enter/d) resolving the highlighted one.
type model struct {
	client      *apiClient
	actorID     string
	pending     []domain.ApprovalRequest
	selected    int
	lastMessage string
	err         error
	quitting    bool
	spinner     spinner.Model
}

func newModel(client *apiClient, actorID string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	return model{client: client, actorID: actorID, spinner: s}
}

type pendingLoadedMsg struct {
	approvals []domain.ApprovalRequest
	err       error
}

type resolvedMsg struct {
	callID   string
	decision domain.Decision
	err      error
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), m.spinner.Tick)
}

func (m model) pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		approvals, err := m.client.listPending(ctx, m.actorID)
		return pendingLoadedMsg{approvals: approvals, err: err}
	})
}

func (m model) resolveCmd(req domain.ApprovalRequest, decision domain.Decision) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := m.client.resolve(ctx, req.TurnID, req.CallID, m.actorID, decision)
		return resolvedMsg{callID: req.CallID, decision: decision, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if len(m.pending) > 0 {
				m.selected = (m.selected - 1 + len(m.pending)) % len(m.pending)
			}
		case "down", "j":
			if len(m.pending) > 0 {
				m.selected = (m.selected + 1) % len(m.pending)
			}
		case "y", "enter":
			if sel, ok := m.currentSelection(); ok {
				m.lastMessage = ""
				return m, m.resolveCmd(sel, domain.DecisionApproved)
			}
		case "n", "d":
			if sel, ok := m.currentSelection(); ok {
				m.lastMessage = ""
				return m, m.resolveCmd(sel, domain.DecisionDenied)
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pendingLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.pending = msg.approvals
			if m.selected >= len(m.pending) {
				m.selected = len(m.pending) - 1
			}
			if m.selected < 0 {
				m.selected = 0
			}
		}
		return m, m.pollCmd()

	case resolvedMsg:
		if msg.err != nil {
			m.lastMessage = styleDenied.Render(fmt.Sprintf("failed to resolve %s: %v", msg.callID, msg.err))
		} else if msg.decision == domain.DecisionApproved {
			m.lastMessage = styleApproved.Render(fmt.Sprintf("approved %s", msg.callID))
		} else {
			m.lastMessage = styleDenied.Render(fmt.Sprintf("denied %s", msg.callID))
		}
		return m, nil
	}
	return m, nil
}

func (m model) currentSelection() (domain.ApprovalRequest, bool) {
	if m.selected < 0 || m.selected >= len(m.pending) {
		return domain.ApprovalRequest{}, false
	}
	return m.pending[m.selected], true
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styleHeader.Render("agentrun-approve") + styleDim.Render("  (y approve, n deny, q quit)") + "\n\n")

	if m.err != nil {
		b.WriteString(styleDenied.Render("error polling approvals: "+m.err.Error()) + "\n")
	} else if len(m.pending) == 0 {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), styleDim.Render("watching for pending approvals...")))
	} else {
		for i, req := range m.pending {
			cursor := "  "
			line := fmt.Sprintf("%s  %s", req.ToolPath, req.InputPreview)
			if i == m.selected {
				cursor = styleSelected.Render("❯ ")
				line = styleSelected.Render(line)
			}
			fmt.Fprintf(&b, "%s%s\n", cursor, line)
		}
	}

	if m.lastMessage != "" {
		b.WriteString("\n" + m.lastMessage + "\n")
	}
	return b.String()
}
