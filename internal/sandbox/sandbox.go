// Package sandbox is the Code-Mode Runner: it executes one LM-authored
// ECMAScript snippet per Agent Loop step inside a fresh goja VM, exposing a
// whitelisted tools.<path>(input) global that routes through the Tool
// Registry and Approval Registry, gating on approval and recording a
// Receipt for every call.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/revittco/agentrun/internal/approval"
	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/secrets"
	"github.com/revittco/agentrun/internal/toolreg"
)

// ErrDenied is returned (as a JS exception, and as Receipt.Error) when an
// approval resolves to denied.
var ErrDenied = errors.New("sandbox: tool call denied")

// ErrWatchdog is the error recorded when a run is killed by the wall-clock
// watchdog via Runtime.Interrupt.
var ErrWatchdog = errors.New("sandbox: execution exceeded time budget")

// Runner executes code-mode snippets against a fixed Tool Registry and
// Approval Registry. One Runner typically serves many turns; each Run call
// constructs a fresh goja.Runtime so snippets cannot share state across
// calls.
type Runner struct {
	tools           *toolreg.Registry
	approvals       *approval.Registry
	timeout         time.Duration
	approvalTimeout time.Duration
	secrets         *secrets.Manager
}

// DefaultApprovalTimeout is the per-approval deadline used when New is
// called with approvalTimeout <= 0.
const DefaultApprovalTimeout = 5 * time.Minute

// New creates a Runner. timeout bounds each Run call's total wall-clock
// time, including time spent waiting on an approval decision;
// approvalTimeout (the config option cfg.ApprovalTimeout threads in here)
// is the per-approval deadline handed to the Approval Registry, so a wait
// ends at whichever of the two expires first.
func New(tools *toolreg.Registry, approvals *approval.Registry, timeout, approvalTimeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if approvalTimeout <= 0 {
		approvalTimeout = DefaultApprovalTimeout
	}
	return &Runner{tools: tools, approvals: approvals, timeout: timeout, approvalTimeout: approvalTimeout}
}

// WithSecrets makes every call to a tool with declared SecretFields
// encrypt and stash those field values via mgr before building the
// Receipt's preview, so an operator can later recover a raw secret (e.g.
// to retry a failed call) without it ever having sat in a Receipt in
// plaintext. Without this, SecretFields still gets redacted in the
// preview (toolreg.Tool.PreviewInput's fallback does that unconditionally)
// but the raw value is simply discarded rather than recoverable.
func (r *Runner) WithSecrets(mgr *secrets.Manager) *Runner {
	r.secrets = mgr
	return r
}

// Result is everything a code-mode run produced: receipts for every tool
// call it made (whether they succeeded, were denied, or timed out) plus
// either a returned JS value or an error.
type Result struct {
	Receipts []domain.Receipt
	Value    json.RawMessage
	Err      error
}

// Run executes code in a fresh VM, under turnID/requesterID for approval
// attribution, returning once the script completes, errors, or the
// watchdog fires. Tool calls are synchronous from the script's point of
// view: tools.<path>(input) blocks the goroutine running the VM until the
// call (and any approval it requires) resolves, rather than returning a
// real Promise — goja's plain runtime has no microtask queue to drive
// await semantics, and this simplification is within the contract's
// "language-specific realizations vary" allowance.
func (r *Runner) Run(ctx context.Context, turnID, requesterID, code string) Result {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec := &callRecorder{
		vm:              vm,
		tools:           r.tools,
		approvals:       r.approvals,
		secrets:         r.secrets,
		approvalTimeout: r.approvalTimeout,
		turnID:          turnID,
		requesterID:     requesterID,
		ctx:             runCtx,
	}

	toolsObj := vm.NewObject()
	var bindErr error
	r.tools.Walk(func(path string, tool *toolreg.Tool) {
		if bindErr != nil {
			return
		}
		if err := bindPath(vm, toolsObj, path, rec.makeCallFunc(path)); err != nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return Result{Err: fmt.Errorf("sandbox: bind tools: %w", bindErr)}
	}
	if err := vm.Set("tools", toolsObj); err != nil {
		return Result{Err: fmt.Errorf("sandbox: set tools global: %w", err)}
	}

	watchdogDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(ErrWatchdog)
		case <-watchdogDone:
		}
	}()
	defer close(watchdogDone)

	v, err := vm.RunString(code)
	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return Result{Receipts: rec.receipts, Err: ErrWatchdog}
		}
		return Result{Receipts: rec.receipts, Err: fmt.Errorf("sandbox: %w", err)}
	}

	var out json.RawMessage
	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		exported := v.Export()
		if b, err := json.Marshal(exported); err == nil {
			out = b
		}
	}
	return Result{Receipts: rec.receipts, Value: out}
}

// callRecorder accumulates Receipts across every tools.* invocation made
// by one Run, and closes over the registries needed to actually perform a
// call.
type callRecorder struct {
	vm              *goja.Runtime
	tools           *toolreg.Registry
	approvals       *approval.Registry
	secrets         *secrets.Manager
	approvalTimeout time.Duration
	turnID          string
	requesterID     string
	ctx             context.Context
	receipts        []domain.Receipt
}

// preview renders callID's Receipt.InputPreview, first encrypting and
// stashing any of tool's declared SecretFields via rec.secrets (when
// configured) so the preview itself is always built from already-redacted
// JSON, even for a tool with a custom Preview function that doesn't know
// about SecretFields.
func (rec *callRecorder) preview(tool *toolreg.Tool, callID string, input json.RawMessage) string {
	if rec.secrets == nil || len(tool.SecretFields) == 0 {
		return tool.PreviewInput(input)
	}
	redacted, err := rec.secrets.RedactForPersistence(rec.ctx, callID, input, tool.SecretFields)
	if err != nil {
		return tool.PreviewInput(input)
	}
	return tool.PreviewInput(redacted)
}

// makeCallFunc returns the JS-callable function bound at tools.<path>. It
// validates input against the tool's schema, gates on approval if
// required, invokes the tool, and appends a Receipt — panicking with a JS
// Error value on failure, which goja surfaces to the script as a thrown
// exception (and to Run as a returned error once unhandled).
func (rec *callRecorder) makeCallFunc(path string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		tool, err := rec.tools.Resolve(path)
		if err != nil {
			panic(rec.vm.ToValue(err.Error()))
		}

		var inputArg any
		if len(call.Arguments) > 0 {
			inputArg = call.Arguments[0].Export()
		}
		input, err := json.Marshal(inputArg)
		if err != nil {
			panic(rec.vm.ToValue("invalid tool input: " + err.Error()))
		}

		callID := uuid.NewString()
		started := time.Now().UTC()
		decision := domain.ReceiptAuto

		if err := tool.ValidateInput(input); err != nil {
			rec.record(path, callID, decision, domain.StatusFailed, rec.preview(tool, callID, input), "", started, errors.New("input_schema_violation"))
			panic(rec.vm.ToValue("input validation failed: " + err.Error()))
		}

		if tool.Approval == domain.ApprovalRequired {
			fut, err := rec.approvals.Open(callID, rec.turnID, rec.requesterID, path, input, rec.approvalTimeout)
			if err != nil {
				panic(rec.vm.ToValue("open approval: " + err.Error()))
			}
			d, err := fut.Wait(rec.ctx)
			if err != nil {
				rec.approvals.Cancel(callID, domain.DecisionDenied)
				rec.record(path, callID, decision, domain.StatusTimedOut, rec.preview(tool, callID, input), "", started, err)
				panic(rec.vm.ToValue("approval wait: " + err.Error()))
			}
			if d == domain.DecisionApproved {
				decision = domain.ReceiptApproved
			} else {
				decision = domain.ReceiptDenied
				rec.record(path, callID, decision, domain.StatusDenied, rec.preview(tool, callID, input), "", started, ErrDenied)
				panic(rec.vm.ToValue(ErrDenied.Error()))
			}
		}

		output, err := tool.Run(rec.ctx, input)
		if err != nil {
			rec.record(path, callID, decision, domain.StatusFailed, rec.preview(tool, callID, input), "", started, err)
			panic(rec.vm.ToValue("tool failed: " + err.Error()))
		}

		rec.record(path, callID, decision, domain.StatusSucceeded, rec.preview(tool, callID, input), digest(output), started, nil)

		var out any
		if len(output) > 0 {
			if err := json.Unmarshal(output, &out); err != nil {
				out = string(output)
			}
		}
		return rec.vm.ToValue(out)
	}
}

func (rec *callRecorder) record(toolPath, callID string, decision domain.ReceiptDecision, status domain.ReceiptStatus, preview, outDigest string, started time.Time, err error) {
	r := domain.Receipt{
		ToolPath:     toolPath,
		CallID:       callID,
		Decision:     decision,
		Status:       status,
		InputPreview: preview,
		OutputDigest: outDigest,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	rec.receipts = append(rec.receipts, r)
}

func digest(output json.RawMessage) string {
	if len(output) == 0 {
		return ""
	}
	if len(output) > 64 {
		return string(output[:64]) + "..."
	}
	return string(output)
}
