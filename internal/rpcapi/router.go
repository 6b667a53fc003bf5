package rpcapi

import (
	"net/http"
	"time"

	"github.com/revittco/agentrun/internal/turn"
)

// RouterDeps holds the dependencies needed by the RPC HTTP surface.
type RouterDeps struct {
	Manager *turn.Manager

	// LongPollTimeout bounds how long RunTurn/ContinueTurn block for a new
	// event before returning without one. Defaults to
	// DefaultLongPollTimeout.
	LongPollTimeout time.Duration
}

// NewRouter builds the net/http surface realizing RunTurn, ContinueTurn,
// ResolveApproval (plus AddRule, Cancel, and an SSE observer stream) over a
// turn.Manager.
func NewRouter(deps RouterDeps) http.Handler {
	wait := deps.LongPollTimeout
	if wait <= 0 {
		wait = DefaultLongPollTimeout
	}

	h := &turnHandler{mgr: deps.Manager, longPollFor: wait}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/turns", h.runTurn)
	mux.HandleFunc("GET /api/v1/turns/{id}/next", h.continueTurn)
	mux.HandleFunc("GET /api/v1/turns/{id}/stream", h.stream)
	mux.HandleFunc("POST /api/v1/turns/{id}/approvals/resolve", h.resolveApproval)
	mux.HandleFunc("POST /api/v1/turns/{id}/rules", h.addRule)
	mux.HandleFunc("POST /api/v1/turns/{id}/cancel", h.cancelTurn)
	mux.HandleFunc("GET /api/v1/approvals", h.listPendingApprovals)
	mux.HandleFunc("GET /api/v1/health", healthCheck)

	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
