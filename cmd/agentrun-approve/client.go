package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/revittco/agentrun/internal/domain"
)

// apiClient is a thin HTTP client over the RPC Surface's approval-facing
// endpoints, standing in for "the designated human"'s tooling: it never
// talks to the Turn Session Manager directly, only over the wire, the same
// boundary a real operator's laptop would cross.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type listPendingApprovalsResponse struct {
	Approvals []domain.ApprovalRequest `json:"approvals"`
}

// listPending fetches every approval currently awaiting resolution across
// every live turn, excluding ones raised by excludeRequesterID so an
// operator never gets asked to approve their own request.
func (c *apiClient) listPending(ctx context.Context, excludeRequesterID string) ([]domain.ApprovalRequest, error) {
	u := c.baseURL + "/api/v1/approvals"
	if excludeRequesterID != "" {
		u += "?exclude_requester_id=" + url.QueryEscape(excludeRequesterID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list pending approvals: unexpected status %d", resp.StatusCode)
	}
	var body listPendingApprovalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode pending approvals: %w", err)
	}
	return body.Approvals, nil
}

type resolveApprovalRequest struct {
	CallID   string          `json:"call_id"`
	ActorID  string          `json:"actor_id"`
	Decision domain.Decision `json:"decision"`
}

// resolve submits a decision for one pending approval on turnID.
func (c *apiClient) resolve(ctx context.Context, turnID, callID, actorID string, decision domain.Decision) error {
	body, err := json.Marshal(resolveApprovalRequest{CallID: callID, ActorID: actorID, Decision: decision})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/api/v1/turns/%s/approvals/resolve", c.baseURL, url.PathEscape(turnID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolve approval: unexpected status %d", resp.StatusCode)
	}
	return nil
}
