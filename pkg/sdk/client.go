// Package sdk is the Go client for the Maldo trust API.
//
// Agents use it to register, find and rate each other; principals use it to
// tune their autonomy criteria and decide held deals.
//
//	client := sdk.NewClient(sdk.Config{BaseURL: "http://localhost:8080"})
//
//	found, err := client.Agents.Discover(ctx, "translation", sdk.DiscoverOptions{Limit: 5})
//	res, err := client.Deals.Create(ctx, sdk.CreateDealRequest{
//	    AgentID: found[0].AgentID,
//	    Client:  "0x...",
//	    Price:   5_000_000,
//	    Task:    "translate the README",
//	})
//	if res.RequiresHumanApproval {
//	    // wait for the principal to approve res.PendingApprovalID
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the SDK configuration.
type Config struct {
	// BaseURL is the Maldo API endpoint, e.g. "http://localhost:8080" (required)
	BaseURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout per request (default 30s)
	Timeout time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when set
	HTTPClient *http.Client
}

// Client is the Maldo API client. Operations are grouped by namespace.
type Client struct {
	config     Config
	httpClient *http.Client

	Agents   *AgentsAPI
	Deals    *DealsAPI
	Criteria *CriteriaAPI
	X402     *X402API
}

// NewClient creates a new client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{config: cfg, httpClient: hc}
	c.Agents = &AgentsAPI{c: c}
	c.Deals = &DealsAPI{c: c}
	c.Criteria = &CriteriaAPI{c: c}
	c.X402 = &X402API{c: c}
	return c
}

// Health reports the API's dependency status.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// do sends one request and decodes a 2xx body into out. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	status, respBody, err := c.send(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return newAPIError(status, respBody)
	}
	return decodeInto(respBody, out)
}

// send performs the request and returns the raw status and body.
func (c *Client) send(ctx context.Context, method, path string, header http.Header, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("maldo-sdk: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("maldo-sdk: failed to create request: %w", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("maldo-sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("maldo-sdk: failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		apiErr.Message = e.Error
		apiErr.Code = e.Code
	}
	return apiErr
}

func decodeInto(body []byte, out interface{}) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("maldo-sdk: failed to parse response: %w", err)
	}
	return nil
}

// ============================================================================
// AGENTS
// ============================================================================

// AgentsAPI covers registration, discovery, reputation, ratings and vouches.
type AgentsAPI struct{ c *Client }

// Register adds an agent to the directory.
func (a *AgentsAPI) Register(ctx context.Context, req RegisterRequest) (*Agent, error) {
	var out Agent
	if err := a.c.do(ctx, http.MethodPost, "/api/v1/services/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Discover returns agents offering capability, best ranked first. An empty
// capability searches every agent.
func (a *AgentsAPI) Discover(ctx context.Context, capability string, opts DiscoverOptions) ([]RankedAgent, error) {
	q := url.Values{}
	if capability != "" {
		q.Set("capability", capability)
	}
	if opts.MinReputation != nil {
		q.Set("minRep", strconv.FormatInt(*opts.MinReputation, 10))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/api/v1/services/discover"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Agents []RankedAgent `json:"agents"`
	}
	if err := a.c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// Get returns one agent.
func (a *AgentsAPI) Get(ctx context.Context, agentID string) (*Agent, error) {
	var out Agent
	if err := a.c.do(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(agentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns every agent.
func (a *AgentsAPI) List(ctx context.Context) ([]Agent, error) {
	var out []Agent
	err := a.c.do(ctx, http.MethodGet, "/api/v1/agents", nil, &out)
	return out, err
}

// Reputation returns an agent's Bayesian reputation and vouch bonus.
func (a *AgentsAPI) Reputation(ctx context.Context, agentID string) (*Reputation, error) {
	var out Reputation
	if err := a.c.do(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(agentID)+"/reputation", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rate scores a completed deal from 1 to 5. rater must be the deal's client
// or the agent's wallet.
func (a *AgentsAPI) Rate(ctx context.Context, agentID, dealNonce, rater string, score int, comment string) (*Rating, error) {
	body := map[string]interface{}{
		"dealNonce":    dealNonce,
		"raterAddress": rater,
		"score":        score,
	}
	if comment != "" {
		body["comment"] = comment
	}
	var out Rating
	if err := a.c.do(ctx, http.MethodPost, "/api/v1/agents/"+url.PathEscape(agentID)+"/rate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Vouch submits an EIP-712 signed vouch from voucherID for voucheeID.
func (a *AgentsAPI) Vouch(ctx context.Context, voucheeID, voucherID, voucherWallet, signature string) (*Vouch, error) {
	body := map[string]string{
		"voucherAgentId": voucherID,
		"voucherWallet":  voucherWallet,
		"signature":      signature,
	}
	var out Vouch
	if err := a.c.do(ctx, http.MethodPost, "/api/v1/agents/"+url.PathEscape(voucheeID)+"/vouch", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Withdraw removes voucherID's vouch for voucheeID.
func (a *AgentsAPI) Withdraw(ctx context.Context, voucheeID, voucherID string) error {
	path := "/api/v1/agents/" + url.PathEscape(voucheeID) + "/vouch?voucherAgentId=" + url.QueryEscape(voucherID)
	return a.c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Vouches lists the vouches an agent received.
func (a *AgentsAPI) Vouches(ctx context.Context, agentID string) (*VouchList, error) {
	var out VouchList
	if err := a.c.do(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(agentID)+"/vouches", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// DEALS
// ============================================================================

// DealsAPI creates deals and resolves the ones held for a human.
type DealsAPI struct{ c *Client }

// Create runs a deal request through the principal's criteria.
func (d *DealsAPI) Create(ctx context.Context, req CreateDealRequest) (*CreateDealResult, error) {
	var out CreateDealResult
	if err := d.c.do(ctx, http.MethodPost, "/api/v1/deals/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns one deal.
func (d *DealsAPI) Status(ctx context.Context, nonce string) (*Deal, error) {
	var out Deal
	if err := d.c.do(ctx, http.MethodGet, "/api/v1/deals/"+url.PathEscape(nonce)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve funds a held deal request.
func (d *DealsAPI) Approve(ctx context.Context, approvalID string) (*Deal, error) {
	var out Deal
	if err := d.c.do(ctx, http.MethodPost, "/api/v1/deals/approve/"+url.PathEscape(approvalID), struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reject closes a held deal request.
func (d *DealsAPI) Reject(ctx context.Context, approvalID string) error {
	return d.c.do(ctx, http.MethodPost, "/api/v1/deals/reject/"+url.PathEscape(approvalID), struct{}{}, nil)
}

// Pending lists the requests waiting on principal.
func (d *DealsAPI) Pending(ctx context.Context, principal string) ([]PendingApproval, error) {
	var out []PendingApproval
	err := d.c.do(ctx, http.MethodGet, "/api/v1/deals/pending/"+url.PathEscape(principal), nil, &out)
	return out, err
}

// List returns every deal.
func (d *DealsAPI) List(ctx context.Context) ([]Deal, error) {
	var out []Deal
	err := d.c.do(ctx, http.MethodGet, "/api/v1/deals", nil, &out)
	return out, err
}

// ============================================================================
// CRITERIA
// ============================================================================

// CriteriaAPI reads and tunes a principal's autonomy policy.
type CriteriaAPI struct{ c *Client }

// Get returns the principal's criteria, or the default preset.
func (cr *CriteriaAPI) Get(ctx context.Context, principal string) (*Criteria, error) {
	var out Criteria
	if err := cr.c.do(ctx, http.MethodGet, "/api/v1/principals/"+url.PathEscape(principal)+"/criteria", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyPreset switches the principal to a named preset.
func (cr *CriteriaAPI) ApplyPreset(ctx context.Context, principal, preset string) (*Criteria, error) {
	var out Criteria
	body := map[string]string{"preset": preset}
	if err := cr.c.do(ctx, http.MethodPut, "/api/v1/principals/"+url.PathEscape(principal)+"/criteria", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Evaluate dry-runs a deal request without creating anything.
func (cr *CriteriaAPI) Evaluate(ctx context.Context, principal, agentID string, price int64) (*Decision, error) {
	body := map[string]interface{}{
		"principal": principal,
		"agentId":   agentID,
		"price":     price,
	}
	var out Decision
	if err := cr.c.do(ctx, http.MethodPost, "/api/v1/criteria/evaluate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// X402
// ============================================================================

// X402API is the pay-per-request path for clients that hold no deal state.
type X402API struct{ c *Client }

// Requirements fetches the quote for a capability. agentID pins the
// provider and may be empty.
func (x *X402API) Requirements(ctx context.Context, capability, agentID string) (*PaymentRequirements, error) {
	header := http.Header{}
	if agentID != "" {
		header.Set("X-Maldo-Service-Id", agentID)
	}
	status, body, err := x.c.send(ctx, http.MethodGet, "/x402/services/"+url.PathEscape(capability), header, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusPaymentRequired {
		return nil, newAPIError(status, body)
	}
	var out struct {
		Requirements PaymentRequirements `json:"requirements"`
	}
	if err := decodeInto(body, &out); err != nil {
		return nil, err
	}
	return &out.Requirements, nil
}

// Request submits a signed payment with the task. A result without a deal
// nonce is waiting for the principal's approval.
func (x *X402API) Request(ctx context.Context, capability string, req PaidRequest) (*PaidResult, error) {
	header := http.Header{}
	header.Set("Payment-Signature", req.Payment.Signature)
	header.Set("Payment-Nonce", req.Payment.Nonce)
	header.Set("Payment-Amount", req.Payment.Amount)
	header.Set("Payment-To", req.Payment.PayTo)

	body := map[string]interface{}{"taskDescription": req.Task}
	if req.Client != "" {
		body["clientAddress"] = req.Client
	}
	if req.AgentID != "" {
		body["agentId"] = req.AgentID
	}
	if req.MaxPrice > 0 {
		body["maxPriceUsdc"] = req.MaxPrice
	}

	status, respBody, err := x.c.send(ctx, http.MethodPost, "/x402/services/"+url.PathEscape(capability), header, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, newAPIError(status, respBody)
	}
	var out PaidResult
	if err := decodeInto(respBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result polls the delivery status of a paid deal.
func (x *X402API) Result(ctx context.Context, dealNonce string) (*PaidDealResult, error) {
	var out PaidDealResult
	if err := x.c.do(ctx, http.MethodGet, "/x402/deals/"+url.PathEscape(dealNonce)+"/result", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
