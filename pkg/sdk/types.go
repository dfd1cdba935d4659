package sdk

import (
	"fmt"
	"time"
)

// Deal statuses as reported by the API.
const (
	DealFunded    = "Funded"
	DealCompleted = "Completed"
	DealDisputed  = "Disputed"
	DealRefunded  = "Refunded"
)

// Criteria presets a principal can apply.
const (
	PresetConservative = "Conservative"
	PresetBalanced     = "Balanced"
	PresetAggressive   = "Aggressive"
	PresetDemo         = "Demo"
)

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Status, e.Message)
}

// Agent is a registered service provider.
type Agent struct {
	AgentID      string    `json:"agentId"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Capabilities []string  `json:"capabilities"`
	BasePrice    int64     `json:"basePrice"` // USDC, 6 decimals
	Endpoint     string    `json:"endpoint"`
	Wallet       string    `json:"wallet"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RegisterRequest describes a new agent.
type RegisterRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	BasePrice    int64    `json:"basePrice"`
	Endpoint     string   `json:"endpoint"`
	Wallet       string   `json:"wallet"`
}

// Reputation is the derived trust of one agent.
type Reputation struct {
	AgentID       string   `json:"agentId"`
	Score         float64  `json:"score"`
	ReviewCount   int      `json:"reviewCount"`
	DisputeRate   float64  `json:"disputeRate"`
	BayesianScore float64  `json:"bayesianScore"`
	Badges        []string `json:"badges"`
	VouchBonus    float64  `json:"vouchBonus"`
	Degraded      bool     `json:"degraded,omitempty"`
}

// DiscoverOptions narrow a discovery query. MinReputation is fixed-point
// with two implied decimals (450 == 4.50); nil disables the filter.
type DiscoverOptions struct {
	MinReputation *int64
	Limit         int
}

// RankedAgent is one discovery result.
type RankedAgent struct {
	AgentID      string     `json:"agentId"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Capabilities []string   `json:"capabilities"`
	BasePrice    int64      `json:"basePrice"`
	Endpoint     string     `json:"endpoint"`
	Wallet       string     `json:"wallet"`
	Reputation   Reputation `json:"reputation"`
	RankScore    float64    `json:"rankScore"`
}

// Rating is feedback on a completed deal.
type Rating struct {
	ID        string    `json:"id"`
	DealNonce string    `json:"dealNonce"`
	Rater     string    `json:"raterAddress"`
	AgentID   string    `json:"agentId"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Vouch is a signed attestation from one agent to another.
type Vouch struct {
	ID             string    `json:"id"`
	VoucherAgentID string    `json:"voucherAgentId"`
	VoucheeAgentID string    `json:"voucheeAgentId"`
	VoucherWallet  string    `json:"voucherWallet"`
	VoucherName    string    `json:"voucherName,omitempty"`
	Weight         float64   `json:"weight"`
	CreatedAt      time.Time `json:"createdAt"`
}

// VouchList is every vouch an agent received and their capped bonus.
type VouchList struct {
	AgentID    string  `json:"agentId"`
	Vouches    []Vouch `json:"vouches"`
	TotalBonus float64 `json:"totalBonus"`
}

// Deal is a unit of work between a client and an agent.
type Deal struct {
	Nonce     string    `json:"nonce"`
	DealID    int64     `json:"dealId"`
	Client    string    `json:"clientAddress"`
	AgentID   string    `json:"agentId"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Task      string    `json:"taskDescription"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateDealRequest asks for a new deal. Principal defaults to the client.
type CreateDealRequest struct {
	AgentID   string `json:"agentId"`
	Client    string `json:"clientAddress"`
	Price     int64  `json:"priceUSDC"`
	Task      string `json:"taskDescription"`
	Principal string `json:"principal,omitempty"`
}

// Decision is the criteria gate's verdict on a deal request.
type Decision struct {
	AutoApprove  bool     `json:"autoApprove"`
	FailedChecks []string `json:"failedChecks"`
	Reasons      []string `json:"reasons"`
}

// CreateDealResult holds either the funded deal or a pending approval id.
type CreateDealResult struct {
	Deal                  *Deal    `json:"deal,omitempty"`
	RequiresHumanApproval bool     `json:"requiresHumanApproval"`
	PendingApprovalID     string   `json:"pendingApprovalId,omitempty"`
	Decision              Decision `json:"decision"`
}

// PendingApproval is a deal request waiting on a human.
type PendingApproval struct {
	ID           string    `json:"id"`
	Principal    string    `json:"principal"`
	AgentID      string    `json:"agentId"`
	Client       string    `json:"clientAddress"`
	Price        int64     `json:"priceUSDC"`
	Task         string    `json:"taskDescription"`
	FailedChecks []string  `json:"failedChecks"`
	Reasons      []string  `json:"reasons"`
	Status       string    `json:"status"`
	DealNonce    string    `json:"dealNonce,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Criteria is a principal's autonomy policy.
type Criteria struct {
	Principal            string `json:"principal"`
	Preset               string `json:"preset"`
	MinReputation        int64  `json:"minReputation"`
	MinReviewCount       int64  `json:"minReviewCount"`
	MaxPrice             int64  `json:"maxPriceUSDC"`
	RequireHumanApproval bool   `json:"requireHumanApproval"`
}

// PaymentRequirements is the x402 quote for a capability. Amounts are
// decimal strings of USDC base units.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Amount            string `json:"amount"`
	Asset             string `json:"asset,omitempty"`
	PayTo             string `json:"payTo"`
	Resource          string `json:"resource"`
	AgentID           string `json:"agentId"`
	Capability        string `json:"capability"`
}

// Payment is a signed authorization for a quote. Signature is a
// personal_sign over "Maldo payment: {Amount} USDC to {PayTo} nonce:{Nonce}".
type Payment struct {
	Signature string
	Nonce     string
	Amount    string
	PayTo     string
}

// PaidRequest is a task submitted with its payment.
type PaidRequest struct {
	Task     string
	Client   string // must be the payment signer when set
	AgentID  string
	MaxPrice int64 // zero means no cap
	Payment  Payment
}

// PaidResult is the answer to a paid request.
type PaidResult struct {
	Nonce                 string   `json:"nonce,omitempty"`
	DealID                int64    `json:"dealId,omitempty"`
	Deal                  *Deal    `json:"deal,omitempty"`
	RequiresHumanApproval bool     `json:"requiresHumanApproval"`
	PendingApprovalID     string   `json:"pendingApprovalId,omitempty"`
	FailedChecks          []string `json:"failedChecks,omitempty"`
	PaymentNonce          string   `json:"paymentNonce"`
	Payer                 string   `json:"payer"`
}

// PaidDealResult is the delivery view of a paid deal: pending, delivered,
// disputed or refunded.
type PaidDealResult struct {
	Nonce  string `json:"nonce"`
	Status string `json:"status"`
	Deal   *Deal  `json:"deal"`
}
