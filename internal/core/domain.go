package core

import "time"

// Agent represents a registered service provider.
type Agent struct {
	ID           string    `json:"agentId"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Capabilities []string  `json:"capabilities"`
	BasePrice    int64     `json:"basePrice"` // USDC, 6 decimals
	Endpoint     string    `json:"endpoint"`
	Wallet       string    `json:"wallet"`
	Provenance   string    `json:"provenance,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DealStatus is the lifecycle state of a deal as mirrored from the escrow contract.
type DealStatus string

const (
	DealFunded    DealStatus = "Funded"
	DealCompleted DealStatus = "Completed"
	DealDisputed  DealStatus = "Disputed"
	DealRefunded  DealStatus = "Refunded"
)

// dealTransitions lists the only legal moves; everything else is rejected.
var dealTransitions = map[DealStatus][]DealStatus{
	DealFunded:   {DealCompleted, DealDisputed},
	DealDisputed: {DealCompleted, DealRefunded},
}

// Valid reports whether s is a known status.
func (s DealStatus) Valid() bool {
	switch s {
	case DealFunded, DealCompleted, DealDisputed, DealRefunded:
		return true
	}
	return false
}

// CanTransition reports whether a deal may move from s to next.
func (s DealStatus) CanTransition(next DealStatus) bool {
	for _, allowed := range dealTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Deal is a unit of work between a client (principal) and a server (agent).
type Deal struct {
	Nonce     string     `json:"nonce"`
	Seq       int64      `json:"dealId"`
	Client    string     `json:"clientAddress"`
	AgentID   string     `json:"agentId"`
	Amount    int64      `json:"amount"`
	Status    DealStatus `json:"status"`
	Task      string     `json:"taskDescription"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Rating is one participant's feedback on one completed deal.
type Rating struct {
	ID        string    `json:"id"`
	DealNonce string    `json:"dealNonce"`
	Rater     string    `json:"raterAddress"`
	AgentID   string    `json:"agentId"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CriteriaConfig is one principal's autonomy policy.
// MinReputation is fixed-point with two implied decimals (450 == 4.50).
type CriteriaConfig struct {
	Principal            string `json:"principal"`
	Preset               string `json:"preset"`
	MinReputation        int64  `json:"minReputation"`
	MinReviewCount       int64  `json:"minReviewCount"`
	MaxPrice             int64  `json:"maxPriceUSDC"`
	RequireHumanApproval bool   `json:"requireHumanApproval"`
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

// ApprovalStatus tracks a deal that was held for a human decision.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// PendingApproval is a deal request the criteria gate refused to auto-approve.
type PendingApproval struct {
	ID           string         `json:"id"`
	Principal    string         `json:"principal"`
	AgentID      string         `json:"agentId"`
	Client       string         `json:"clientAddress"`
	Amount       int64          `json:"priceUSDC"`
	Task         string         `json:"taskDescription"`
	FailedChecks []string       `json:"failedChecks"`
	Reasons      []string       `json:"reasons"`
	Status       ApprovalStatus `json:"status"`
	DealNonce    string         `json:"dealNonce,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Payment is an x402 payment authorization that was accepted. The nonce is
// single use; a deal or a pending approval is recorded against it.
type Payment struct {
	Nonce      string    `json:"nonce"`
	Payer      string    `json:"payer"`
	PayTo      string    `json:"payTo"`
	Amount     int64     `json:"amount"`
	Capability string    `json:"capability"`
	AgentID    string    `json:"agentId"`
	DealNonce  string    `json:"dealNonce,omitempty"`
	ApprovalID string    `json:"pendingApprovalId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
