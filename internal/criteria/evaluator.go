package criteria

import (
	"fmt"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/reputation"
)

// Check codes, reported in this order.
const (
	CheckHumanApprovalRequired  = "HUMAN_APPROVAL_REQUIRED"
	CheckInsufficientReputation = "INSUFFICIENT_REPUTATION"
	CheckInsufficientReviews    = "INSUFFICIENT_REVIEWS"
	CheckPriceExceedsLimit      = "PRICE_EXCEEDS_LIMIT"
	CheckHighValueSafeguard     = "HIGH_VALUE_SAFEGUARD"
)

// Decision is the outcome of evaluating one deal request.
type Decision struct {
	AutoApprove  bool     `json:"autoApprove"`
	FailedChecks []string `json:"failedChecks"`
	Reasons      []string `json:"reasons"`
}

func (d *Decision) fail(check, reason string) {
	d.FailedChecks = append(d.FailedChecks, check)
	d.Reasons = append(d.Reasons, reason)
}

// HumanOverride is the decision for principals that approve everything by hand.
func HumanOverride() Decision {
	return Decision{
		FailedChecks: []string{CheckHumanApprovalRequired},
		Reasons:      []string{"principal requires human approval for every deal"},
	}
}

// Evaluate applies cfg to an agent's reputation and a price. Every check
// runs; none short-circuits the others. The reputation comparison uses the
// raw average on the x100 scale.
func Evaluate(cfg core.CriteriaConfig, rep reputation.Snapshot, price int64) Decision {
	if cfg.RequireHumanApproval {
		return HumanOverride()
	}

	d := Decision{FailedChecks: []string{}, Reasons: []string{}}

	average := reputation.ToFixedPoint(rep.RawAverage)
	if average < cfg.MinReputation {
		d.fail(CheckInsufficientReputation, fmt.Sprintf("reputation %s below minimum %s",
			stars(average), stars(cfg.MinReputation)))
	}
	if int64(rep.ReviewCount) < cfg.MinReviewCount {
		d.fail(CheckInsufficientReviews, fmt.Sprintf("%d reviews, minimum is %d",
			rep.ReviewCount, cfg.MinReviewCount))
	}
	if price > cfg.MaxPrice {
		d.fail(CheckPriceExceedsLimit, fmt.Sprintf("price %s exceeds limit %s",
			usdc(price), usdc(cfg.MaxPrice)))
	}
	if price > HighValueThreshold {
		d.fail(CheckHighValueSafeguard, fmt.Sprintf("price %s is above the %s high-value threshold",
			usdc(price), usdc(HighValueThreshold)))
	}

	d.AutoApprove = len(d.FailedChecks) == 0
	return d
}

func stars(fixed int64) string {
	return fmt.Sprintf("%.2f", reputation.FromFixedPoint(fixed))
}

func usdc(micro int64) string {
	return fmt.Sprintf("$%d.%02d", micro/1_000_000, (micro%1_000_000)/10_000)
}
