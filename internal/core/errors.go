package core

import "errors"

// Kind groups domain errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a tagged domain failure. Code is stable and machine readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches on Code so wrapped errors compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidInput      = newError(KindValidation, "INVALID_INPUT", "invalid input")
	ErrInvalidScore      = newError(KindValidation, "INVALID_SCORE", "score must be between 1 and 5")
	ErrUnknownPreset     = newError(KindValidation, "UNKNOWN_PRESET", "unknown criteria preset")
	ErrSelfVouch         = newError(KindConflict, "SELF_VOUCH_NOT_ALLOWED", "an agent cannot vouch for itself")
	ErrDuplicateVouch    = newError(KindConflict, "DUPLICATE_VOUCH", "vouch already exists for this pair")
	ErrDuplicateRating   = newError(KindConflict, "DUPLICATE_RATING", "deal already rated by this address")
	ErrDealNotCompleted  = newError(KindConflict, "DEAL_NOT_COMPLETED", "deal is not completed")
	ErrInvalidTransition = newError(KindConflict, "INVALID_TRANSITION", "illegal deal status transition")
	ErrAgentExists       = newError(KindConflict, "AGENT_EXISTS", "agent name already registered")
	ErrApprovalResolved  = newError(KindConflict, "APPROVAL_RESOLVED", "approval already resolved")
	ErrAgentNotFound     = newError(KindNotFound, "AGENT_NOT_FOUND", "agent not found")
	ErrDealNotFound      = newError(KindNotFound, "DEAL_NOT_FOUND", "deal not found")
	ErrVouchNotFound     = newError(KindNotFound, "VOUCH_NOT_FOUND", "vouch not found")
	ErrApprovalNotFound  = newError(KindNotFound, "APPROVAL_NOT_FOUND", "pending approval not found")
	ErrWalletMismatch    = newError(KindUnauthorized, "WALLET_MISMATCH", "wallet does not match agent owner")
	ErrInvalidSignature  = newError(KindUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
	ErrNotParticipant    = newError(KindUnauthorized, "NOT_PARTICIPANT", "rater is not a participant of the deal")

	ErrReputationUnavailable = newError(KindUnavailable, "REPUTATION_UNAVAILABLE", "reputation source unavailable")

	// x402 payment path
	ErrNoProvider       = newError(KindNotFound, "NO_PROVIDER", "no agent offers this capability")
	ErrPaymentInvalid   = newError(KindUnauthorized, "INVALID_PAYMENT", "payment authorization does not match the quote")
	ErrPaymentReplayed  = newError(KindConflict, "PAYMENT_NONCE_USED", "payment nonce already used")
	ErrPriceExceedsMax  = newError(KindConflict, "PRICE_EXCEEDS_MAX", "quoted price exceeds the client's maximum")
	ErrPaymentNotFound  = newError(KindNotFound, "PAYMENT_NOT_FOUND", "payment not found")
)

// WithDetail returns a copy of base with a more specific message. The result still
// satisfies errors.Is(err, base).
func WithDetail(base *Error, msg string) error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message + ": " + msg}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of a domain error, or "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
