package vouching

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ============================================================================
// VOUCH ATTESTATION - EIP-712 typed-data signatures over Vouch{voucher, vouchee}
// ============================================================================

const primaryType = "Vouch"

// Domain separates vouch signatures from every other typed-data message.
type Domain struct {
	Name    string
	Version string
	ChainID int64
}

// DefaultDomain is the Base Sepolia domain the wallets sign against.
var DefaultDomain = Domain{Name: "Maldo Vouch", Version: "1", ChainID: 84532}

// Verifier recovers the address that signed a vouch attestation.
type Verifier interface {
	Recover(voucherAgentID, voucheeAgentID, signature string) (common.Address, error)
}

// EIP712Verifier verifies signatures produced by eth_signTypedData_v4.
type EIP712Verifier struct {
	domain Domain
}

// NewEIP712Verifier returns a verifier for the given domain.
func NewEIP712Verifier(domain Domain) *EIP712Verifier {
	return &EIP712Verifier{domain: domain}
}

func (d Domain) typedData(voucherAgentID, voucheeAgentID string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			primaryType: {
				{Name: "voucher", Type: "string"},
				{Name: "vouchee", Type: "string"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    d.Name,
			Version: d.Version,
			ChainId: math.NewHexOrDecimal256(d.ChainID),
		},
		Message: apitypes.TypedDataMessage{
			"voucher": voucherAgentID,
			"vouchee": voucheeAgentID,
		},
	}
}

// Hash returns the EIP-712 digest a wallet signs for this vouch.
func (d Domain) Hash(voucherAgentID, voucheeAgentID string) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(d.typedData(voucherAgentID, voucheeAgentID))
	if err != nil {
		return nil, fmt.Errorf("hash vouch typed data: %w", err)
	}
	return hash, nil
}

// Recover returns the signer of a 65-byte hex signature. Both the 27/28 and
// the 0/1 recovery id conventions are accepted.
func (v *EIP712Verifier) Recover(voucherAgentID, voucheeAgentID, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}

	hash, err := v.domain.Hash(voucherAgentID, voucheeAgentID)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignVouch produces the signature a wallet would return for the vouch, with
// a 27/28 recovery id.
func SignVouch(key *ecdsa.PrivateKey, domain Domain, voucherAgentID, voucheeAgentID string) (string, error) {
	hash, err := domain.Hash(voucherAgentID, voucheeAgentID)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("sign vouch: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
