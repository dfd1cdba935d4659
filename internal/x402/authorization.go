package x402

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Authorization is the payment a client attaches to a paid request. Amount
// and PayTo echo the quote; Signature is a personal_sign over Message.
type Authorization struct {
	Signature string
	Nonce     string
	Amount    string
	PayTo     string
}

// Message is the text the payer signs.
func (a Authorization) Message() string {
	return fmt.Sprintf("Maldo payment: %s USDC to %s nonce:%s", a.Amount, a.PayTo, a.Nonce)
}

// Signer recovers the address that signed the authorization. Signatures with
// or without the 0x prefix and with either recovery id convention are accepted.
func (a Authorization) Signer() (common.Address, error) {
	raw := strings.TrimSpace(a.Signature)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	sig, err := hexutil.Decode(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(a.Message())), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign fills in Signature the way a wallet's personal_sign would, with a
// 27/28 recovery id.
func (a *Authorization) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(accounts.TextHash([]byte(a.Message())), key)
	if err != nil {
		return fmt.Errorf("sign payment: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	a.Signature = hexutil.Encode(sig)
	return nil
}
