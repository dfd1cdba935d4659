package core

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var capabilityPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidCapability reports whether tag is a normalized capability tag:
// lowercase letters, digits and dashes.
func ValidCapability(tag string) bool {
	return capabilityPattern.MatchString(tag)
}

// NormalizeAddress checks that addr is a 0x hex address and returns it in
// lowercase, the one spelling used as a key for principals and clients.
func NormalizeAddress(field, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", WithDetail(ErrInvalidInput, field+" must be a 0x hex address")
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}
