package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies an account. Accounts are EVM addresses so callers can
// authenticate with an ordinary wallet signature.
type Address = common.Address

// ZeroAddress is the absent address (no referrer, no reporter).
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("address %q: %w", s, ErrInvalidArgument)
	}
	return common.HexToAddress(s), nil
}
