package recipient

import (
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

var idPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ParseID accepts exactly a 0x-prefixed 32-byte hex string.
func ParseID(s string) (common.Hash, error) {
	if !idPattern.MatchString(s) {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return common.HexToHash(s), nil
}

// FormatID renders a recipient id in its canonical lowercase form.
func FormatID(h common.Hash) string {
	return h.Hex()
}
