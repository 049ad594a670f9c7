package mailprovider

import (
	"fmt"
	"math/big"
)

// ParseMsgID parses a provider message id as base-16 into a 128-bit
// unsigned integer, per the wire convention: msg_id is the mail
// provider id read as hex.
func ParseMsgID(id string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(id, 16)
	if !ok {
		return nil, fmt.Errorf("mailprovider: invalid hex message id %q", id)
	}
	if n.Sign() < 0 || n.BitLen() > 128 {
		return nil, fmt.Errorf("mailprovider: message id %q out of u128 range", id)
	}
	return n, nil
}

// FormatMsgID is the inverse of ParseMsgID: lowercase hex, no leading
// zero-padding, matching the source's "{:x}" formatting.
func FormatMsgID(n *big.Int) string {
	return n.Text(16)
}
