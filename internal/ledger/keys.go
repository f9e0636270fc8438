package ledger

import (
	"fmt"
	"strings"

	"github.com/orderflow/stockhold/internal/domain/stock"
)

// Key layout in the shared key-value layer. This scheme is internal to the
// ledger; nothing outside this package builds or parses these strings.
//
//	stock:{branch}:{item}                      hash: available, reserved
//	hold:{cart}:{branch}:{item}:{variant}      hash: qty, expires_at
//	hold:index                                 zset: expires_at -> hold key
//	hold:cart:{cart}                           set of hold keys
//
// Identifiers must not contain ':'; the engine issues UUID-shaped ids and
// hex variant signatures, both of which satisfy that.
const (
	stockKeyPrefix = "stock:"
	holdKeyPrefix  = "hold:"
	indexKey       = "hold:index"
	cartSetPrefix  = "hold:cart:"
	lockKeyPrefix  = "lock:"
)

func stockKey(branchID, itemID string) string {
	return stockKeyPrefix + branchID + ":" + itemID
}

func holdKey(k stock.HoldKey) string {
	return holdKeyPrefix + k.CartID + ":" + k.BranchID + ":" + k.ItemID + ":" + k.VariantSig
}

func cartSetKey(cartID string) string {
	return cartSetPrefix + cartID
}

// parseHoldKey recovers the hold identity from an index member. Members that
// do not parse are treated as corrupt and scrubbed by the reaper.
func parseHoldKey(member string) (stock.HoldKey, error) {
	rest, ok := strings.CutPrefix(member, holdKeyPrefix)
	if !ok {
		return stock.HoldKey{}, fmt.Errorf("malformed hold key %q", member)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 4 {
		return stock.HoldKey{}, fmt.Errorf("malformed hold key %q", member)
	}
	for _, p := range parts {
		if p == "" {
			return stock.HoldKey{}, fmt.Errorf("malformed hold key %q", member)
		}
	}
	// "hold:cart:{cart}" and "hold:index" never have four segments after the
	// prefix, so reaching here means a genuine hold member.
	return stock.HoldKey{
		CartID:     parts[0],
		BranchID:   parts[1],
		ItemID:     parts[2],
		VariantSig: parts[3],
	}, nil
}
