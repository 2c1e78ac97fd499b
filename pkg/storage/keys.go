package storage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Journal key schema:
//
//   ord:<maker>:<orderHash> → OrderEntry (JSON)
//   idx:<orderHash>         → maker address (20 bytes)
//   cxl:<orderHash>         → cancel-signed time (8-byte big-endian unix seconds)
//   fill:<fillSalt>         → FillEntry (JSON), salt as 64 hex digits

const (
	prefixOrder  = "ord:"
	prefixIndex  = "idx:"
	prefixCancel = "cxl:"
	prefixFill   = "fill:"
)

// orderKey returns the key for an order
// Format: "ord:{maker}:{orderHash}"
func orderKey(maker common.Address, hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, maker.Hex(), hash.Hex()))
}

// orderPrefix returns the prefix for all orders of a maker
// Format: "ord:{maker}:"
func orderPrefix(maker common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, maker.Hex()))
}

func indexKey(hash common.Hash) []byte {
	return []byte(prefixIndex + hash.Hex())
}

func cancelKey(hash common.Hash) []byte {
	return []byte(prefixCancel + hash.Hex())
}

// fillKey zero-pads the salt so keys sort numerically.
func fillKey(salt *big.Int) []byte {
	return []byte(fmt.Sprintf("%s%064x", prefixFill, salt))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
