package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//   meta:orders                  → order counter (8-byte big endian)
//   meta:oracle                  → OracleAddress (JSON)
//   meta:head                    → latest block height
//   ord:<id>                     → Order (JSON)
//   own:<address><id>            → empty; prefix scan yields ids in placement order
//   nonce:<address>              → next nonce
//   rcpt:<hash>                  → Receipt (JSON)
//   blk:<height>                 → Block (JSON)
//   match:<buyId><sellId>        → MatchRecord (JSON), match store only
const (
	prefixOrder   = "ord:"
	prefixOwner   = "own:"
	prefixNonce   = "nonce:"
	prefixReceipt = "rcpt:"
	prefixBlock   = "blk:"
	prefixMatch   = "match:"
)

var (
	keyOrderCount = []byte("meta:orders")
	keyOracle     = []byte("meta:oracle")
	keyHead       = []byte("meta:head")
)

func u64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func withPrefix(prefix string, parts ...[]byte) []byte {
	k := []byte(prefix)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func orderKey(id uint64) []byte { return withPrefix(prefixOrder, u64(id)) }

func ownerPrefix(addr common.Address) []byte { return withPrefix(prefixOwner, addr.Bytes()) }

func ownerKey(addr common.Address, id uint64) []byte {
	return withPrefix(prefixOwner, addr.Bytes(), u64(id))
}

func nonceKey(addr common.Address) []byte { return withPrefix(prefixNonce, addr.Bytes()) }

func receiptKey(h common.Hash) []byte { return withPrefix(prefixReceipt, h.Bytes()) }

func blockKey(height uint64) []byte { return withPrefix(prefixBlock, u64(height)) }

func matchKey(buyID, sellID uint64) []byte { return withPrefix(prefixMatch, u64(buyID), u64(sellID)) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}
