// Package util contains internal helpers (hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// HashUint64 mixes a uint64 key through xxh3. Used where a well-distributed
// probe hash is needed (open-addressed tables); plain modulo dispatch does
// not go through here.
func HashUint64(k uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], k)
	return xxh3.Hash(b[:])
}
