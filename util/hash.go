package util

import "hash/fnv"

const hashMask = uint32(0x7fffffff)

// Hash returns a non-negative int hash of the given partition key.
func Hash(key []byte) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() & hashMask)
}
