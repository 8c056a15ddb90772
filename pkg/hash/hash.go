// Package hash holds the partition function shared by every map task.
//
// The function is part of the on-disk contract: intermediate files produced
// by one build must be readable by reducers from another, so it must never
// change without bumping Version.
package hash

import "hash/fnv"

// Version names the partition function implemented by this package.
const Version = "fnv1a32/v1"

// FNV returns the 32-bit FNV-1a hash of key with the sign bit cleared.
func FNV(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))

	// mask with 0x7fffffff to ensure non-negative number before mod
	return h.Sum32() & 0x7fffffff
}

// Partition maps key to a reduce task index in [0, nReduce).
func Partition(key string, nReduce int) int {
	return int(FNV(key) % uint32(nReduce))
}
