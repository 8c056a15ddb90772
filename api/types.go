// Package api holds the types shared between the engine and user programs.
package api

// KeyValue is the atomic unit produced by Map and consumed by Reduce.
type KeyValue struct {
	Key   string
	Value string
}

// MapFunc is the user's Map function. It receives the input file name and
// the entire file contents and returns key/value pairs in any order.
type MapFunc func(file, contents string) []KeyValue

// ReduceFunc is the user's Reduce function. It is called once per distinct
// key with every value emitted for that key. Implementations must not depend
// on the order of values.
type ReduceFunc func(key string, values []string) string
