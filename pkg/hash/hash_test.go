package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFNVKnownValues(t *testing.T) {
	// Reference values for 32-bit FNV-1a.
	require.Equal(t, uint32(0x811c9dc5&0x7fffffff), FNV(""))
	require.Equal(t, uint32(0xe40c292c&0x7fffffff), FNV("a"))
	require.Equal(t, uint32(0xbf9cf968&0x7fffffff), FNV("foobar"))
}

func TestPartitionRange(t *testing.T) {
	keys := []string{"", "a", "cat", "dog", "bird", "ключ", "with\nnewline", "\"quoted\""}
	for _, n := range []int{1, 2, 3, 7, 10} {
		for _, k := range keys {
			p := Partition(k, n)
			require.GreaterOrEqual(t, p, 0)
			require.Less(t, p, n)
			require.Equal(t, p, Partition(k, n), "partition must be stable")
		}
	}
}

func TestPartitionSingleReducer(t *testing.T) {
	require.Equal(t, 0, Partition("anything", 1))
}
