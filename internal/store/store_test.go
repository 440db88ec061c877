package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairKey(t *testing.T) {
	require.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
	require.NotEqual(t, PairKey("a:b", "c"), PairKey("a", "b:c"))
	require.NotEqual(t, PairKey("1:a", "b"), PairKey("1", "a:b"))
}
