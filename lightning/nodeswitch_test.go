package lightning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNodeSwitch asserts node resolution by pin and by default.
func TestNodeSwitch(t *testing.T) {
	t.Parallel()

	alice := newMockClient("alice")
	bob := newMockClient("bob")

	nodes, err := NewNodeSwitch(alice, bob)
	require.NoError(t, err)

	require.Equal(t, alice, nodes.Default())

	client, err := nodes.ForSwap("")
	require.NoError(t, err)
	require.Equal(t, alice, client)

	client, err = nodes.ForSwap("bob")
	require.NoError(t, err)
	require.Equal(t, bob, client)

	_, err = nodes.ForSwap("carol")
	require.Error(t, err)
}

// TestNodeSwitchValidation asserts that empty and duplicate client sets are
// rejected.
func TestNodeSwitchValidation(t *testing.T) {
	t.Parallel()

	_, err := NewNodeSwitch()
	require.Error(t, err)

	_, err = NewNodeSwitch(newMockClient("alice"), newMockClient("alice"))
	require.Error(t, err)
}
