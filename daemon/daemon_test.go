package daemon

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestReadSwapKey asserts the extended key loading checks.
func TestReadSwapKey(t *testing.T) {
	t.Parallel()

	seed := bytes.Repeat([]byte{0x55}, 32)
	master, err := hdkeychain.NewMaster(
		seed, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	write := func(content string) string {
		path := filepath.Join(t.TempDir(), "swap.key")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		return path
	}

	// Surrounding whitespace is tolerated.
	key, err := readSwapKey(
		write(master.String()+"\n"), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	require.Equal(t, master.String(), key.String())

	// Key of another network.
	_, err = readSwapKey(write(master.String()), &chaincfg.MainNetParams)
	require.ErrorContains(t, err, "not for")

	// Public keys cannot sign.
	pub, err := master.Neuter()
	require.NoError(t, err)

	_, err = readSwapKey(write(pub.String()), &chaincfg.RegressionNetParams)
	require.ErrorContains(t, err, "not an extended private key")

	// Not a key at all.
	_, err = readSwapKey(write("garbage"), &chaincfg.RegressionNetParams)
	require.ErrorContains(t, err, "parse swap key")

	// Missing file.
	_, err = readSwapKey(
		filepath.Join(t.TempDir(), "missing"),
		&chaincfg.RegressionNetParams,
	)
	require.ErrorContains(t, err, "read swap key")
}
