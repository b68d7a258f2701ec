package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

// TestSwapContractMethods guards the embedded contract definitions against
// typos in the function entries.
func TestSwapContractMethods(t *testing.T) {
	methods := []string{"lock", "lockPrepayMinerfee", "claim", "refund"}
	for _, name := range methods {
		_, ok := etherSwapABI.Methods[name]
		require.True(t, ok, "EtherSwap method %v", name)

		_, ok = erc20SwapABI.Methods[name]
		require.True(t, ok, "ERC20Swap method %v", name)
	}

	payable := "payable"
	require.Equal(t, payable, etherSwapABI.Methods["lock"].StateMutability)
	require.NotEqual(
		t, payable, erc20SwapABI.Methods["lock"].StateMutability,
	)
	require.Equal(
		t, payable,
		erc20SwapABI.Methods["lockPrepayMinerfee"].StateMutability,
	)
}

func TestEtherSwapValuesFromReceipt(t *testing.T) {
	hash := testPreimage.Hash()

	lockup := etherLockupLog(t, hash, 5000, 777, 100)
	noise := etherLockupLog(t, lntypes.Preimage{99}.Hash(), 1, 1, 100)
	foreign := etherLockupLog(t, hash, 4000, 600, 100)
	foreign.Address = common.HexToAddress("0x99")

	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0xaa"),
		Logs:   []*types.Log{&foreign, &noise, &lockup},
	}

	values, err := etherSwapValuesFromReceipt(
		receipt, etherSwapAddress, hash,
	)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5000), values.Amount)
	require.Equal(t, claimAddress, values.ClaimAddress)
	require.Equal(t, refundAddress, values.RefundAddress)
	require.Equal(t, uint64(777), values.Timelock)

	// A receipt without a lockup log for the hash is rejected.
	_, err = etherSwapValuesFromReceipt(
		receipt, etherSwapAddress, lntypes.Preimage{98}.Hash(),
	)
	require.Error(t, err)
}

func TestTokenSwapValuesFromReceipt(t *testing.T) {
	hash := testPreimage.Hash()

	data, err := erc20SwapABI.Events["Lockup"].Inputs.NonIndexed().Pack(
		big.NewInt(9000), tokenAddress, claimAddress,
		new(big.Int).SetUint64(900),
	)
	require.NoError(t, err)

	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0xbb"),
		Logs: []*types.Log{{
			Address: erc20SwapAddress,
			Topics: []common.Hash{
				erc20LockupTopic,
				common.Hash(hash),
				common.BytesToHash(refundAddress.Bytes()),
			},
			Data: data,
		}},
	}

	values, err := tokenSwapValuesFromReceipt(
		receipt, erc20SwapAddress, hash,
	)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9000), values.Amount)
	require.Equal(t, tokenAddress, values.TokenAddress)
	require.Equal(t, claimAddress, values.ClaimAddress)
	require.Equal(t, refundAddress, values.RefundAddress)
	require.Equal(t, uint64(900), values.Timelock)

	// A token lockup log does not satisfy an ether lockup query.
	_, err = etherSwapValuesFromReceipt(receipt, erc20SwapAddress, hash)
	require.Error(t, err)
}
