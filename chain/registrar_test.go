package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// noBackend fails the test on any RPC; fully specified opts never reach it.
type noBackend struct {
	bind.ContractBackend
}

func TestRegistrar_AddRecipientPacksCall(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	require.NoError(t, err)
	opts.Nonce = big.NewInt(0)
	opts.GasPrice = big.NewInt(1)
	opts.GasLimit = 100_000
	opts.NoSend = true

	r := NewRegistrar(testRegistry, noBackend{})
	tx, err := r.AddRecipient(opts, testPayout, `{"name":"Grant"}`)
	require.NoError(t, err)
	require.Equal(t, testRegistry, *tx.To())

	method := registryABI.Methods["addRecipient"]
	require.Equal(t, method.ID, tx.Data()[:4])

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, testPayout, args[0].(common.Address))
	require.Equal(t, `{"name":"Grant"}`, args[1].(string))
}
