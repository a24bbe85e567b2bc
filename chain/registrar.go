package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Registrar submits registrations to one registry contract. It performs no
// validation; the contract decides.
type Registrar struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewRegistrar(address common.Address, backend bind.ContractBackend) *Registrar {
	return &Registrar{
		address:  address,
		contract: bind.NewBoundContract(address, registryABI, backend, backend, backend),
	}
}

func (r *Registrar) Address() common.Address { return r.address }

// AddRecipient calls addRecipient(payout, metadata) and returns the signed
// transaction as submitted. It does not wait for it to be mined.
func (r *Registrar) AddRecipient(opts *bind.TransactOpts, payout common.Address, metadata string) (*types.Transaction, error) {
	tx, err := r.contract.Transact(opts, "addRecipient", payout, metadata)
	if err != nil {
		return nil, fmt.Errorf("chain: add recipient to %s: %w", r.address.Hex(), err)
	}
	return tx, nil
}

// Signer submits registrations signed with one key to any registry.
type Signer struct {
	backend bind.ContractBackend
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

func NewSigner(backend bind.ContractBackend, key *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{backend: backend, key: key, chainID: chainID}
}

// From is the account transactions are sent from.
func (s *Signer) From() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

// Submit sends addRecipient(payout, metadata) to registry and returns the
// transaction hash. Gas and nonce come from the node.
func (s *Signer) Submit(ctx context.Context, registry, payout common.Address, metadata string) (common.Hash, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := NewRegistrar(registry, s.backend).AddRecipient(opts, payout, metadata)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}
