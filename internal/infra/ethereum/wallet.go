package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet signs award transactions on behalf of the awarder account.
type Wallet interface {
	Address() common.Address
	Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeyWallet is a Wallet backed by an in-memory private key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyWallet parses a hex private key, with or without the 0x prefix.
func NewKeyWallet(hexKey string) (*KeyWallet, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid awarder private key: %w", err)
	}
	return &KeyWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (w *KeyWallet) Address() common.Address {
	return w.address
}

func (w *KeyWallet) Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
