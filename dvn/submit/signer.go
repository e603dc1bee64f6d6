package submit

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer abstracts transaction signing for the submission engine.
type Signer interface {
	From() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	SignTx(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Transaction, error)
}

// LocalECDSASigner signs transactions with a local secp256k1 private key.
type LocalECDSASigner struct {
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

func NewLocalECDSASigner(chainID *big.Int, key *ecdsa.PrivateKey) *LocalECDSASigner {
	return &LocalECDSASigner{
		chainID: chainID,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// ParsePrivateKey parses a hex encoded private key with or without the 0x
// prefix.
func ParsePrivateKey(hexkey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexkey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func (s *LocalECDSASigner) From() common.Address { return s.from }

func (s *LocalECDSASigner) ChainID(_ context.Context) (*big.Int, error) {
	if s.chainID == nil {
		return nil, fmt.Errorf("signer chainID not set")
	}
	return new(big.Int).Set(s.chainID), nil
}

func (s *LocalECDSASigner) SignTx(_ context.Context, tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.key)
}
