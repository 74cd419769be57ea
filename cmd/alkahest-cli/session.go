package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"alkahest/chain"
	"alkahest/contracts"
	"alkahest/internal/passphrase"
	"alkahest/oracle"
)

// oracleSession is the slice of the oracle client the commands use.
type oracleSession interface {
	Address() common.Address
	Arbitrate(ctx context.Context, obligation common.Hash, demand []byte, decision bool) (common.Hash, error)
	RequestArbitration(ctx context.Context, obligation common.Hash, oracle common.Address, demand []byte) (common.Hash, error)
	WaitForArbitration(ctx context.Context, q oracle.ArbitrationQuery) (contracts.ArbitrationMade, error)
	GetEscrowAndDemand(ctx context.Context, fulfillment contracts.Attestation) (contracts.Attestation, contracts.TrustedOracleDemand, error)
	ArbitrateMany(ctx context.Context, decider oracle.Decider, callback oracle.Callback, opts oracle.Options) (oracle.Result, error)
	GetAttestation(ctx context.Context, uid common.Hash) (contracts.Attestation, error)
	Close()
}

type chainSession struct {
	*oracle.Oracle
	eas    *chain.AttestationReader
	client interface{ Close() }
}

func (s *chainSession) GetAttestation(ctx context.Context, uid common.Hash) (contracts.Attestation, error) {
	return s.eas.GetAttestation(ctx, uid)
}

func (s *chainSession) Close() { s.client.Close() }

// openSession is swapped by tests.
var openSession = dialSession

// dialSession connects using p. Without needSigner the session is read-only
// and acts as readAs.
func dialSession(ctx context.Context, p profile, needSigner bool, readAs common.Address) (oracleSession, error) {
	if err := p.validate(needSigner); err != nil {
		return nil, err
	}
	client, err := chain.Dial(ctx, p.RPCURL)
	if err != nil {
		return nil, err
	}

	var transactor *chain.Transactor
	address := readAs
	if needSigner {
		key, err := loadKey(p)
		if err != nil {
			client.Close()
			return nil, err
		}
		transactor, err = chain.NewTransactor(client, key, new(big.Int).SetUint64(p.ChainID))
		if err != nil {
			client.Close()
			return nil, err
		}
		address = transactor.From()
	}

	logs := chain.NewLogSource(client)
	arbiter := chain.NewArbiter(common.HexToAddress(p.TrustedOracleArbiter), logs, transactor)
	eas := chain.NewAttestationReader(client, common.HexToAddress(p.EAS))
	return &chainSession{
		Oracle: oracle.NewFromChain(address, arbiter, eas),
		eas:    eas,
		client: client,
	}, nil
}

func loadKey(p profile) (*ecdsa.PrivateKey, error) {
	if p.PrivateKey != "" {
		key, err := chain.ParsePrivateKey(p.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return key, nil
	}
	secret, err := passphrase.NewSource(p.KeystorePassEnv, "oracle keystore").Get()
	if err != nil {
		return nil, err
	}
	key, err := chain.LoadKeystore(p.Keystore, secret)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	return key, nil
}
