package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"alkahest/contracts"
)

// AttestationReader resolves attestations from an EAS deployment.
type AttestationReader struct {
	backend Backend
	eas     common.Address
}

// NewAttestationReader constructs a reader for the EAS contract at eas.
func NewAttestationReader(backend Backend, eas common.Address) *AttestationReader {
	return &AttestationReader{backend: backend, eas: eas}
}

// GetAttestation calls IEAS.getAttestation. An unknown UID returns
// contracts.ErrEmptyAttestation.
func (r *AttestationReader) GetAttestation(ctx context.Context, uid common.Hash) (contracts.Attestation, error) {
	if r == nil || r.backend == nil {
		return contracts.Attestation{}, fmt.Errorf("attestation reader not initialised")
	}
	calldata, err := contracts.PackGetAttestation(uid)
	if err != nil {
		return contracts.Attestation{}, err
	}
	eas := r.eas
	output, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &eas, Data: calldata}, nil)
	if err != nil {
		return contracts.Attestation{}, fmt.Errorf("getAttestation %s: %w", uid.Hex(), err)
	}
	att, err := contracts.UnpackAttestation(output)
	if err != nil {
		return contracts.Attestation{}, fmt.Errorf("getAttestation %s: %w", uid.Hex(), err)
	}
	return att, nil
}
