package contracts

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyAttestation is returned when EAS answers with the zero attestation,
// which is how the contract reports an unknown UID.
var ErrEmptyAttestation = errors.New("contracts: attestation not found")

// Attestation mirrors the EAS Attestation struct.
type Attestation struct {
	UID            common.Hash
	Schema         common.Hash
	Time           uint64
	ExpirationTime uint64
	RevocationTime uint64
	RefUID         common.Hash
	Recipient      common.Address
	Attester       common.Address
	Revocable      bool
	Data           []byte
}

// attestationTuple has the field names go-ethereum derives for the tuple
// components so abi.ConvertType can copy into it.
type attestationTuple struct {
	Uid            [32]byte
	Schema         [32]byte
	Time           uint64
	ExpirationTime uint64
	RevocationTime uint64
	RefUID         [32]byte
	Recipient      common.Address
	Attester       common.Address
	Revocable      bool
	Data           []byte
}

// IsActive reports whether the attestation is neither expired nor revoked at now.
func (a Attestation) IsActive(now time.Time) bool {
	ts := uint64(now.Unix())
	if a.ExpirationTime != 0 && a.ExpirationTime < ts {
		return false
	}
	if a.RevocationTime != 0 && a.RevocationTime < ts {
		return false
	}
	return true
}

// IsZero reports whether the attestation carries no UID.
func (a Attestation) IsZero() bool {
	return a.UID == (common.Hash{})
}

// PackGetAttestation returns calldata for IEAS.getAttestation(uid).
func PackGetAttestation(uid common.Hash) ([]byte, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	return easABI.Pack("getAttestation", uid)
}

// UnpackAttestation decodes the return data of IEAS.getAttestation. A zero
// UID in the result yields ErrEmptyAttestation.
func UnpackAttestation(output []byte) (Attestation, error) {
	if err := loadABIs(); err != nil {
		return Attestation{}, err
	}
	values, err := easABI.Unpack("getAttestation", output)
	if err != nil {
		return Attestation{}, fmt.Errorf("unpack attestation: %w", err)
	}
	if len(values) != 1 {
		return Attestation{}, fmt.Errorf("unpack attestation: expected 1 value, got %d", len(values))
	}
	tuple := *abi.ConvertType(values[0], new(attestationTuple)).(*attestationTuple)
	att := Attestation{
		UID:            common.Hash(tuple.Uid),
		Schema:         common.Hash(tuple.Schema),
		Time:           tuple.Time,
		ExpirationTime: tuple.ExpirationTime,
		RevocationTime: tuple.RevocationTime,
		RefUID:         common.Hash(tuple.RefUID),
		Recipient:      tuple.Recipient,
		Attester:       tuple.Attester,
		Revocable:      tuple.Revocable,
		Data:           tuple.Data,
	}
	if att.IsZero() {
		return att, ErrEmptyAttestation
	}
	return att, nil
}

// PackAttestationResult encodes att the way IEAS.getAttestation returns it.
func PackAttestationResult(att Attestation) ([]byte, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	tuple := attestationTuple{
		Uid:            att.UID,
		Schema:         att.Schema,
		Time:           att.Time,
		ExpirationTime: att.ExpirationTime,
		RevocationTime: att.RevocationTime,
		RefUID:         att.RefUID,
		Recipient:      att.Recipient,
		Attester:       att.Attester,
		Revocable:      att.Revocable,
		Data:           att.Data,
	}
	return easABI.Methods["getAttestation"].Outputs.Pack(tuple)
}
