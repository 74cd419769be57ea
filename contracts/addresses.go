package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Deployment names the contracts an oracle talks to on one network.
type Deployment struct {
	Name                 string
	ChainID              uint64
	EAS                  common.Address
	TrustedOracleArbiter common.Address
}

var (
	// BaseSepolia is the public Base Sepolia deployment.
	BaseSepolia = Deployment{
		Name:                 "base-sepolia",
		ChainID:              84532,
		EAS:                  common.HexToAddress("0x4200000000000000000000000000000000000021"),
		TrustedOracleArbiter: common.HexToAddress("0x3664b11BcCCeCA27C21BBAB43548961eD14d4D6D"),
	}

	// FilecoinCalibration is the Filecoin Calibration testnet deployment.
	FilecoinCalibration = Deployment{
		Name:                 "filecoin-calibration",
		ChainID:              314159,
		EAS:                  common.HexToAddress("0x3c79a0225380fB6F3CB990FfC4E3D5aF4546b524"),
		TrustedOracleArbiter: common.HexToAddress("0x61dc9c2d757a1c9d0d38a281288d9ef918e77baa"),
	}
)

// LookupDeployment resolves a deployment by name. Underscores and case are
// ignored, so base_sepolia and Base-Sepolia both match.
func LookupDeployment(name string) (Deployment, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-") {
	case BaseSepolia.Name:
		return BaseSepolia, true
	case FilecoinCalibration.Name:
		return FilecoinCalibration, true
	default:
		return Deployment{}, false
	}
}
