package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"alkahest/contracts"
)

const (
	envRPCURL      = "ALKAHEST_RPC_URL"
	envPrivateKey  = "ALKAHEST_PRIVATE_KEY"
	defaultPassEnv = "ALKAHEST_KEYSTORE_PASSPHRASE"
)

// profile is the TOML file at ~/.alkahest/config.toml.
type profile struct {
	RPCURL               string `toml:"RPCURL"`
	Network              string `toml:"Network"`
	ChainID              uint64 `toml:"ChainID"`
	EAS                  string `toml:"EAS"`
	TrustedOracleArbiter string `toml:"TrustedOracleArbiter"`
	PrivateKey           string `toml:"PrivateKey"`
	Keystore             string `toml:"Keystore"`
	KeystorePassEnv      string `toml:"KeystorePassEnv"`
}

var userHomeDir = os.UserHomeDir

func defaultProfilePath() string {
	home, err := userHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".alkahest", "config.toml")
}

// loadProfile reads path, or the default location when path is empty. A
// missing default file is not an error. Environment variables override the
// file.
func loadProfile(path string) (profile, error) {
	var p profile
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = defaultProfilePath()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &p); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return profile{}, fmt.Errorf("load profile %s: %w", path, err)
			}
		}
	}
	if value := strings.TrimSpace(os.Getenv(envRPCURL)); value != "" {
		p.RPCURL = value
	}
	if value := strings.TrimSpace(os.Getenv(envPrivateKey)); value != "" {
		p.PrivateKey = value
	}
	if d, ok := contracts.LookupDeployment(p.Network); ok {
		if p.EAS == "" {
			p.EAS = d.EAS.Hex()
		}
		if p.TrustedOracleArbiter == "" {
			p.TrustedOracleArbiter = d.TrustedOracleArbiter.Hex()
		}
		if p.ChainID == 0 {
			p.ChainID = d.ChainID
		}
	}
	if p.KeystorePassEnv == "" {
		p.KeystorePassEnv = defaultPassEnv
	}
	return p, nil
}

func (p profile) validate(needSigner bool) error {
	if strings.TrimSpace(p.RPCURL) == "" {
		return fmt.Errorf("rpc url required; set RPCURL in the profile or %s", envRPCURL)
	}
	if !common.IsHexAddress(p.EAS) {
		return fmt.Errorf("EAS address required; set Network or EAS in the profile")
	}
	if !common.IsHexAddress(p.TrustedOracleArbiter) {
		return fmt.Errorf("TrustedOracleArbiter address required; set Network or TrustedOracleArbiter in the profile")
	}
	if needSigner {
		if p.PrivateKey == "" && p.Keystore == "" {
			return fmt.Errorf("signer required; set PrivateKey, Keystore or %s", envPrivateKey)
		}
		if p.ChainID == 0 {
			return fmt.Errorf("ChainID required to sign transactions")
		}
	}
	return nil
}
