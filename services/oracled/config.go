package oracled

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"alkahest/contracts"
	"alkahest/oracle"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings. "none" maps to
// oracle.NoTimeout.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	switch raw {
	case "":
		d.Duration = 0
		return nil
	case "none", "never":
		d.Duration = oracle.NoTimeout
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for oracled.
type Config struct {
	ListenAddress string `yaml:"listen"`
	RPCURL        string `yaml:"rpc_url"`
	ChainID       uint64 `yaml:"chain_id"`
	Network       string `yaml:"network"`
	EAS           string `yaml:"eas"`
	Arbiter       string `yaml:"trusted_oracle_arbiter"`
	OracleAddress string `yaml:"oracle"`

	SignerKey             string `yaml:"signer_key"`
	SignerKeyEnv          string `yaml:"signer_key_env"`
	SignerKeyFile         string `yaml:"signer_key_file"`
	Keystore              string `yaml:"keystore"`
	KeystorePassphraseEnv string `yaml:"keystore_passphrase_env"`

	Mode                oracle.ArbitrationMode `yaml:"mode"`
	FromBlock           uint64                 `yaml:"from_block"`
	ListenTimeout       Duration               `yaml:"listen_timeout"`
	RestartBackoff      Duration               `yaml:"restart_backoff"`
	PollInterval        Duration               `yaml:"poll_interval"`
	SubmitTimeout       Duration               `yaml:"submit_timeout"`
	LogChunkSize        uint64                 `yaml:"log_chunk_size"`
	Concurrency         int                    `yaml:"concurrency"`
	SubmitRatePerSecond float64                `yaml:"submit_rate_per_second"`
	DatabasePath        string                 `yaml:"database"`
	DryRun              bool                   `yaml:"dry_run"`

	Decider DeciderConfig `yaml:"decider"`
	Logging LoggingConfig `yaml:"logging"`
}

// DeciderConfig selects how requests are judged.
type DeciderConfig struct {
	Type          string   `yaml:"type"`
	URL           string   `yaml:"url"`
	Timeout       Duration `yaml:"timeout"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	Approve       []string `yaml:"approve"`
	Expression    string   `yaml:"expression"`
	Secret        string   `yaml:"secret"`
}

// LoggingConfig optionally mirrors logs to a rotated file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

const (
	deciderWebhook     = "webhook"
	deciderStringMatch = "string_match"
	deciderCEL         = "cel"
)

// LoadConfig reads configuration from disk and applies defaults.
func LoadConfig(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.resolveSigner(); err != nil {
		return Config{}, err
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:8095"
	}
	cfg.RPCURL = strings.TrimSpace(cfg.RPCURL)
	cfg.Network = strings.TrimSpace(cfg.Network)
	if deployment, ok := contracts.LookupDeployment(cfg.Network); ok {
		if strings.TrimSpace(cfg.EAS) == "" {
			cfg.EAS = deployment.EAS.Hex()
		}
		if strings.TrimSpace(cfg.Arbiter) == "" {
			cfg.Arbiter = deployment.TrustedOracleArbiter.Hex()
		}
		if cfg.ChainID == 0 {
			cfg.ChainID = deployment.ChainID
		}
	}
	cfg.EAS = strings.TrimSpace(cfg.EAS)
	cfg.Arbiter = strings.TrimSpace(cfg.Arbiter)
	cfg.OracleAddress = strings.TrimSpace(cfg.OracleAddress)
	if cfg.Mode == 0 {
		cfg.Mode = oracle.AllUnarbitrated
	}
	if cfg.ListenTimeout.Duration == 0 {
		cfg.ListenTimeout.Duration = 10 * time.Minute
	}
	if cfg.RestartBackoff.Duration <= 0 {
		cfg.RestartBackoff.Duration = 5 * time.Second
	}
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval.Duration = 2 * time.Second
	}
	if cfg.SubmitTimeout.Duration <= 0 {
		cfg.SubmitTimeout.Duration = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	cfg.DatabasePath = strings.TrimSpace(cfg.DatabasePath)
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(os.TempDir(), "oracled.db")
	}
	cfg.Decider.Type = strings.ToLower(strings.TrimSpace(cfg.Decider.Type))
	if cfg.Decider.Type == "" {
		cfg.Decider.Type = deciderStringMatch
	}
	if cfg.Decider.Timeout.Duration <= 0 {
		cfg.Decider.Timeout.Duration = 10 * time.Second
	}
	cfg.Decider.URL = strings.TrimSpace(cfg.Decider.URL)
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func (cfg *Config) resolveSigner() error {
	cfg.SignerKey = strings.TrimSpace(cfg.SignerKey)
	cfg.SignerKeyEnv = strings.TrimSpace(cfg.SignerKeyEnv)
	cfg.SignerKeyFile = strings.TrimSpace(cfg.SignerKeyFile)
	cfg.Keystore = strings.TrimSpace(cfg.Keystore)
	if cfg.SignerKey != "" || cfg.Keystore != "" {
		return nil
	}
	switch {
	case cfg.SignerKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(cfg.SignerKeyEnv))
		if value == "" {
			return fmt.Errorf("signer_key_env %s is empty", cfg.SignerKeyEnv)
		}
		cfg.SignerKey = value
	case cfg.SignerKeyFile != "":
		contents, err := os.ReadFile(cfg.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("read signer_key_file: %w", err)
		}
		cfg.SignerKey = strings.TrimSpace(string(contents))
	case cfg.DryRun:
	default:
		return fmt.Errorf("signer_key, signer_key_env, signer_key_file or keystore required")
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc_url required")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain_id required")
	}
	if !common.IsHexAddress(cfg.EAS) {
		return fmt.Errorf("eas must be a hex address")
	}
	if !common.IsHexAddress(cfg.Arbiter) {
		return fmt.Errorf("trusted_oracle_arbiter must be a hex address")
	}
	if err := cfg.Mode.Validate(); err != nil {
		return err
	}
	if cfg.Mode.IncludesPast() && !cfg.Mode.SkipsArbitrated() {
		return fmt.Errorf("mode %s would re-decide every request on each restart; use past_unarbitrated, all_unarbitrated or future", cfg.Mode)
	}
	if cfg.OracleAddress != "" && !common.IsHexAddress(cfg.OracleAddress) {
		return fmt.Errorf("oracle must be a hex address")
	}
	if cfg.SignerKey == "" && cfg.Keystore == "" && cfg.OracleAddress == "" {
		return fmt.Errorf("oracle address required when running without a signer")
	}
	if cfg.Concurrency > 64 {
		return fmt.Errorf("concurrency must not exceed 64")
	}
	if cfg.SubmitRatePerSecond < 0 {
		return fmt.Errorf("submit_rate_per_second must not be negative")
	}
	switch cfg.Decider.Type {
	case deciderWebhook:
		if cfg.Decider.URL == "" {
			return fmt.Errorf("decider.url required for webhook decider")
		}
	case deciderStringMatch:
		if len(cfg.Decider.Approve) == 0 {
			return fmt.Errorf("decider.approve must list at least one item")
		}
	case deciderCEL:
		if _, err := NewCELDecider(cfg.Decider.Expression); err != nil {
			return fmt.Errorf("decider.expression: %w", err)
		}
	default:
		return fmt.Errorf("unsupported decider type %q", cfg.Decider.Type)
	}
	return nil
}

// Options converts the run section into engine options.
func (cfg Config) Options(fromBlock uint64) oracle.Options {
	return oracle.Options{
		Mode:      cfg.Mode,
		FromBlock: fromBlock,
		Timeout:   cfg.ListenTimeout.Duration,
		DryRun:    cfg.DryRun,
	}
}
