package oracled

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"alkahest/chain"
	"alkahest/internal/passphrase"
	"alkahest/journal"
	"alkahest/observability/logging"
	telemetry "alkahest/observability/otel"
	"alkahest/oracle"
)

const defaultPassphraseEnv = "ALKAHEST_KEYSTORE_PASSPHRASE"

// Main initialises and runs the oracle daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/oracled/config.yaml", "path to oracled configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("ALKAHEST_ENV"))
	logger := logging.SetupWithFile("oracled", env, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("oracled", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	key, err := loadSigner(cfg)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := chain.Dial(dialCtx, cfg.RPCURL)
	if err == nil {
		err = checkChainID(dialCtx, client, cfg.ChainID)
	}
	cancel()
	if err != nil {
		if client != nil {
			client.Close()
		}
		return err
	}
	defer client.Close()

	var transactor *chain.Transactor
	address := common.HexToAddress(cfg.OracleAddress)
	if key != nil {
		var opts []chain.TransactorOption
		if cfg.SubmitRatePerSecond > 0 {
			opts = append(opts, chain.WithRateLimit(cfg.SubmitRatePerSecond, 1))
		}
		transactor, err = chain.NewTransactor(client, key, new(big.Int).SetUint64(cfg.ChainID), opts...)
		if err != nil {
			return fmt.Errorf("init transactor: %w", err)
		}
		if cfg.OracleAddress != "" && address != transactor.From() {
			return fmt.Errorf("configured oracle %s does not match signer %s", address.Hex(), transactor.From().Hex())
		}
		address = transactor.From()
	}

	logs := chain.NewLogSource(client,
		chain.WithChunkSize(cfg.LogChunkSize),
		chain.WithPollInterval(cfg.PollInterval.Duration),
	)
	arbiter := chain.NewArbiter(common.HexToAddress(cfg.Arbiter), logs, transactor)
	eas := chain.NewAttestationReader(client, common.HexToAddress(cfg.EAS))

	store, err := journal.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	decider, err := NewDecider(cfg.Decider)
	if err != nil {
		return fmt.Errorf("init decider: %w", err)
	}

	engine := oracle.NewFromChain(address, arbiter, eas,
		oracle.WithArbitrationIndex(journal.NewCachedIndex(store, arbiter)),
		oracle.WithLogger(logger.With("component", "oracle")),
		oracle.WithConcurrency(cfg.Concurrency),
		oracle.WithSubmitTimeout(cfg.SubmitTimeout.Duration),
	)
	runner := NewRunner(engine, decider, store, logs, cfg, WithRunnerLogger(logger.With("component", "runner")))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(NewAdminServer(store, runner, address), "oracled"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("oracled starting",
		"oracle", address.Hex(),
		"arbiter", cfg.Arbiter,
		"mode", cfg.Mode.String(),
		"dry_run", cfg.DryRun,
		logging.Endpoint("rpc_url", cfg.RPCURL),
		logging.MaskField("decider_secret", cfg.Decider.Secret),
	)

	errs := make(chan error, 2)
	go func() {
		logger.Info("admin server listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(stopCtx); err != nil {
			errs <- err
		}
	}()

	var runErr error
	select {
	case <-stopCtx.Done():
	case runErr = <-errs:
		stop()
	}
	<-runnerDone

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		return errors.Join(runErr, err)
	}
	logger.Info("oracled stopped")
	return runErr
}

func loadSigner(cfg Config) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.Keystore != "":
		envVar := cfg.KeystorePassphraseEnv
		if envVar == "" {
			envVar = defaultPassphraseEnv
		}
		secret, err := passphrase.NewSource(envVar, "oracle keystore").Get()
		if err != nil {
			return nil, err
		}
		key, err := chain.LoadKeystore(cfg.Keystore, secret)
		if err != nil {
			return nil, fmt.Errorf("load keystore: %w", err)
		}
		return key, nil
	case cfg.SignerKey != "":
		key, err := chain.ParsePrivateKey(cfg.SignerKey)
		if err != nil {
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		return key, nil
	}
	return nil, nil
}

type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

func checkChainID(ctx context.Context, client chainIDReader, want uint64) error {
	got, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if !got.IsUint64() || got.Uint64() != want {
		return fmt.Errorf("rpc reports chain id %s, configured %d", got, want)
	}
	return nil
}
