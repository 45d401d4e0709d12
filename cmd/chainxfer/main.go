// Command chainxfer sends a file with its digest recorded on a ledger and
// verifies received files against that ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/quantarax/chainxfer/internal/config"
	"github.com/quantarax/chainxfer/internal/ledger"
	"github.com/quantarax/chainxfer/internal/observability"
	"github.com/quantarax/chainxfer/internal/transfer"
)

const serviceName = "chainxfer"

var version = "dev"

// Exit codes.
const (
	exitOK                 = 0
	exitError              = 1
	exitVerificationFailed = 2
)

// exitCodeError carries a non-default process exit code.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	health   *observability.HealthChecker

	server          *http.Server
	shutdownTracing func(context.Context) error
	ledger          ledger.Ledger
}

func (a *app) setup(ctx context.Context) error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := observability.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if cfg.Log.Format == "json" {
		a.logger = observability.NewLogger(serviceName, version, os.Stderr).WithLevel(level)
	} else {
		a.logger = observability.NewConsoleLogger(serviceName, os.Stderr).WithLevel(level)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)
	a.health = observability.NewHealthChecker(version)

	shutdown, err := observability.InitTracing(ctx, serviceName)
	if err != nil {
		a.logger.Error(err, "tracing disabled")
	} else {
		a.shutdownTracing = shutdown
	}

	if cfg.MetricsAddr != "" {
		a.server = startObservabilityServer(cfg.MetricsAddr, a.registry, a.health, a.logger)
	}
	return nil
}

// openLedger opens the configured backend, instruments it and registers
// its health checks.
func (a *app) openLedger(ctx context.Context, writable bool) (ledger.Ledger, error) {
	lc := a.cfg.LedgerConfig(writable)
	if writable && lc.Backend == ledger.BackendEthereum && lc.Ethereum.PrivateKey == "" {
		if err := promptKeystorePassphrase(&lc.Ethereum); err != nil {
			return nil, err
		}
	}

	l, err := ledger.Open(ctx, lc)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", lc.Backend, err)
	}
	if eth, ok := l.(*ledger.EthereumLedger); ok {
		a.health.RegisterCheck("keystore", observability.KeystoreCheck(!eth.ReadOnly()))
		if from, ok := eth.From(); ok {
			a.logger.Debug("signing ledger transactions as " + from.Hex())
		}
	}

	a.ledger = ledger.Instrument(l, a.metrics)
	a.health.RegisterCheck("ledger", observability.LedgerCheck(string(lc.Backend), 0, func(ctx context.Context) error {
		return ledger.Probe(ctx, a.ledger)
	}))
	return a.ledger, nil
}

func (a *app) transferOptions(l ledger.Ledger) (transfer.Options, error) {
	h, err := a.cfg.Hasher()
	if err != nil {
		return transfer.Options{}, err
	}
	c, err := a.cfg.NewCipher()
	if err != nil {
		return transfer.Options{}, err
	}
	return transfer.Options{
		Hasher:  h,
		Cipher:  c,
		Ledger:  l,
		Logger:  a.logger,
		Metrics: a.metrics,
	}, nil
}

// commandContext applies the configured timeout on top of ctx.
func (a *app) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (a *app) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Error(err, "close ledger")
		}
	}
	if a.server != nil {
		_ = a.server.Shutdown(context.Background())
	}
	if a.shutdownTracing != nil {
		_ = a.shutdownTracing(context.Background())
	}
}

var (
	cfgFile     string
	v           *viper.Viper
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "chainxfer",
		Short:         "Ledger-verified file transfer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.setup(cmd.Context())
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	application.close()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		code := exitError
		var ec *exitCodeError
		if errors.As(err, &ec) {
			code = ec.code
		}
		os.Exit(code)
	}
	os.Exit(exitOK)
}

func initConfig() {
	v = config.NewViper(cfgFile)
	for _, b := range flagBindings {
		bindConfig(b.key, rootCmd.PersistentFlags().Lookup(b.flag))
	}
}

// flagBindings maps config keys to root flags.
var flagBindings = []struct{ key, flag string }{
	{"network", "network"},
	{"address", "address"},
	{"max_payload_size", "max-payload-size"},
	{"rate_limit", "rate-limit"},
	{"timeout", "timeout"},
	{"hash", "hash"},
	{"cipher", "cipher"},
	{"metrics_addr", "metrics-addr"},
	{"ledger.backend", "ledger-backend"},
	{"ledger.bolt_path", "ledger-bolt-path"},
	{"ledger.rpc_url", "ledger-rpc-url"},
	{"ledger.contract", "ledger-contract"},
	{"ledger.chain_id", "ledger-chain-id"},
	{"ledger.gas_limit", "ledger-gas-limit"},
	{"ledger.keystore", "ledger-keystore"},
	{"log.level", "log-level"},
	{"log.format", "log-format"},
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	d := config.DefaultConfig()
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")

	pf.String("network", d.Network, "transport network: tcp|quic")
	pf.String("address", d.Address, "receiver address (host:port)")
	pf.Int64("max-payload-size", d.MaxPayloadSize, "largest accepted payload in bytes")
	pf.Int64("rate-limit", d.RateLimit, "cap send rate in bytes per second (0 is unlimited)")
	pf.Duration("timeout", d.Timeout, "overall command timeout (0 waits forever)")
	pf.String("hash", d.Hash, "digest algorithm: sha256|blake3")
	pf.String("cipher", d.Cipher, "cipher suite: aes-256-gcm|xchacha20-poly1305")
	pf.String("metrics-addr", d.MetricsAddr, "serve /metrics and /health on this address")

	pf.String("ledger-backend", d.Ledger.Backend, "ledger backend: ethereum|bolt")
	pf.String("ledger-bolt-path", d.Ledger.BoltPath, "bolt ledger file")
	pf.String("ledger-rpc-url", d.Ledger.RPCURL, "Ethereum JSON-RPC endpoint")
	pf.String("ledger-contract", d.Ledger.Contract, "FileRegistry contract address")
	pf.Int64("ledger-chain-id", d.Ledger.ChainID, "chain id (0 asks the node)")
	pf.Uint64("ledger-gas-limit", d.Ledger.GasLimit, "gas limit for registerFile")
	pf.String("ledger-keystore", d.Ledger.Keystore, "signing key keystore file")

	pf.String("log-level", d.Log.Level, "log level: debug|info|warn|error")
	pf.String("log-format", d.Log.Format, "log format: console|json")
}

func initCommands() {
	rootCmd.AddCommand(
		newSendCmd(),
		newReceiveCmd(),
		newLookupCmd(),
		newDigestCmd(),
		newKeygenCmd(),
	)
}
