// Package config loads chainxfer settings from flags, CHAINXFER_*
// environment variables, an optional yaml/toml file and defaults, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantarax/chainxfer/internal/crypto"
	"github.com/quantarax/chainxfer/internal/ledger"
	"github.com/quantarax/chainxfer/internal/observability"
	"github.com/quantarax/chainxfer/internal/transport"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "CHAINXFER"

// Config is the full runtime configuration.
type Config struct {
	Network        string        `mapstructure:"network"`
	Address        string        `mapstructure:"address"`
	MaxPayloadSize int64         `mapstructure:"max_payload_size"`
	RateLimit      int64         `mapstructure:"rate_limit"` // bytes/s, 0 is unlimited
	Timeout        time.Duration `mapstructure:"timeout"`    // 0 waits forever
	Hash           string        `mapstructure:"hash"`
	Cipher         string        `mapstructure:"cipher"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`

	Ledger LedgerConfig `mapstructure:"ledger"`
	Log    LogConfig    `mapstructure:"log"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend            string `mapstructure:"backend"`
	BoltPath           string `mapstructure:"bolt_path"`
	RPCURL             string `mapstructure:"rpc_url"`
	Contract           string `mapstructure:"contract"`
	ChainID            int64  `mapstructure:"chain_id"`
	GasLimit           uint64 `mapstructure:"gas_limit"`
	PrivateKey         string `mapstructure:"private_key"`
	Keystore           string `mapstructure:"keystore"`
	KeystorePassphrase string `mapstructure:"keystore_passphrase"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Network:        string(transport.NetworkTCP),
		Address:        "localhost:9999",
		MaxPayloadSize: transport.DefaultMaxPayloadSize,
		Hash:           string(crypto.HashSHA256),
		Cipher:         crypto.SuiteAES256GCM.String(),
		Ledger: LedgerConfig{
			Backend:  string(ledger.BackendEthereum),
			BoltPath: DefaultBoltPath(),
			RPCURL:   "http://127.0.0.1:7545",
			GasLimit: ledger.DefaultGasLimit,
			Keystore: crypto.DefaultKeystorePath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultBoltPath returns the default local ledger file, next to the keystore.
func DefaultBoltPath() string {
	return filepath.Join(filepath.Dir(filepath.Dir(crypto.DefaultKeystorePath())), "ledger.db")
}

// NewViper returns a viper instance with defaults and environment binding
// applied. configFile may be empty to search ./chainxfer.{yaml,toml} and
// ~/.config/chainxfer.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("chainxfer")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "chainxfer"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("network", d.Network)
	v.SetDefault("address", d.Address)
	v.SetDefault("max_payload_size", d.MaxPayloadSize)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("hash", d.Hash)
	v.SetDefault("cipher", d.Cipher)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	v.SetDefault("ledger.backend", d.Ledger.Backend)
	v.SetDefault("ledger.bolt_path", d.Ledger.BoltPath)
	v.SetDefault("ledger.rpc_url", d.Ledger.RPCURL)
	v.SetDefault("ledger.contract", d.Ledger.Contract)
	v.SetDefault("ledger.chain_id", d.Ledger.ChainID)
	v.SetDefault("ledger.gas_limit", d.Ledger.GasLimit)
	v.SetDefault("ledger.private_key", d.Ledger.PrivateKey)
	v.SetDefault("ledger.keystore", d.Ledger.Keystore)
	v.SetDefault("ledger.keystore_passphrase", d.Ledger.KeystorePassphrase)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the config file, if any, and decodes v into a validated Config.
// A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on the command being run.
// Ledger settings are checked by LedgerConfig when the ledger is opened.
func (c *Config) Validate() error {
	if _, err := c.TransportOptions(); err != nil {
		return err
	}
	if _, err := crypto.ParseHashAlgorithm(c.Hash); err != nil {
		return err
	}
	if _, err := crypto.ParseSuite(c.Cipher); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative, got %s", c.Timeout)
	}
	switch ledger.Backend(c.Ledger.Backend) {
	case ledger.BackendBolt, ledger.BackendEthereum:
	default:
		return fmt.Errorf("%w: %q", ledger.ErrUnsupportedBackend, c.Ledger.Backend)
	}
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// TransportOptions maps the transport settings.
func (c *Config) TransportOptions() (transport.Options, error) {
	opts := transport.Options{
		Network:        transport.Network(c.Network),
		Address:        c.Address,
		MaxPayloadSize: c.MaxPayloadSize,
		RateLimit:      c.RateLimit,
	}
	if err := opts.Validate(); err != nil {
		return transport.Options{}, err
	}
	return opts, nil
}

// LedgerConfig maps the ledger settings. When writable is false the
// signing key is left out so a lookup never needs a passphrase.
func (c *Config) LedgerConfig(writable bool) ledger.Config {
	lc := ledger.Config{
		Backend: ledger.Backend(c.Ledger.Backend),
		Bolt:    ledger.BoltConfig{Path: c.Ledger.BoltPath},
		Ethereum: ledger.EthereumConfig{
			RPCURL:          c.Ledger.RPCURL,
			ContractAddress: c.Ledger.Contract,
			ChainID:         c.Ledger.ChainID,
			GasLimit:        c.Ledger.GasLimit,
		},
	}
	if writable {
		lc.Ethereum.PrivateKey = c.Ledger.PrivateKey
		if lc.Ethereum.PrivateKey == "" {
			lc.Ethereum.KeystorePath = c.Ledger.Keystore
			lc.Ethereum.KeystorePassphrase = c.Ledger.KeystorePassphrase
		}
	}
	return lc
}

// Hasher builds the configured digest algorithm.
func (c *Config) Hasher() (*crypto.Hasher, error) {
	alg, err := crypto.ParseHashAlgorithm(c.Hash)
	if err != nil {
		return nil, err
	}
	return crypto.NewHasher(alg)
}

// NewCipher builds the configured cipher suite.
func (c *Config) NewCipher() (*crypto.Cipher, error) {
	suite, err := crypto.ParseSuite(c.Cipher)
	if err != nil {
		return nil, err
	}
	return crypto.NewCipher(suite)
}
