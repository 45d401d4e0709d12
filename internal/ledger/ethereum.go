package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quantarax/chainxfer/internal/crypto"
)

// DefaultGasLimit is the gas limit used for registerFile transactions.
const DefaultGasLimit uint64 = 3_000_000

// FileRegistryABI is the ABI of contracts/FileRegistry.sol.
const FileRegistryABI = `[
  {"type":"function","name":"registerFile","stateMutability":"nonpayable",
   "inputs":[{"name":"fileName","type":"string"},{"name":"fileHash","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"getFileHash","stateMutability":"view",
   "inputs":[{"name":"fileName","type":"string"}],
   "outputs":[{"name":"","type":"string"}]}
]`

const (
	methodRegister = "registerFile"
	methodLookup   = "getFileHash"
)

// EthereumConfig configures the FileRegistry contract client.
type EthereumConfig struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64 // 0 queries the node
	GasLimit        uint64

	// Signing key: a hex private key, or a keystore file and passphrase.
	// Without either the ledger is read-only.
	PrivateKey         string
	KeystorePath       string
	KeystorePassphrase string
}

// Validate checks the static configuration.
func (c EthereumConfig) Validate() error {
	if c.RPCURL == "" {
		return errors.New("ledger: ethereum rpc url is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("ledger: invalid contract address %q", c.ContractAddress)
	}
	if c.ChainID < 0 {
		return fmt.Errorf("ledger: invalid chain id %d", c.ChainID)
	}
	return nil
}

// signingKey loads the configured secp256k1 key, or nil for read-only use.
func (c EthereumConfig) signingKey() (*ecdsa.PrivateKey, error) {
	switch {
	case c.PrivateKey != "":
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("ledger: parse private key: %w", err)
		}
		return key, nil
	case c.KeystorePath != "":
		raw, err := crypto.LoadKey(c.KeystorePath, c.KeystorePassphrase)
		if err != nil {
			return nil, fmt.Errorf("ledger: load keystore: %w", err)
		}
		key, err := ethcrypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("ledger: keystore holds an invalid key: %w", err)
		}
		return key, nil
	default:
		return nil, nil
	}
}

// ethBackend is what the ledger needs from a node. *ethclient.Client
// satisfies it.
type ethBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// EthereumLedger records digests in a FileRegistry contract.
type EthereumLedger struct {
	backend  ethBackend
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	gasLimit uint64
}

// DialEthereum connects to the node and binds the contract.
func DialEthereum(ctx context.Context, cfg EthereumConfig) (*EthereumLedger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := cfg.signingKey()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, cfg.RPCURL, err)
	}
	l, err := bindRegistry(ctx, client, common.HexToAddress(cfg.ContractAddress), cfg, key)
	if err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

// bindRegistry binds the FileRegistry at addr on backend. A nil key gives a
// read-only ledger.
func bindRegistry(ctx context.Context, backend ethBackend, addr common.Address, cfg EthereumConfig, key *ecdsa.PrivateKey) (*EthereumLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(FileRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse registry abi: %w", err)
	}

	l := &EthereumLedger{
		backend:  backend,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		gasLimit: cfg.GasLimit,
	}
	if l.gasLimit == 0 {
		l.gasLimit = DefaultGasLimit
	}

	if key != nil {
		chainID := big.NewInt(cfg.ChainID)
		if cfg.ChainID == 0 {
			chainID, err = backend.ChainID(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: query chain id: %v", ErrUnavailable, err)
			}
		}
		l.auth, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("ledger: build transactor: %w", err)
		}
	}
	return l, nil
}

// Record submits registerFile and waits for the transaction to be mined
// successfully.
func (e *EthereumLedger) Record(ctx context.Context, name, digest string) (*Receipt, error) {
	if err := validateRecord(name, digest); err != nil {
		return nil, err
	}
	if e.auth == nil {
		return nil, ErrReadOnly
	}

	opts := *e.auth
	opts.Context = ctx
	opts.GasLimit = e.gasLimit

	tx, err := e.contract.Transact(&opts, methodRegister, name, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: submit %s: %v", ErrRejected, methodRegister, err)
	}

	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: wait for %s: %v", ErrUnavailable, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted", ErrRejected, tx.Hash().Hex())
	}

	return &Receipt{
		Name:       name,
		Digest:     digest,
		TxID:       tx.Hash().Hex(),
		Block:      receipt.BlockNumber.Uint64(),
		RecordedAt: time.Now().UTC(),
	}, nil
}

// Lookup calls getFileHash. The contract returns an empty string for an
// unknown name.
func (e *EthereumLedger) Lookup(ctx context.Context, name string) (string, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodLookup, name); err != nil {
		return "", fmt.Errorf("%w: call %s: %v", ErrUnavailable, methodLookup, err)
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%w: %s returned %d values", ErrUnavailable, methodLookup, len(out))
	}
	digest := *abi.ConvertType(out[0], new(string)).(*string)
	if digest == "" {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return digest, nil
}

// ReadOnly reports whether the ledger was opened without a signing key.
func (e *EthereumLedger) ReadOnly() bool {
	return e.auth == nil
}

// From returns the account that signs registerFile transactions.
func (e *EthereumLedger) From() (common.Address, bool) {
	if e.auth == nil {
		return common.Address{}, false
	}
	return e.auth.From, true
}

// Close releases the RPC connection.
func (e *EthereumLedger) Close() error {
	e.backend.Close()
	return nil
}
