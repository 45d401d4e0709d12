package main

import (
	"errors"
	"fmt"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantarax/chainxfer/internal/crypto"
	"github.com/quantarax/chainxfer/internal/ledger"
)

func newKeygenCmd() *cobra.Command {
	var (
		output       string
		noPassphrase bool
		force        bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a ledger signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := output
			if dest == "" {
				dest = application.cfg.Ledger.Keystore
			}
			if !force {
				for _, p := range []string{dest, dest + ".insecure"} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("keystore %s already exists (use --force to overwrite)", p)
					}
				}
			}

			key, err := ethcrypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			var passphrase string
			if !noPassphrase {
				passphrase, err = readPassphrase("Enter passphrase (leave empty for no encryption): ", true)
				if err != nil {
					return err
				}
			}

			path, err := crypto.SaveKey(ethcrypto.FromECDSA(key), dest, passphrase)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Ledger signing key generated.")
			fmt.Fprintf(out, "  Address:  %s\n", ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
			fmt.Fprintf(out, "  Keystore: %s\n", path)
			if passphrase == "" {
				fmt.Fprintln(out, "WARNING: key stored WITHOUT encryption (insecure)")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "keystore file (default: ledger.keystore setting)")
	cmd.Flags().BoolVar(&noPassphrase, "no-passphrase", false, "store the key unencrypted")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("passphrase prompt needs a terminal; set CHAINXFER_LEDGER_KEYSTORE_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if !confirm || len(first) == 0 {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return string(first), nil
}

// promptKeystorePassphrase resolves the keystore file to use and asks for
// its passphrase when one is needed and none was configured. A missing
// keystore leaves the ledger read-only.
func promptKeystorePassphrase(ec *ledger.EthereumConfig) error {
	if ec.KeystorePath == "" {
		return nil
	}
	if _, err := os.Stat(ec.KeystorePath); err != nil {
		insecure := ec.KeystorePath + ".insecure"
		if _, err := os.Stat(insecure); err != nil {
			ec.KeystorePath = ""
			return nil
		}
		ec.KeystorePath = insecure
	}
	if crypto.IsInsecureKeystore(ec.KeystorePath) || ec.KeystorePassphrase != "" {
		return nil
	}
	pass, err := readPassphrase("Keystore passphrase: ", false)
	if err != nil {
		return err
	}
	ec.KeystorePassphrase = pass
	return nil
}
