package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantarax/chainxfer/internal/ledger"
)

func newLookupCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "lookup --name <record>",
		Short: "Print the digest recorded on the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := application.commandContext(cmd.Context())
			defer cancel()

			l, err := application.openLedger(ctx, false)
			if err != nil {
				return err
			}
			digest, err := l.Lookup(ctx, name)
			if errors.Is(err, ledger.ErrNotFound) {
				return &exitCodeError{code: exitVerificationFailed, err: fmt.Errorf("no digest recorded for %q", name)}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "ledger record name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
