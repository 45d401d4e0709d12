package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quantarax/chainxfer/internal/transfer"
	"github.com/quantarax/chainxfer/internal/transport"
	"github.com/quantarax/chainxfer/internal/validation"
)

func newSendCmd() *cobra.Command {
	var file, name string
	cmd := &cobra.Command{
		Use:   "send --file <path> [--name <record>]",
		Short: "Record a file's digest on the ledger and send it encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateFilePath(file, true); err != nil {
				return err
			}
			record := name
			if record == "" {
				record = filepath.Base(file)
			}
			ctx, cancel := application.commandContext(cmd.Context())
			defer cancel()

			opts, err := application.cfg.TransportOptions()
			if err != nil {
				return err
			}
			initiator, err := transport.NewInitiator(opts)
			if err != nil {
				return err
			}

			l, err := application.openLedger(ctx, true)
			if err != nil {
				return err
			}
			topts, err := application.transferOptions(l)
			if err != nil {
				return err
			}
			sender, err := transfer.NewSender(topts, initiator)
			if err != nil {
				return err
			}

			report, err := sender.Send(ctx, file, record)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sent %s as %q to %s\n", file, record, initiator)
			fmt.Fprintf(out, "  Digest:      %s\n", report.Digest)
			fmt.Fprintf(out, "  Ledger tx:   %s\n", report.Receipt.TxID)
			if report.Receipt.Block > 0 {
				fmt.Fprintf(out, "  Block:       %d\n", report.Receipt.Block)
			}
			fmt.Fprintf(out, "  Bytes sent:  %d\n", report.BytesSent)
			fmt.Fprintf(out, "  Transfer ID: %s\n", report.TransferID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to send")
	cmd.Flags().StringVarP(&name, "name", "n", "", "ledger record name (default: the file's base name)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
