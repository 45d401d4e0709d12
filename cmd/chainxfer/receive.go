package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quantarax/chainxfer/internal/observability"
	"github.com/quantarax/chainxfer/internal/transfer"
	"github.com/quantarax/chainxfer/internal/transport"
)

func newReceiveCmd() *cobra.Command {
	var name, output string
	cmd := &cobra.Command{
		Use:   "receive --name <record> [--output <path>]",
		Short: "Accept one file and verify it against the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := output
			if dest == "" {
				dest = "received_" + filepath.Base(name)
			}
			ctx, cancel := application.commandContext(cmd.Context())
			defer cancel()

			l, err := application.openLedger(ctx, false)
			if err != nil {
				return err
			}
			topts, err := application.transferOptions(l)
			if err != nil {
				return err
			}
			receiver, err := transfer.NewReceiver(topts, dest)
			if err != nil {
				return err
			}

			opts, err := application.cfg.TransportOptions()
			if err != nil {
				return err
			}
			ln, err := transport.Listen(ctx, opts)
			if err != nil {
				return err
			}
			defer ln.Close()
			addr := ln.Addr().String()
			application.health.RegisterCheck("listener", observability.ListenerCheck(string(opts.Network), addr, func() string {
				return ln.State().String()
			}))
			application.logger.Info(fmt.Sprintf("waiting for one %s transfer on %s", opts.Network, addr))

			res, err := receiver.Receive(ctx, ln, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Received %q into %s (%d bytes)\n", name, res.OutputPath, res.BytesReceived)
			fmt.Fprintf(out, "  Computed digest: %s\n", res.ComputedDigest)
			if res.ExpectedDigest != "" {
				fmt.Fprintf(out, "  Ledger digest:   %s\n", res.ExpectedDigest)
			}
			fmt.Fprintf(out, "  Status:          %s\n", res.Status)

			switch res.Status {
			case transfer.StatusVerified:
				fmt.Fprintln(out, "File integrity verified.")
				return nil
			case transfer.StatusNotRecorded:
				return &exitCodeError{code: exitVerificationFailed, err: fmt.Errorf("no digest recorded for %q", name)}
			default:
				return &exitCodeError{code: exitVerificationFailed, err: fmt.Errorf("file %q has been tampered with", name)}
			}
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "ledger record name the sender used")
	cmd.Flags().StringVarP(&output, "output", "o", "", "where to write the file (default: received_<name>)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
