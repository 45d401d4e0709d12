package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <file>...",
		Short: "Print the local digest of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := application.cfg.Hasher()
			if err != nil {
				return err
			}
			for _, path := range args {
				d, err := h.DigestFile(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d, path)
			}
			return nil
		},
	}
}
