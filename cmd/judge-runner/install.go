package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <language> [version]",
		Short: "Install a language toolchain ahead of time",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, err := a.svc.Install(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}
