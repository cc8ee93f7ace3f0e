package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/judge_runner.yaml"

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "judge-runner",
		Short:        "Sandboxed code execution and judging service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	root.AddCommand(newServeCmd())
	root.AddCommand(newExecCmd())
	root.AddCommand(newInstallCmd())
	root.AddCommand(newLanguagesCmd())
	return root
}
