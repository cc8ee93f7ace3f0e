package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List configured languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(cfgFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, lang := range cfg.Languages {
				compiled := ""
				if lang.CompileEnabled() {
					compiled = " [compiled]"
				}
				fmt.Fprintf(out, "  - %s (%s, latest %s)%s\n", lang.ID, lang.Name, lang.LatestVersion, compiled)
			}
			return nil
		},
	}
}
