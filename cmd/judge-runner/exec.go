package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"judgerunner/internal/judge/model"

	"github.com/spf13/cobra"
)

func newExecCmd() *cobra.Command {
	var (
		language  string
		version   string
		codePath  string
		judgePath string
	)
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Judge one submission locally and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(codePath)
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}
			judge, err := os.ReadFile(judgePath)
			if err != nil {
				return fmt.Errorf("read judge: %w", err)
			}

			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runExec(ctx, a, model.ExecutionRequest{
				Language: language,
				Version:  version,
				Code:     string(code),
				Judge:    string(judge),
			}, cmd)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "candidate language id")
	cmd.Flags().StringVar(&version, "version", "", "toolchain version (default: language latest)")
	cmd.Flags().StringVarP(&codePath, "code", "c", "", "candidate source file")
	cmd.Flags().StringVarP(&judgePath, "judge", "j", "", "judge program file")
	_ = cmd.MarkFlagRequired("language")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("judge")
	return cmd
}

func runExec(ctx context.Context, a *app, req model.ExecutionRequest, cmd *cobra.Command) error {
	report, err := a.svc.Execute(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Tests.Pass {
		cmd.SilenceErrors = true
		return fmt.Errorf("judge did not pass")
	}
	return nil
}
