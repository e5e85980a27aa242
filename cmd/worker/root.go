package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imageworker/internal/infra"
)

var (
	cfg    *infra.Config
	logger infra.Logger

	variantFlag string
	debugFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serverless image generation worker backed by ComfyUI",
	Long: `worker provisions model weights, supervises a local ComfyUI process and
turns invocation events into generated images.

Configuration comes from the environment (and .env / .env.local when present).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := infra.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if variantFlag != "" {
			loaded.Variant = variantFlag
		}
		if debugFlag {
			loaded.AppEnv = "development"
		}
		cfg = loaded
		logger = infra.NewLogger(cfg.AppEnv)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&variantFlag, "variant", "", "workflow variant (overrides WORKER_VARIANT)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
