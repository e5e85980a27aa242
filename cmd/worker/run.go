package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imageworker/internal/worker"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Handle a single event read from a file",
	Example: `  # local test with the bundled event
  worker run --input test_input.json

  # another variant
  worker run --variant qwen-image-2512 --input test_input.json`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runInput, "input", "i", "test_input.json", "event file ({\"input\": {...}})")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	raw, err := os.ReadFile(runInput)
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}
	var ev worker.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode event %s: %w", runInput, err)
	}
	if ev.ID == "" {
		ev.ID = "local"
	}

	c, err := build(cfg, &logger)
	if err != nil {
		return err
	}
	defer c.supervisor.Close()

	res := c.handler.Handle(cmd.Context(), ev)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status != worker.StatusSuccess {
		return fmt.Errorf("invocation failed: %s", res.Error)
	}
	return nil
}
