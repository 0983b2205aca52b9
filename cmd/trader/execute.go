package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var executeCmd = &cobra.Command{
	Use:     "execute",
	Short:   "Run one decision cycle for a model and print its outcome",
	Example: `  trader execute --model paper-gpt`,
	RunE:    runExecute,
}

var executeModel string

func init() {
	rootCmd.AddCommand(executeCmd)

	executeCmd.Flags().StringVarP(&executeModel, "model", "m", "", "model name (required)")
	executeCmd.MarkFlagRequired("model")
}

func runExecute(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx := context.Background()
	m, err := a.engine.ModelByName(ctx, executeModel)
	if err != nil {
		return err
	}
	out, err := a.engine.ExecuteNow(ctx, m.ID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
