package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the exchange credentials of a model",
	Long: `Validate calls the exchange with the model's stored credentials.
A failure blocks live trading for the model; a success lifts an earlier block.`,
	RunE: runValidate,
}

var validateModel string

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateModel, "model", "m", "", "model name (required)")
	validateCmd.MarkFlagRequired("model")
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx := context.Background()
	m, err := a.engine.ModelByName(ctx, validateModel)
	if err != nil {
		return err
	}
	if err := a.engine.ValidateCredentials(ctx, m.ID); err != nil {
		return fmt.Errorf("credentials of %s are invalid: %w", m.Name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "credentials of %s are valid\n", m.Name)
	return nil
}
