package main

import (
	"fmt"

	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/credentials"
	"github.com/spf13/cobra"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a credential for the models section of config.yml",
	Long: `Encrypt seals a value with security.secret_key. Exchange credentials
are given as "apiKey:secretKey".`,
	Example: `  SECURITY_SECRET_KEY=... trader encrypt --value "$BINANCE_KEY:$BINANCE_SECRET"`,
	RunE:    runEncrypt,
}

var encryptValue string

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringVarP(&encryptValue, "value", "v", "", "plaintext to encrypt (required)")
	encryptCmd.MarkFlagRequired("value")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	cipher, err := credentials.NewCipher(cfg.Security.SecretKey)
	if err != nil {
		return err
	}
	sealed, err := cipher.Encrypt(encryptValue)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}
