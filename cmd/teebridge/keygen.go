package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/govm-net/teebridge/security"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a validator signing key",
	Long: `Generate an ed25519 validator key. The public key line can be added to
the whitelist file; the seed signs privileged messages.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("failed to read random seed: %w", err)
		}
		pk, err := security.PublicKeyFromSeed(seed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seed:       %s\n", hex.EncodeToString(seed))
		fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\n", pk)
		return nil
	},
}
