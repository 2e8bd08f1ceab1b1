package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/authcore/internal/jwt"
)

// newKeysCmd genera el material que pide la config en prod.
// No toca storage ni config: imprime y listo.
func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Genera claves para tokens.signing_key y security.secretbox_key",
	}

	keys.AddCommand(&cobra.Command{
		Use:   "gen-signing",
		Short: "Genera una seed Ed25519 para firmar access tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return err
			}
			priv := ed25519.NewKeyFromSeed(seed)
			encoded := base64.StdEncoding.EncodeToString(seed)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kid: %s\n", jwt.KIDFor(priv.Public().(ed25519.PublicKey)))
			fmt.Fprintf(out, "SIGNING_MASTER_KEY=%s\n", encoded)
			return nil
		},
	})

	keys.AddCommand(&cobra.Command{
		Use:   "gen-secretbox",
		Short: "Genera una clave de 32 bytes para cifrar secretos TOTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SECRETBOX_MASTER_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
			return nil
		},
	})
	return keys
}
