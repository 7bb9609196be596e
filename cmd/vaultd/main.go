package main

import (
	"log"

	"stakevault/cmd/internal/passphrase"
	"stakevault/services/vaultd"
)

func main() {
	if err := vaultd.Main(passphrase.NewSource("VAULT_KEYSTORE_PASSPHRASE")); err != nil {
		log.Fatalf("vaultd: %v", err)
	}
}
