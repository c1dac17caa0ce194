// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"os"

	"github.com/rovshanmuradov/solana-trader/cmd/bot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
