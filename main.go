package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"amm-swap/cmd"
)

func main() {
	// A .env file is optional; the config file and environment still apply.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
