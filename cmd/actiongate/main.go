package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/actiongate/cmd/actiongate/commands"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := commands.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
