package main

import (
	"fmt"
	"os"

	"github.com/folioforge/backend/internal/cli"
	"github.com/joho/godotenv"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := cli.NewRootCmd(cli.ConfigLoader(), Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
