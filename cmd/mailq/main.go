package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/sungwon/mailqueue/internal/cli"
)

func main() {
	_ = godotenv.Load()

	root := cli.NewRootCommand(cli.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
