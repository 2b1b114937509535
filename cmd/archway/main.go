package main

import (
	"os"

	"github.com/error505/archway/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
