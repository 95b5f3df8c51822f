package main

import (
	"os"

	"github.com/tuneloop/tuneloop/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
