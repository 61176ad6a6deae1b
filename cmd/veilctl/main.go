package main

import (
	"os"

	"github.com/veilstream/veilstream/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
