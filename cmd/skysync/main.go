package main

import (
	"os"

	"github.com/skysync/skysync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
