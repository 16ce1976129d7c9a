package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/Iron-Ham/agentsync/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
