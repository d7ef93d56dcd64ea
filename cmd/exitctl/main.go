package main

import (
	"os"

	"github.com/wonny/aegis/exitengine/cmd/exitctl/commands"
)

// main is the entry point for the exit engine CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/exitctl [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
