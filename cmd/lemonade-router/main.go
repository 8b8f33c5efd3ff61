// Command lemonade-router runs the local inference control plane's HTTP
// surface: it loads configuration, wires the model registry, backend
// adapters, and model cache together, and serves the OpenAI-compatible API
// until terminated.
package main

import (
	"os"

	"github.com/lemonade-sh/lemonade-router/cmd/lemonade-router/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
