package main

import (
	"os"

	"github.com/ecoware/microsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
