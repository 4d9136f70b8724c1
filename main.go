package main

import (
	"os"

	"github.com/prepcli/prep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
