package main

import (
	"os"

	"chartlens/cmd/chartlens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
