package main

import (
	"os"

	"github.com/msto63/mSW/cmd/msw/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
