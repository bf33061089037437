package main

import (
	"os"

	"github.com/hed1ad/graphguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
