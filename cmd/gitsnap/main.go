package main

import (
	"os"

	"gitsnap/pkg/ui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
