package main

import (
	"os"

	"github.com/ritzau/category-sync/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}
