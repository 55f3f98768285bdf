package main

import (
	"os"

	"github.com/audiohub/audiohub-go/cmd"
)

// Set through ldflags by the release build.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := cmd.Execute(version, buildDate); err != nil {
		os.Exit(1)
	}
}
