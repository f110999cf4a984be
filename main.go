package main

import (
	"fmt"
	"os"

	"github.com/philipwilson/trees/cmd"
	"github.com/philipwilson/trees/internal/conf"
)

func main() {
	settings := &conf.Settings{}
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
