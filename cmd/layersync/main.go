package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/layersync/layersync/internal/cli"
	"github.com/layersync/layersync/internal/domain"
)

func main() {
	if err := cli.Execute(); err != nil {
		var se *domain.SyncError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", se.UserMessage())
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
