package main

import (
	"fmt"
	"os"

	"pricewatch/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(&cli.App{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "overlayctl: %v\n", err)
		os.Exit(1)
	}
}
