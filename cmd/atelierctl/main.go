package main

import (
	"os"

	"github.com/bhunte/atelier/cmd/atelierctl/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
