package main

import (
	"os"

	"github.com/psantana5/operator-dao/cmd/daoctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
