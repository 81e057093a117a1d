package main

import (
	"os"

	"github.com/meditransport/medride/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
