// Package main is the entry point for the chdocs binary.
package main

import (
	"os"

	cli "chdocs/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
