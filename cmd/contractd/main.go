// Command contractd resolves data contracts from the command line, an HTTP
// server or a Temporal worker.
package main

import (
	"context"
	"os"

	"github.com/ahrav/go-contracts/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
