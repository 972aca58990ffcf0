package main

import (
	"fmt"
	"os"

	"github.com/lherron/dsmerge/internal/cli"
	"github.com/lherron/dsmerge/internal/errs"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}
