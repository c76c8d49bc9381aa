package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nnsi/hono-practice-sub007/internal/client/cli"
	"github.com/nnsi/hono-practice-sub007/internal/client/iocli"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	version := fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, GitCommit)
	root := cli.NewRootCommand(version, iocli.NewStdio())

	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
