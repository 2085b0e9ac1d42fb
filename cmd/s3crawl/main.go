// Command s3crawl partitions bucket keyspaces and crawls them through a
// shared job queue.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/s3crawl/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
