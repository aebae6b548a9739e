// Command ctxbudget measures, compresses and checkpoints agent context.
package main

import (
	"os"

	"github.com/youssefsiam38/ctxbudget/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
