// Command darkpoold runs a dark pool against a local compute cluster and an in-memory bank.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
