package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tebeka/atexit"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errKernelsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
