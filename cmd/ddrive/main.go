package main

import (
	"fmt"
	"os"

	"github.com/jasonzli-DEV/D-Drive-sub001/cmd/ddrive/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
