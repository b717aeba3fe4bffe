package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/jewelryportal/internal/portalctl"
)

func main() {
	if err := portalctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
