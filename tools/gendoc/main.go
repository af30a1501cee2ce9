// Package main contains CLI documentation generator tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra/doc"

	"github.com/github/deploylock/cmd"
)

func main() {
	dir := "docs"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := doc.GenMarkdownTree(cmd.New(), dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
