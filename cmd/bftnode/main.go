// Command bftnode runs a single BFT replica and generates its key
// material (spec §6 "CLI surface"), using cobra the way the teacher's
// cmd package wires its root command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "bftnode",
		Short: "Runs a replica of the HotStuff/HSAF/VABA consensus engine",
	}
	root.AddCommand(newKeysCommand())
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
