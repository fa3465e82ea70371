package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "loom",
		Short: "Durable, human-in-the-loop story generation service",
		Long: `loom orchestrates multi-stage story generation: concept, characters,
structure, and prose, with human approval checkpoints between stages.
Workflows are durable and resumable across process restarts.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
