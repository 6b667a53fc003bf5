// Command agentrund is the server binary: it wires the Tool Registry,
// Approval Registry, Code-Mode Runner, Agent Loop, and Turn Session
// Manager together behind the RPC Surface, the way cmd/mcplexer/main.go
// wires mcplexer's gateway behind its api.Router.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentrund: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentrund",
		Short: "Runs the approval-gated agent runtime server",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newInitCmd())
	return root
}
