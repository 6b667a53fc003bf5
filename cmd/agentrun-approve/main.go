// Command agentrun-approve is a terminal client standing in for "the
// designated human": it polls the RPC Surface's pending approvals and
// lets an operator approve or deny them with a keypress, the same role
// cli_approver.go plays for its own agent runtime.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentrun-approve: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr, actorID string

	cmd := &cobra.Command{
		Use:   "agentrun-approve",
		Short: "Interactively approve or deny pending tool calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(addr)
			p := tea.NewProgram(newModel(client, actorID))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8090", "agentrund RPC Surface base URL")
	cmd.Flags().StringVar(&actorID, "actor-id", "approver", "identity recorded against every decision this client makes")
	return cmd
}
