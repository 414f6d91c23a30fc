package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/vectis/internal/cli"
	"github.com/cloo-solutions/vectis/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vectisd",
		Short: "Vectis daemon and CLI",
		Long:  "Vectis daemon for running the API server and managing organizations and reconciliation",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.OrgCmd())
	rootCmd.AddCommand(admin.ReconcileCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
