package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Workflow and event orchestration service for asset management",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
