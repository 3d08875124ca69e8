package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/deepresearch/internal/cli"
	"github.com/cloo-solutions/deepresearch/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "research",
		Short: "Research CLI - submit and follow deep research jobs",
		Long: `Research CLI submits questions to the research service and follows their progress.

Environment variables:
  RESEARCH_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.SubmitCmd())
	rootCmd.AddCommand(client.StatusCmd())
	rootCmd.AddCommand(client.CancelCmd())
	rootCmd.AddCommand(client.QueueCmd())
	rootCmd.AddCommand(client.ResultCmd())
	rootCmd.AddCommand(client.ReportCmd())
	rootCmd.AddCommand(client.WatchCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
