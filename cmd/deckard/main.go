// Command deckard is the CLI front end for the card calculation
// engine: it compiles the project's cards into a logic program,
// answers tree/card queries, checks permissions and runs workflow
// transitions.
package main

import (
	"fmt"
	"os"

	"deckard/internal/config"
	"deckard/internal/logging"

	"github.com/spf13/cobra"
)

var (
	configPath string
	projectDir string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "deckard",
	Short: "deckard - logic-driven card calculation engine",
	Long: `deckard manages a tree of typed, workflow-bound cards and answers
computed queries about them.

Card state is compiled into a Datalog program and evaluated with the
embedded Google Mangle engine; permissions and workflow transitions are
decided from the resulting answer set.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(verbose); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if projectDir != "" {
			cfg.Project.Dir = projectDir
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "deckard.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "project directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
