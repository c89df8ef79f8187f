// Package main provides the storylens CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ahleung/storylens/cli"
	"github.com/ahleung/storylens/consensus"
)

var verbose bool

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "storylens",
		Short: "Continuity analysis for fiction manuscripts",
		Long: `Analyze manuscript scenes for continuity problems using multiple LLM
providers with adaptive model selection, caching and circuit breaking.

Provider credentials come from the environment (or a .env file):
OPENAI_API_KEY, ANTHROPIC_API_KEY, DEEPSEEK_API_KEY, GEMINI_API_KEY.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func analyzeCmd() *cobra.Command {
	var critical bool
	var hardFail bool
	var models []string
	var consensusCount int

	cmd := &cobra.Command{
		Use:   "analyze [request.json]",
		Short: "Analyze a scene for continuity issues",
		Long: `Analyze a scene described by a JSON request file.

The request carries the scene under analysis, optional previous scenes,
a reader-knowledge snapshot and the analysis type (simple, consistency,
complex, full). The result is printed as JSON.

With --critical the scene is sent to several models concurrently and
their findings are reconciled by consensus.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.Options{
				Critical:       critical,
				Models:         models,
				ConsensusCount: consensusCount,
				HardFail:       hardFail,
				Verbose:        verbose,
			}
			return cli.Analyze(context.Background(), args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&critical, "critical", false, "Run consensus analysis across multiple models")
	cmd.Flags().StringSliceVar(&models, "models", nil, "Model IDs for consensus (default: configured models in preference order)")
	cmd.Flags().IntVar(&consensusCount, "consensus-count", consensus.DefaultCount, "Number of models for consensus")
	cmd.Flags().BoolVar(&hardFail, "hard-fail", false, "Fail instead of degrading when every consensus model errors")

	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known models and their providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListModels()
		},
	}
}
