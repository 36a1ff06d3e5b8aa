package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	topic            string
	iterations       int
	resultsPerSearch int
	outFile          string
	verbose          bool
)

func main() {
	// .env is optional; variables may come from the environment
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "An iterative web research assistant",
		Long: `deep-research plans search queries for a topic, reads the pages they surface,
keeps the relevant passages and keeps searching until it has enough, then writes
a report with numbered references.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			// Logs go to stderr so stdout carries only the report.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			if !cmd.Flags().Changed("topic") {
				promptForInputs(cmd, bufio.NewReader(os.Stdin), os.Stdout, cfg)
			}
			topic = strings.TrimSpace(topic)
			if topic == "" {
				return fmt.Errorf("topic cannot be empty")
			}

			cfg.MaxIterations = iterations
			cfg.ResultsPerSearch = resultsPerSearch
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := research.NewEngine(ctx, cfg)
			if err != nil {
				return fmt.Errorf("error initializing engine: %w", err)
			}

			slog.Info("Starting research", "topic", topic, "iterations", iterations, "results_per_search", resultsPerSearch)
			report, err := engine.Run(ctx, topic, iterations, resultsPerSearch)
			if err != nil {
				slog.Error("Research failed", "error", err)
				return fmt.Errorf("an error occurred during research, please try again")
			}

			fmt.Fprintln(os.Stdout, "\n==== FINAL REPORT ====")
			fmt.Fprintln(os.Stdout, report)

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(report), 0644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				slog.Info("Saved report", "filename", outFile)
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().IntVarP(&iterations, "iterations", "i", cfg.MaxIterations, "Maximum number of research iterations")
	rootCmd.Flags().IntVarP(&resultsPerSearch, "results", "r", cfg.ResultsPerSearch, "Search results fetched per query")
	rootCmd.Flags().StringVarP(&outFile, "out", "o", "", "Also write the report to this file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// promptForInputs asks for the topic and, unless set by flag, both limits.
// Blank or non-numeric answers keep the defaults.
func promptForInputs(cmd *cobra.Command, in *bufio.Reader, out io.Writer, cfg *config.Config) {
	fmt.Fprint(out, "Enter your research topic/question: ")
	topic = readLine(in)

	if !cmd.Flags().Changed("iterations") {
		fmt.Fprintf(out, "Enter the maximum number of iterations (default is %d): ", cfg.MaxIterations)
		iterations = readPositiveInt(in, cfg.MaxIterations)
	}
	if !cmd.Flags().Changed("results") {
		fmt.Fprintf(out, "Enter the number of search results per query (default is %d): ", cfg.ResultsPerSearch)
		resultsPerSearch = readPositiveInt(in, cfg.ResultsPerSearch)
	}
}

func readLine(in *bufio.Reader) string {
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func readPositiveInt(in *bufio.Reader, def int) int {
	n, err := strconv.Atoi(readLine(in))
	if err != nil || n < 1 {
		return def
	}
	return n
}
