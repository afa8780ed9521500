package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "corpora",
	Short: "Document ingestion and retrieval service",
	Long: `Corpora ingests uploaded documents through an extract/chunk/embed
pipeline and serves retrieval-augmented answers over the result.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
