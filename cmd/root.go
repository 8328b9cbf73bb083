// Package cmd contains the lorekeep CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lorekeep",
	Short: "Lorekeep - knowledge-base backend with a conversational agent",
	Long: `Lorekeep serves a knowledge base over HTTP: articles are synced from a
CMS, embedded into vectors, and answered over by an LLM agent that cites
its sources. Run "lorekeep serve" to start the API server.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
