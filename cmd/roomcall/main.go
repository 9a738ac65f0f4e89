package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	flagRelay    string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomcall",
	Short: "Two-party audio/video calls over WebRTC",
	Long: `roomcall creates and joins call rooms. Both participants join the same
room through a relay, which only carries the negotiation; media flows
directly between the two peers.`,
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRelay, "relay", "", "Relay base URL (env RELAY_URL)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (env LOG_LEVEL, default warn)")
}
