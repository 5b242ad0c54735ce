package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "etherchat",
	Short: "Anonymous room chat with peer-to-peer voice calls",
	Long: `EtherChat joins a chat room on a signaling server under a codename.
Text goes through the server; voice calls are negotiated through it and then
flow directly between the two peers over WebRTC.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	rootCmd.AddCommand(newChatCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
