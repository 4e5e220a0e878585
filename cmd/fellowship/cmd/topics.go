package cmd

import (
	"github.com/spf13/cobra"
)

// topicsCmd represents the topics command
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Explore the realtime channel and event catalog",
	Long: `The topics command lists the channel families and events the client speaks
over the realtime broker: the Pusher protocol frames and the application
channels such as presence-chat-{channel_id} and private-member-{member_id}.

Examples:
  # List everything
  fellowship topics list

  # Only the chat package's names, as JSON
  fellowship topics list --module chat --format json

  # Only event names
  fellowship topics list --kind event`,
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}
