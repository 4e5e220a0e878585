package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/nfrund/fellowship/internal/app"
	"github.com/nfrund/fellowship/internal/chat"
	"github.com/nfrund/fellowship/internal/contentapi"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the member's channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := identity(cfg)
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer closeLog()

		root := app.NewInjector(cfg, logger)
		defer app.Shutdown(root)

		client := do.MustInvoke[*contentapi.Client](root)
		dir := chat.NewDirectory(client, id.MemberID, logger)
		list, err := dir.Load(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		defer tw.Flush()
		fmt.Fprintln(tw, "ID\tCATEGORY\tBADGE\tNAME")
		for _, ch := range list.All() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ch.ID, ch.Category, ch.Badge(), ch.Label())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}
