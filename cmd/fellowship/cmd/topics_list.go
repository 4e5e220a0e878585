package cmd

import (
	"fmt"
	"strings"

	"github.com/nfrund/fellowship/cmd/fellowship/internal/topics"
	"github.com/nfrund/fellowship/internal/topicmgr"
	"github.com/spf13/cobra"
)

var (
	listOutputFormat string
	listModuleFilter string
	listKindFilter   string
)

// topicsListCmd represents the topics list command
var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all catalogued topics",
	Long: `List every channel family and event in the realtime catalog, in table or
JSON format, optionally filtered by owning package or kind.

Output formats:
  table - Human-readable table format (default)
  json  - Machine-readable JSON format`,
	RunE: topicsListHandler,
}

func topicsListHandler(cmd *cobra.Command, args []string) error {
	if err := topics.Initialize(); err != nil {
		return fmt.Errorf("initialize topics: %w", err)
	}

	manager := topicmgr.Default()
	var topicList []topicmgr.Topic
	switch {
	case listModuleFilter != "":
		topicList = manager.ListByModule(listModuleFilter)
	case listKindFilter != "":
		kind, err := parseKind(listKindFilter)
		if err != nil {
			return err
		}
		topicList = manager.ListByKind(kind)
	default:
		topicList = manager.List()
	}
	if listModuleFilter != "" && listKindFilter != "" {
		kind, err := parseKind(listKindFilter)
		if err != nil {
			return err
		}
		filtered := topicList[:0]
		for _, t := range topicList {
			if t.Kind() == kind {
				filtered = append(filtered, t)
			}
		}
		topicList = filtered
	}

	out := cmd.OutOrStdout()
	if len(topicList) == 0 {
		filters := []string{}
		if listModuleFilter != "" {
			filters = append(filters, fmt.Sprintf("module '%s'", listModuleFilter))
		}
		if listKindFilter != "" {
			filters = append(filters, fmt.Sprintf("kind '%s'", listKindFilter))
		}
		message := "No topics found"
		if len(filters) > 0 {
			message += " matching: " + strings.Join(filters, ", ")
		}
		fmt.Fprintln(out, message)
		return nil
	}

	switch listOutputFormat {
	case "json":
		return topics.DisplayTopicsJSON(out, topicList)
	case "table":
		topics.DisplayTopicsTable(out, topicList)
		return nil
	default:
		return fmt.Errorf("unsupported output format '%s', use 'table' or 'json'", listOutputFormat)
	}
}

// parseKind converts a flag value to topicmgr.Kind
func parseKind(s string) (topicmgr.Kind, error) {
	switch strings.ToLower(s) {
	case "channel":
		return topicmgr.KindChannel, nil
	case "event":
		return topicmgr.KindEvent, nil
	default:
		return "", fmt.Errorf("invalid kind '%s', valid kinds: channel, event", s)
	}
}

func init() {
	topicsCmd.AddCommand(topicsListCmd)

	topicsListCmd.Flags().StringVarP(&listOutputFormat, "format", "f", "table", "Output format (table, json)")
	topicsListCmd.Flags().StringVarP(&listModuleFilter, "module", "m", "", "Filter topics by owning package")
	topicsListCmd.Flags().StringVarP(&listKindFilter, "kind", "k", "", "Filter topics by kind (channel, event)")
}
