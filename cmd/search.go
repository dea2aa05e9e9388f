package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchType  string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search the source for projects, conversations or messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := eng.Search(cmd.Context(), strings.Join(args, " "), searchType, searchLimit)
		if err != nil {
			return err
		}

		fmt.Printf("%d %s matching %q\n\n", res.Count, res.SearchType, res.SearchTerm)
		for _, row := range res.Data {
			fmt.Printf("  %v  %s\n", row["id"], summarize(row))
		}
		return nil
	},
}

// summarize picks the most descriptive text column of a row.
func summarize(row map[string]any) string {
	for _, col := range []string{"name", "title", "content"} {
		if v, ok := row[col]; ok && v != nil {
			s := fmt.Sprint(v)
			if len(s) > 80 {
				s = s[:77] + "..."
			}
			return strings.ReplaceAll(s, "\n", " ")
		}
	}
	return ""
}

func init() {
	searchCmd.Flags().StringVar(&searchType, "type", "conversations", "entity to search (projects, conversations, messages)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
