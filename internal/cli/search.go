package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search a session's entries by keyword",
		Long:  "Case-insensitive substring search over entry content and tags. Only live entries match; every match counts as accessed.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().String("framework", "", "Filter by framework")
	cmd.Flags().IntP("limit", "l", 10, "Max results (at least 1)")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	framework, _ := cmd.Flags().GetString("framework")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	if err := checkLimit(limit); err != nil {
		exitErr("search", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	results, err := a.mgr.Search(cmd.Context(), query, session, framework, limit)
	if err != nil {
		exitErr("search", err)
	}
	printEntries(results)
}
