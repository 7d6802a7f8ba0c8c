package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/working-memory/internal/longterm"
)

func init() {
	cmd := &cobra.Command{
		Use:   "promoted",
		Short: "List long-term memories created by promotion",
		Run:   runPromoted,
	}

	cmd.Flags().StringP("session", "s", "", "Filter by session")
	cmd.Flags().IntP("limit", "l", 20, "Max results (at least 1)")
	cmd.Flags().Bool("count", false, "Only print the number of long-term memories")

	RootCmd.AddCommand(cmd)
}

func runPromoted(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")
	countOnly, _ := cmd.Flags().GetBool("count")

	if err := checkLimit(limit); err != nil {
		exitErr("promoted", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	if countOnly {
		n, err := a.longterm.Count(cmd.Context())
		if err != nil {
			exitErr("count", err)
		}
		fmt.Println(n)
		return
	}

	memories, err := a.longterm.List(cmd.Context(), longterm.ListParams{
		SessionID: session,
		Limit:     limit,
	})
	if err != nil {
		exitErr("list promoted", err)
	}

	if formatFlag == "text" {
		for _, m := range memories {
			fmt.Printf("[%s] %s (from %s, importance %.2f)\n", m.ID, m.Content, m.SourceID, m.Importance)
		}
		return
	}
	printJSON(memories)
}
