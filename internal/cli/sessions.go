package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type sessionRow struct {
	SessionID string `json:"session_id"`
	Live      int    `json:"live"`
}

func init() {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session management",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions with live entries",
		Run:   runSessionsList,
	}

	sessionsCmd.AddCommand(listCmd)
	RootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	stats, err := a.mgr.PressureStats(cmd.Context())
	if err != nil {
		exitErr("list sessions", err)
	}

	rows := make([]sessionRow, 0, len(stats.PerSessionCounts))
	for id, n := range stats.PerSessionCounts {
		rows = append(rows, sessionRow{SessionID: id, Live: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Live != rows[j].Live {
			return rows[i].Live > rows[j].Live
		}
		return rows[i].SessionID < rows[j].SessionID
	})

	if formatFlag == "text" {
		for _, r := range rows {
			fmt.Printf("%s\t%d\n", r.SessionID, r.Live)
		}
		return
	}
	printJSON(rows)
}
