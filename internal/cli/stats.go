package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory pressure statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	stats, err := a.mgr.PressureStats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if formatFlag == "text" {
		fmt.Printf("live: %d/%d (%.0f%%)\nexpired: %d\nhigh priority: %d\naverage age: %.1fm\nrecommended: %s\n",
			stats.TotalLive, stats.MaxTotalEntries, stats.PressureRatio*100,
			stats.ExpiredCount, stats.HighPriorityCount, stats.AverageAgeMinutes, stats.RecommendedAction)
		return
	}
	printJSON(stats)
}
