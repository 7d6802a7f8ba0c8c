package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reclamation sweep now",
		Long:  "Reclaim expired entries, promoting the valuable ones, then act on the current memory pressure.",
		Run:   runSweep,
	}

	cmd.Flags().Bool("expired-only", false, "Only reclaim expired entries")

	RootCmd.AddCommand(cmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	expiredOnly, _ := cmd.Flags().GetBool("expired-only")

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	sched := a.mgr.Scheduler()
	sweep := sched.Sweep
	if expiredOnly {
		sweep = sched.SweepExpired
	}

	report, err := sweep(cmd.Context())
	if err != nil {
		exitErr("sweep", err)
	}
	printJSON(report)
}
