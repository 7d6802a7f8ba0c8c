package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "extend <id>",
		Short: "Extend an entry's TTL",
		Long:  "Push an entry's expiry forward. The expiry never exceeds creation time plus the maximum TTL.",
		Args:  cobra.ExactArgs(1),
		Run:   runExtend,
	}

	cmd.Flags().Float64P("minutes", "m", 30, "Minutes to add")

	RootCmd.AddCommand(cmd)
}

func runExtend(cmd *cobra.Command, args []string) {
	minutes, _ := cmd.Flags().GetFloat64("minutes")

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	e, err := a.mgr.ExtendTTL(cmd.Context(), args[0], minutes)
	if err != nil {
		exitErr("extend", err)
	}
	printJSON(e)
}
