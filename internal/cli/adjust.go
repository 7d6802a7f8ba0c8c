package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/working-memory/internal/workingmem"
)

func init() {
	cmd := &cobra.Command{
		Use:   "adjust <id>",
		Short: "Change an entry's priority or importance",
		Args:  cobra.ExactArgs(1),
		Run:   runAdjust,
	}

	cmd.Flags().StringP("priority", "p", "", "New priority: low, medium, high, critical")
	cmd.Flags().Float64P("importance", "i", 0, "New importance in [0, 1]")

	RootCmd.AddCommand(cmd)
}

func runAdjust(cmd *cobra.Command, args []string) {
	priorityStr, _ := cmd.Flags().GetString("priority")
	importance, _ := cmd.Flags().GetFloat64("importance")
	setImportance := cmd.Flags().Changed("importance")

	if priorityStr == "" && !setImportance {
		exitErr("adjust", fmt.Errorf("--priority or --importance is required"))
	}

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	if priorityStr != "" {
		p, err := workingmem.ParsePriority(priorityStr)
		if err != nil {
			exitErr("adjust", err)
		}
		if err := a.mgr.SetPriority(ctx, args[0], p); err != nil {
			exitErr("adjust", err)
		}
	}
	if setImportance {
		if err := a.mgr.SetImportance(ctx, args[0], importance); err != nil {
			exitErr("adjust", err)
		}
	}

	e, err := a.mgr.Get(ctx, args[0])
	if err != nil {
		exitErr("adjust", err)
	}
	printJSON(e)
}
