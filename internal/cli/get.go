package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/working-memory/internal/workingmem"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve entries of a session",
		Long:  "Retrieve a session's live entries, most important first. Every returned entry counts as accessed. With an id, show that single entry without recording an access.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runGet,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required unless an id is given)")
	cmd.Flags().String("framework", "", "Filter by framework")
	cmd.Flags().StringP("priority", "p", "", "Filter by priority")
	cmd.Flags().IntP("limit", "l", 10, "Max results (at least 1)")
	cmd.Flags().Bool("include-expired", false, "Include entries past their expiry")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	framework, _ := cmd.Flags().GetString("framework")
	priorityStr, _ := cmd.Flags().GetString("priority")
	limit, _ := cmd.Flags().GetInt("limit")
	includeExpired, _ := cmd.Flags().GetBool("include-expired")

	if err := checkLimit(limit); err != nil {
		exitErr("get", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	if len(args) == 1 {
		e, err := a.mgr.Get(cmd.Context(), args[0])
		if err != nil {
			exitErr("get", err)
		}
		printJSON(e)
		return
	}

	opts := workingmem.RetrieveOptions{
		Framework:      framework,
		Limit:          limit,
		IncludeExpired: includeExpired,
	}
	if priorityStr != "" {
		p, err := workingmem.ParsePriority(priorityStr)
		if err != nil {
			exitErr("get", err)
		}
		opts.Priority = &p
	}

	entries, err := a.mgr.Retrieve(cmd.Context(), session, opts)
	if err != nil {
		exitErr("get", err)
	}
	printEntries(entries)
}
