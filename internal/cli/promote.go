package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "promote <id>",
		Short: "Promote an entry to long-term memory",
		Long:  "Move an entry to long-term memory regardless of the promotion criteria. Promoting an already promoted entry prints the existing memory id.",
		Args:  cobra.ExactArgs(1),
		Run:   runPromote,
	}

	RootCmd.AddCommand(cmd)
}

func runPromote(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	memID, err := a.mgr.Promote(cmd.Context(), args[0])
	if err != nil {
		exitErr("promote", err)
	}

	if formatFlag == "text" {
		fmt.Println(memID)
		return
	}
	printJSON(map[string]string{"id": args[0], "memory_id": memID})
}
