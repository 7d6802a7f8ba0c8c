package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/working-memory/internal/model"
	"github.com/rcliao/working-memory/internal/workingmem"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a working-memory entry",
		Long:  "Store an entry in a session. Content can be a positional arg or piped via stdin. When the session is full, the lowest-value entries are promoted or evicted first.",
		Run:   runPut,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().String("framework", "", "Originating framework")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().StringP("priority", "p", "", "Priority: low, medium, high, critical (default: derived from importance)")
	cmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0, 1]")
	cmd.Flags().Float64("confidence", 1.0, "Confidence in [0, 1]")
	cmd.Flags().Float64("ttl", 0, "Base TTL in minutes (default: configured default)")
	cmd.Flags().Bool("promote", false, "Flag the entry as a promotion candidate")
	cmd.Flags().String("meta", "", "JSON metadata object")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	framework, _ := cmd.Flags().GetString("framework")
	tagsStr, _ := cmd.Flags().GetString("tags")
	priorityStr, _ := cmd.Flags().GetString("priority")
	importance, _ := cmd.Flags().GetFloat64("importance")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	ttl, _ := cmd.Flags().GetFloat64("ttl")
	candidate, _ := cmd.Flags().GetBool("promote")
	metaStr, _ := cmd.Flags().GetString("meta")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	opts := workingmem.StoreOptions{
		Importance: &importance,
		Confidence: &confidence,
		TTLMinutes: ttl,
		Tags:       splitTags(tagsStr),
	}
	if priorityStr != "" {
		p, err := workingmem.ParsePriority(priorityStr)
		if err != nil {
			exitErr("put", err)
		}
		opts.Priority = &p
	}
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &opts.Metadata); err != nil {
			exitErr("parse meta", err)
		}
	}
	if candidate {
		if opts.Metadata == nil {
			opts.Metadata = model.Metadata{}
		}
		opts.Metadata[model.MetaPromotionCandidate] = true
	}

	a, err := openApp()
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	e, err := a.mgr.Store(cmd.Context(), strings.TrimSpace(content), session, framework, opts)
	if err != nil {
		exitErr("put", err)
	}

	b, _ := json.Marshal(e)
	fmt.Println(string(b))
}
