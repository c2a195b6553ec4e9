package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fsmweb/uploader/internal/history"
	"github.com/fsmweb/uploader/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "session",
	Short:   "List recent transfers",
	Long: `List the latest uploads, copies, keepalives and failures recorded in the
history database (history_db in the configuration).

Example:
  fsmup history --kind failure --limit 20`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if cfg.HistoryDB == "" {
			fatalf("history_db is not configured")
		}
		if _, err := os.Stat(cfg.HistoryDB); errors.Is(err, os.ErrNotExist) {
			fatalf("no history at %s yet", cfg.HistoryDB)
		}

		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		records, err := store.Recent(history.Filter{Kind: history.Kind(kind), Limit: limit})
		if err != nil {
			fatalf("%v", err)
		}
		if len(records) == 0 {
			fmt.Println(ui.RenderMuted("No transfers recorded"))
			return
		}
		for _, r := range records {
			fmt.Println(formatRecord(r))
		}
	},
}

func formatRecord(r history.Record) string {
	stamp := ui.RenderMuted(r.Time.Local().Format(time.DateTime))
	name := filepath.Base(r.Path)
	if r.Path == "" {
		name = ""
	}

	switch r.Kind {
	case history.KindFailure:
		return fmt.Sprintf("%s %s %s %s", stamp, ui.RenderFail(string(r.Kind)), name, ui.RenderMuted(r.Detail))
	case history.KindKeepalive:
		return fmt.Sprintf("%s %s", stamp, ui.RenderMuted(string(r.Kind)))
	default:
		return fmt.Sprintf("%s %s %s", stamp, ui.RenderPass(string(r.Kind)), ui.RenderAccent(name))
	}
}

func init() {
	historyCmd.Flags().String("kind", "", "Only show one kind (upload, copy, keepalive, failure)")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of rows")

	rootCmd.AddCommand(historyCmd)
}
