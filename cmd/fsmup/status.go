package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fsmweb/uploader/internal/config"
	"github.com/fsmweb/uploader/internal/differ"
	"github.com/fsmweb/uploader/internal/history"
	"github.com/fsmweb/uploader/internal/snapshot"
	"github.com/fsmweb/uploader/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "session",
	Short:   "Show what the next session would upload",
	Long: `Compare the website directory with the saved snapshot without connecting.

Reports the snapshot entry count, how many files would be uploaded on start,
how many panel pages are still held back and, when PDF copying is enabled,
how many artifacts are missing from the website.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		resolved, err := cfg.Resolve()
		if err != nil {
			fatalf("%v", err)
		}
		if err := printStatus(resolved, time.Now()); err != nil {
			fatalf("%v", err)
		}
	},
}

func printStatus(s *config.Session, now time.Time) error {
	fmt.Println(ui.RenderHeader("Session"))
	fmt.Printf("   Remote: %s:%d%s\n", s.Host, s.Port, s.RemoteDir)
	fmt.Printf("   Website: %s\n", s.WebsiteDir)

	previous := snapshot.Snapshot{}
	switch {
	case s.SnapshotPath == "":
		fmt.Printf("   Snapshot: %s\n", ui.RenderMuted("disabled"))
	default:
		if _, err := os.Stat(s.SnapshotPath); errors.Is(err, os.ErrNotExist) {
			fmt.Printf("   Snapshot: %s %s\n", s.SnapshotPath, ui.RenderMuted("(not written yet)"))
			break
		}
		snap, err := snapshot.Load(s.SnapshotPath)
		if err != nil {
			return err
		}
		previous = snap
		fmt.Printf("   Snapshot: %s (%d entries)\n", s.SnapshotPath, len(snap))
	}

	files, err := differ.ListFilesToUpload(s.WebsiteDir, previous)
	if err != nil {
		return err
	}
	fmt.Printf("   Changed since snapshot: %d\n", len(files))

	sched, err := differ.ReadSchedule(s.WebsiteDir, time.Local)
	switch {
	case errors.Is(err, differ.ErrIndexMissing):
		fmt.Printf("   Panels: %s\n", ui.RenderWarn("index.htm missing, a session would not start"))
	case err != nil:
		return err
	default:
		held := 0
		for _, name := range sched.Names() {
			if sched.HeldAt(name, now) {
				held++
			}
		}
		fmt.Printf("   Panels: %d scheduled, %d held\n", sched.Len(), held)
	}

	if s.Artifacts != nil {
		pdfs, err := differ.ListPDFsToCopy(s.Artifacts.SourceRoot, s.Artifacts.DestDir, differ.TargetPDFs)
		if err != nil {
			return err
		}
		fmt.Printf("   PDFs to copy: %d\n", len(pdfs))
	}

	if s.HistoryDB != "" {
		if _, err := os.Stat(s.HistoryDB); err == nil {
			store, err := history.Open(s.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()
			counts, err := store.Counts()
			if err != nil {
				return err
			}
			fmt.Printf("   History: %d uploads, %d copies, %d failures\n",
				counts[history.KindUpload], counts[history.KindCopy], counts[history.KindFailure])
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
