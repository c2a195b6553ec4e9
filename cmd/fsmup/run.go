package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fsmweb/uploader/internal/config"
	"github.com/fsmweb/uploader/internal/dashboard"
	"github.com/fsmweb/uploader/internal/history"
	"github.com/fsmweb/uploader/internal/logging"
	"github.com/fsmweb/uploader/internal/schedule"
	"github.com/fsmweb/uploader/internal/session"
	"github.com/fsmweb/uploader/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "session",
	Short:   "Start an upload session",
	Long: `Connect to the web host and publish the website until interrupted.

On start every file that changed since the last saved snapshot is uploaded,
then the website directory is watched for changes. Press Ctrl+C once to stop
after the upload queue drains (the snapshot is saved), twice to abort.

The --time flag fixes the clock used to release held panel pages, e.g.
  fsmup run --time "2025-01-01 10:00:00"
  fsmup run --time "tomorrow 9am"`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		if ask, _ := cmd.Flags().GetBool("ask-password"); ask {
			pw, err := ui.ReadPassword(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Hostname))
			if err != nil {
				fatalf("%v", err)
			}
			cfg.Password = pw
		}
		if cmd.Flags().Changed("dashboard-port") {
			cfg.DashboardPort, _ = cmd.Flags().GetInt("dashboard-port")
		}

		var checkTime *time.Time
		if s, _ := cmd.Flags().GetString("time"); s != "" {
			t, err := schedule.ParseCheckTime(s, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			checkTime = &t
		}

		if err := runSession(cfg, checkTime); err != nil {
			fatalf("%v", err)
		}
	},
}

func runSession(cfg *config.Config, checkTime *time.Time) error {
	resolved, err := cfg.Resolve()
	if err != nil {
		return err
	}

	sink := logging.New(cfg.LogFile)
	defer sink.Close()
	logger := sink.Logger("fsmup")

	opts := session.Options{
		CheckTime: checkTime,
		Loggers:   sink.Logger,
	}
	if checkTime != nil {
		fmt.Printf("%s Releasing panels as of %s\n", ui.RenderAccent("⏱"), checkTime.Format(time.DateTime))
	}

	if resolved.HistoryDB != "" {
		store, err := history.Open(resolved.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.History = store
	}

	var board *dashboard.Handler
	if resolved.DashboardPort > 0 {
		server := dashboard.NewServer(&dashboard.Config{
			Port:   resolved.DashboardPort,
			Logger: sink.Logger("dashboard"),
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Printf("Error during dashboard shutdown: %v", err)
			}
		}()
		board = dashboard.NewHandler(server, sink.Logger("dashboard"))
		fmt.Printf("%s Dashboard on http://localhost:%d (ws://localhost:%d/ws)\n",
			ui.RenderAccent("•"), resolved.DashboardPort, resolved.DashboardPort)
	}

	s := session.New(resolved, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		stopping := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if stopping {
					fmt.Println(ui.RenderWarn("\nAborting without saving the snapshot"))
					cancel()
					return
				}
				stopping = true
				fmt.Println(ui.RenderMuted("\nStopping after the upload queue drains (Ctrl+C again to abort)"))
				s.Stop()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	for ev := range s.Events() {
		if board != nil {
			board.OnEvent(ev)
		}
		if line := ui.FormatEvent(ev); line != "" {
			fmt.Println(line)
		}
	}

	runErr := <-errCh
	st := s.Status()
	fmt.Printf("%s %d uploaded, %d copied\n", ui.RenderMuted("Session summary:"), st.Uploaded, st.Copied)
	return runErr
}

func init() {
	runCmd.Flags().String("time", "", "Fixed check time for releasing held panels")
	runCmd.Flags().Bool("ask-password", false, "Prompt for the FTP password instead of reading it from the config")
	runCmd.Flags().Int("dashboard-port", 0, "Serve a live WebSocket dashboard on this port")

	rootCmd.AddCommand(runCmd)
}
