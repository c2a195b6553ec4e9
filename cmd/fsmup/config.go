package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/fsmweb/uploader/internal/config"
	"github.com/fsmweb/uploader/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Create, show or check the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or edit the configuration interactively",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			cfg = config.Default()
		}

		if err := configForm(cfg).Run(); err != nil {
			fatalf("%v", err)
		}

		if err := cfg.Save(configPath); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Saved %s\n", ui.RenderPass("✓"), configPath)

		if err := cfg.Validate(); err != nil {
			fmt.Printf("%s %v\n", ui.RenderWarn("!"), err)
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		for _, f := range cfg.Fields() {
			fmt.Printf("%-24s %s\n", ui.RenderAccent(f.Key), f.Value)
		}
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without connecting",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if _, err := cfg.Resolve(); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s %s is valid\n", ui.RenderPass("✓"), configPath)
	},
}

// configForm edits cfg in place.
func configForm(cfg *config.Config) *huh.Form {
	port := strconv.Itoa(cfg.Port)
	timeout := strconv.Itoa(cfg.Timeout)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("FTP hostname").Value(&cfg.Hostname),
			huh.NewInput().Title("Port").Value(&port).
				Validate(func(s string) error {
					if err := intIn(1, 65535)(s); err != nil {
						return err
					}
					cfg.Port, _ = strconv.Atoi(s)
					return nil
				}),
			huh.NewInput().Title("Username").Value(&cfg.Username),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&cfg.Password),
			huh.NewInput().Title("Server idle timeout (minutes)").Value(&timeout).
				Validate(func(s string) error {
					if err := intIn(config.MinTimeout, 24*60)(s); err != nil {
						return err
					}
					cfg.Timeout, _ = strconv.Atoi(s)
					return nil
				}),
			huh.NewConfirm().Title("Allow plaintext FTP if TLS fails?").Value(&cfg.AllowInsecure),
		).Title("Server"),
		huh.NewGroup(
			huh.NewInput().Title("Local website directory").Value(&cfg.LocalWebsiteDirectory),
			huh.NewInput().Title("Remote directory").Value(&cfg.RemoteDirectory),
			huh.NewInput().Title("Snapshot file (empty to disable)").Value(&cfg.SaveFile),
			huh.NewInput().Title("Edits file (optional)").Value(&cfg.EditsFile),
		).Title("Website"),
		huh.NewGroup(
			huh.NewConfirm().Title("Copy judges' detail PDFs?").Value(&cfg.CopyPDFs),
			huh.NewInput().Title("FS Manager directory").Value(&cfg.FSMDirectory),
			huh.NewInput().Title("History database (optional)").Value(&cfg.HistoryDB),
			huh.NewInput().Title("Log file (optional)").Value(&cfg.LogFile),
		).Title("Extras"),
	)
	return form
}

func intIn(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("enter a number")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
