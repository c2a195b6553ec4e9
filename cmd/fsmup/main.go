// Command fsmup publishes a competition results website to a web host while
// the event is running.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fsmweb/uploader/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fsmup",
	Short: "Live FTP publisher for FS Manager results websites",
	Long: `fsmup watches the website directory written by FS Manager and uploads
every new or changed page to the web host over FTPS.

Panel pages of segments that have not started yet are held back until the
start time listed on index.htm. Judges' detail PDFs can be copied from the
FS Manager export folder into the website as they appear.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Configuration file (JSON, YAML or TOML)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Session Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration file named by --config. Environment
// overrides still apply when the file does not exist.
func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if path == "" && cfg.Hostname == "" {
		return nil, fmt.Errorf("%w: %s not found, run 'fsmup config init' first", config.ErrInvalid, configPath)
	}
	return cfg, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
