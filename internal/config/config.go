// Package config loads, validates and persists uploader settings.
//
// Settings come from viper: built-in defaults, then an optional config file
// (JSON, YAML or TOML), then FSMUP_* environment variables. Resolve turns a
// validated Config into the immutable Session value a run is built from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fsmweb/uploader/internal/ftp"
)

// ErrInvalid is returned for configuration errors. It is always raised before
// any network activity.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. FSMUP_PASSWORD.
const EnvPrefix = "FSMUP"

// MinTimeout is the smallest server timeout, in minutes, that leaves room for
// the one-minute keepalive margin.
const MinTimeout = 2

// Config mirrors the persisted configuration file.
type Config struct {
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Timeout  int    `mapstructure:"timeout"` // server idle timeout, minutes

	LocalWebsiteDirectory string `mapstructure:"local_website_directory"`
	RemoteDirectory       string `mapstructure:"remote_directory"`
	FSMDirectory          string `mapstructure:"fsm_directory"` // scoring software root
	EditsFile             string `mapstructure:"edits_file"`
	SaveFile              string `mapstructure:"save_file"` // snapshot path
	CopyPDFs              bool   `mapstructure:"copy_pdfs"`

	AllowInsecure      bool   `mapstructure:"allow_insecure"`
	LogFile            string `mapstructure:"log_file"`
	HistoryDB          string `mapstructure:"history_db"`
	DashboardPort      int    `mapstructure:"dashboard_port"`
	CoolOffMS          int    `mapstructure:"cool_off_ms"`
	DispatchIntervalMS int    `mapstructure:"dispatch_interval_ms"`
}

// keys lists every setting in file order.
var keys = []string{
	"hostname", "port", "username", "password", "timeout",
	"local_website_directory", "remote_directory", "fsm_directory",
	"edits_file", "save_file", "copy_pdfs",
	"allow_insecure", "log_file", "history_db", "dashboard_port",
	"cool_off_ms", "dispatch_interval_ms",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "")
	v.SetDefault("port", 21)
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("timeout", 15)
	v.SetDefault("local_website_directory", "")
	v.SetDefault("remote_directory", "/")
	v.SetDefault("fsm_directory", "")
	v.SetDefault("edits_file", "")
	v.SetDefault("save_file", "")
	v.SetDefault("copy_pdfs", false)
	v.SetDefault("allow_insecure", false)
	v.SetDefault("log_file", "")
	v.SetDefault("history_db", "")
	v.SetDefault("dashboard_port", 0)
	v.SetDefault("cool_off_ms", 1000)
	v.SetDefault("dispatch_interval_ms", 1000)
}

// Default returns the built-in defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from path (may be empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to path. The format follows the extension.
func (c *Config) Save(path string) error {
	v := viper.New()
	for k, val := range c.values() {
		v.Set(k, val)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) values() map[string]any {
	return map[string]any{
		"hostname":                c.Hostname,
		"port":                    c.Port,
		"username":                c.Username,
		"password":                c.Password,
		"timeout":                 c.Timeout,
		"local_website_directory": c.LocalWebsiteDirectory,
		"remote_directory":        c.RemoteDirectory,
		"fsm_directory":           c.FSMDirectory,
		"edits_file":              c.EditsFile,
		"save_file":               c.SaveFile,
		"copy_pdfs":               c.CopyPDFs,
		"allow_insecure":          c.AllowInsecure,
		"log_file":                c.LogFile,
		"history_db":              c.HistoryDB,
		"dashboard_port":          c.DashboardPort,
		"cool_off_ms":             c.CoolOffMS,
		"dispatch_interval_ms":    c.DispatchIntervalMS,
	}
}

// Field is one displayable setting.
type Field struct {
	Key   string
	Value string
}

// Fields returns every setting in file order with the password masked.
func (c *Config) Fields() []Field {
	vals := c.values()
	out := make([]Field, 0, len(keys))
	for _, k := range keys {
		s := fmt.Sprint(vals[k])
		if k == "password" && s != "" {
			s = strings.Repeat("*", 8)
		}
		out = append(out, Field{Key: k, Value: s})
	}
	return out
}

// PDFSourceDir is where the scoring software exports the artifacts of this
// website: <fsm>/Export/<website folder name>/PDF.
func (c *Config) PDFSourceDir() string {
	return filepath.Join(c.exportDir(), "PDF")
}

// PDFWatchDir is the export tree watched recursively for new artifacts.
func (c *Config) PDFWatchDir() string {
	return c.exportDir()
}

func (c *Config) exportDir() string {
	site := filepath.Base(filepath.Clean(c.LocalWebsiteDirectory))
	return filepath.Join(c.FSMDirectory, "Export", site)
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Hostname == "" || c.LocalWebsiteDirectory == "" || c.RemoteDirectory == "" {
		return fmt.Errorf("%w: hostname, local website directory and remote directory are required", ErrInvalid)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if c.Timeout < MinTimeout {
		return fmt.Errorf("%w: timeout must be at least %d minutes", ErrInvalid, MinTimeout)
	}
	if err := requireDir(c.LocalWebsiteDirectory, "local website directory"); err != nil {
		return err
	}
	if c.EditsFile != "" {
		if _, err := os.Stat(c.EditsFile); err != nil {
			return fmt.Errorf("%w: could not verify edits file %s", ErrInvalid, c.EditsFile)
		}
	}
	if c.CopyPDFs {
		if c.FSMDirectory == "" {
			return fmt.Errorf("%w: copying PDFs requires the FS Manager directory", ErrInvalid)
		}
		if err := requireDir(c.PDFSourceDir(), "PDF directory"); err != nil {
			return err
		}
	}
	return nil
}

func requireDir(path, what string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: could not verify %s: %s", ErrInvalid, what, path)
	}
	return nil
}

// ArtifactCopy is present only when artifact copying is enabled.
type ArtifactCopy struct {
	// SourceRoot is scanned recursively at startup.
	SourceRoot string
	// WatchRoot is watched recursively during the run.
	WatchRoot string
	// DestDir receives the copies (the website directory).
	DestDir string
}

// Session is the immutable configuration of one run.
type Session struct {
	Host          string
	Port          int
	Username      string
	Password      string
	RemoteDir     string
	AllowInsecure bool

	// Timeout is the server's idle timeout.
	Timeout time.Duration

	WebsiteDir   string
	SnapshotPath string // empty disables persistence
	Edits        []ftp.Replacement
	Artifacts    *ArtifactCopy

	CoolOff          time.Duration
	DispatchInterval time.Duration

	HistoryDB     string
	DashboardPort int
}

// Resolve validates c, loads the edits file and returns the Session value.
func (c *Config) Resolve() (*Session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	website, err := filepath.Abs(c.LocalWebsiteDirectory)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s := &Session{
		Host:             c.Hostname,
		Port:             c.Port,
		Username:         c.Username,
		Password:         c.Password,
		RemoteDir:        c.RemoteDirectory,
		AllowInsecure:    c.AllowInsecure,
		Timeout:          time.Duration(c.Timeout) * time.Minute,
		WebsiteDir:       website,
		CoolOff:          millis(c.CoolOffMS, time.Second),
		DispatchInterval: millis(c.DispatchIntervalMS, time.Second),
		HistoryDB:        c.HistoryDB,
		DashboardPort:    c.DashboardPort,
	}

	if c.SaveFile != "" {
		if s.SnapshotPath, err = filepath.Abs(c.SaveFile); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	if c.EditsFile != "" {
		edits, err := LoadEdits(c.EditsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		s.Edits = edits
	}

	if c.CopyPDFs {
		src, _ := filepath.Abs(c.PDFSourceDir())
		watch, _ := filepath.Abs(c.PDFWatchDir())
		s.Artifacts = &ArtifactCopy{SourceRoot: src, WatchRoot: watch, DestDir: website}
	}

	return s, nil
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
