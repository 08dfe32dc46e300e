package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configurable value for the capture service.
type Config struct {
	// Persistence
	DBPath string // path to the SQLite file, e.g. "./data/photos.db"

	// Server
	ListenAddr string // e.g. ":8080"
	LogLevel   string // debug|info|warn|error
	LogFile    string // append logs here instead of stdout when set

	// Sampling
	Interval     time.Duration // time between two captures
	JPEGQuality  int           // 1..100
	DisplayWidth int           // gallery image width in pixels

	Source      SourceConfig
	Constraints ConstraintsConfig
	Export      ExportConfig
	SFTP        SFTPConfig
}

// SourceConfig selects and parameterises the frame source.
type SourceConfig struct {
	Kind    string        // synthetic|http|command
	URL     string        // snapshot URL for kind=http
	Command string        // executable for kind=command
	Args    []string      // arguments, may contain {{zoom}} and {{facing}}
	Width   int           // synthetic frame width
	Height  int           // synthetic frame height
	Timeout time.Duration // per-frame fetch timeout
}

// ConstraintsConfig are the camera hints. Sources treat them as best-effort.
type ConstraintsConfig struct {
	FacingMode string
	Zoom       float64
}

// ExportConfig configures the local export directory. Empty disables it.
type ExportConfig struct {
	Dir string
}

// SFTPConfig configures the remote export target. Empty Addr disables it.
type SFTPConfig struct {
	Addr      string // host:port
	User      string
	KeyPath   string
	RemoteDir string
}

const envPrefix = "AUTOCAPTURE"

// Load reads configuration from (in decreasing priority):
//  1. environment variables (e.g. AUTOCAPTURE_DBPATH, AUTOCAPTURE_SOURCE_KIND)
//  2. a yaml file (./configs/config.yaml) if it exists.
//  3. built-in defaults.
func Load() (*Config, error) {
	return load(newViper("./configs"))
}

// LoadFrom is Load with an explicit directory for config.yaml.
func LoadFrom(dir string) (*Config, error) {
	return load(newViper(dir))
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DBPath", "./data/photos.db")
	v.SetDefault("ListenAddr", ":8080")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFile", "")

	v.SetDefault("Interval", 2*time.Second)
	v.SetDefault("JPEGQuality", 92)
	v.SetDefault("DisplayWidth", 200)

	v.SetDefault("Source.Kind", "synthetic")
	v.SetDefault("Source.URL", "")
	v.SetDefault("Source.Command", "")
	v.SetDefault("Source.Args", []string{})
	v.SetDefault("Source.Width", 640)
	v.SetDefault("Source.Height", 480)
	v.SetDefault("Source.Timeout", 5*time.Second)

	v.SetDefault("Constraints.FacingMode", "environment")
	v.SetDefault("Constraints.Zoom", 2.0)

	v.SetDefault("Export.Dir", "")

	v.SetDefault("SFTP.Addr", "")
	v.SetDefault("SFTP.User", "")
	v.SetDefault("SFTP.KeyPath", "")
	v.SetDefault("SFTP.RemoteDir", "")
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine, a broken one is not
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot default away.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DBPath must not be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("Interval must be positive, got %s", c.Interval)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEGQuality must be within 1..100, got %d", c.JPEGQuality)
	}
	if c.DisplayWidth <= 0 {
		return fmt.Errorf("DisplayWidth must be positive, got %d", c.DisplayWidth)
	}
	switch c.Source.Kind {
	case "synthetic":
		if c.Source.Width <= 0 || c.Source.Height <= 0 {
			return fmt.Errorf("synthetic source needs a positive size, got %dx%d", c.Source.Width, c.Source.Height)
		}
	case "http":
		if c.Source.URL == "" {
			return fmt.Errorf("Source.URL must be set for kind=http")
		}
	case "command":
		if c.Source.Command == "" {
			return fmt.Errorf("Source.Command must be set for kind=command")
		}
	default:
		return fmt.Errorf("unknown Source.Kind %q", c.Source.Kind)
	}
	if c.SFTP.Addr != "" && (c.SFTP.User == "" || c.SFTP.KeyPath == "") {
		return fmt.Errorf("SFTP.User and SFTP.KeyPath are required when SFTP.Addr is set")
	}
	return nil
}
