package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	EngineExec    = "exec"
	EngineLibrary = "library"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type DownloadConfig struct {
	Workers     int             `mapstructure:"workers" yaml:"workers"`
	ToolDir     string          `mapstructure:"tool_dir" yaml:"tool_dir"`
	ToolName    string          `mapstructure:"tool_name" yaml:"tool_name"`
	Engine      string          `mapstructure:"engine" yaml:"engine"`
	AutoInstall bool            `mapstructure:"auto_install" yaml:"auto_install"`
	Options     DownloadOptions `mapstructure:"options" yaml:"options"`
}

// DownloadOptions are the user facing downloader settings that get turned into yt-dlp arguments.
type DownloadOptions struct {
	OutDir            string   `mapstructure:"out_dir" yaml:"out_dir"`
	OutputTemplate    string   `mapstructure:"output_template" yaml:"output_template"`
	Format            string   `mapstructure:"format" yaml:"format"`
	AudioOnly         bool     `mapstructure:"audio_only" yaml:"audio_only"`
	AudioFormat       string   `mapstructure:"audio_format" yaml:"audio_format"`
	AudioQuality      string   `mapstructure:"audio_quality" yaml:"audio_quality"`
	RestrictFilenames bool     `mapstructure:"restrict_filenames" yaml:"restrict_filenames"`
	IgnoreErrors      bool     `mapstructure:"ignore_errors" yaml:"ignore_errors"`
	NoPlaylist        bool     `mapstructure:"no_playlist" yaml:"no_playlist"`
	Proxy             string   `mapstructure:"proxy" yaml:"proxy"`
	RateLimit         string   `mapstructure:"rate_limit" yaml:"rate_limit"`
	MaxFilesize       string   `mapstructure:"max_filesize" yaml:"max_filesize"`
	WriteSubs         bool     `mapstructure:"write_subs" yaml:"write_subs"`
	SubLangs          string   `mapstructure:"sub_langs" yaml:"sub_langs"`
	Retries           int      `mapstructure:"retries" yaml:"retries"`
	ExtraArgs         []string `mapstructure:"extra_args" yaml:"extra_args"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// ToolPath returns the full path of the downloader binary.
func (d DownloadConfig) ToolPath() string {
	name := d.ToolName
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}
	return filepath.Join(d.ToolDir, name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("download.workers", 3)
	v.SetDefault("download.tool_dir", "./bin")
	v.SetDefault("download.tool_name", "yt-dlp")
	v.SetDefault("download.engine", EngineExec)
	v.SetDefault("download.auto_install", true)
	v.SetDefault("download.options.out_dir", "./downloads")
	v.SetDefault("download.options.output_template", "%(title)s.%(ext)s")
	v.SetDefault("download.options.format", "")
	v.SetDefault("download.options.audio_format", "mp3")
	v.SetDefault("download.options.retries", 10)
	v.SetDefault("log.path", "gotubedl.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./data/gotubedl.db")
}

// newViper builds a viper instance with defaults and env support. An empty path
// means no config file is read.
func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}

	// Support Environment Variables
	v.SetEnvPrefix("GOTUBEDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// resolvePath applies the config lookup fallbacks. It returns "" when running on defaults.
func resolvePath(path string) (string, error) {
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("could not stat config file %s: %w", path, err)
	}

	if explicit {
		return "", fmt.Errorf("config file not found: %s", path)
	}

	// FALLBACK: Docker style mount
	if _, err := os.Stat("/config/config.yaml"); err == nil {
		return "/config/config.yaml", nil
	}

	return "", nil
}

// Load reads the config file at path. An empty path looks for ./config.yaml and
// /config/config.yaml and runs on defaults when neither exists.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	v := newViper(resolved)
	return read(v, resolved)
}

func read(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Download.Workers <= 0 {
		// Default to a sane value
		c.Download.Workers = 3
	}

	if c.Download.Workers > 32 {
		return fmt.Errorf("download.workers must be 32 or lower, got %d", c.Download.Workers)
	}

	if c.Download.ToolName == "" {
		return errors.New("download.tool_name is required")
	}

	if c.Download.ToolDir == "" {
		c.Download.ToolDir = "./bin"
	}

	switch c.Download.Engine {
	case "":
		c.Download.Engine = EngineExec
	case EngineExec, EngineLibrary:
	default:
		return fmt.Errorf("download.engine: unknown engine %q", c.Download.Engine)
	}

	if c.Download.Options.OutDir == "" {
		c.Download.Options.OutDir = "./downloads"
	}

	if c.Download.Options.OutputTemplate == "" {
		c.Download.Options.OutputTemplate = "%(title)s.%(ext)s"
	}

	switch c.Store.Driver {
	case "":
		c.Store.Driver = DriverSQLite
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "./data/gotubedl.db"
	}

	return nil
}
