// Package config loads mount configuration from environment variables,
// command-line flags and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/catalog"
)

const (
	SourcePostgres = "postgres"
	SourceDir      = "dir"
)

// Config holds everything the ega-fuse binary needs to mount or list.
type Config struct {
	// Mount
	MountPoint string
	AllowOther bool

	// Selection
	Dataset string
	User    string

	// Key material
	Password    string
	AskPassword bool
	CipherBits  int

	// File listing
	Source    string
	SourceDir string

	// Modes
	Test bool

	// Config file location
	ConfigDir  string
	ConfigName string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics listener, empty disables it
	MetricsAddr string

	File File

	// Args are the positional arguments left after flag parsing.
	Args []string
}

// File is the YAML configuration file.
type File struct {
	Database Database `yaml:"database"`
	Queries  Queries  `yaml:"queries"`
	Key      Key      `yaml:"key"`
	Storage  Storage  `yaml:"storage"`
}

// Database describes the catalog connection.
type Database struct {
	Instance        string        `yaml:"instance"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Queries are the catalog statements. Each takes at most one $1 parameter
// and the file queries return (file_name, archive_path) rows.
type Queries struct {
	AllDatasets        string `yaml:"all_datasets"`
	AllDatasetsByEmail string `yaml:"all_datasets_by_email"`
	FilesByDataset     string `yaml:"files_by_dataset"`
	FilesByEmail       string `yaml:"files_by_email"`
}

// Key holds a fallback archive password.
type Key struct {
	FileKey string `yaml:"file_key"`
}

// Storage selects and configures the archive backend.
type Storage struct {
	Backend string       `yaml:"backend"` // local (default), smb, s3
	Local   LocalStorage `yaml:"local"`
	SMB     SMBStorage   `yaml:"smb"`
	S3      S3Storage    `yaml:"s3"`
}

type LocalStorage struct {
	Root string `yaml:"root"`
}

type SMBStorage struct {
	MountPath string `yaml:"mount_path"`
}

type S3Storage struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Load parses args (without the program or sub-command name) on top of the
// environment defaults, then reads the YAML file if one is present.
func Load(name string, args []string) (*Config, error) {
	cfg := defaults()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Args = fs.Args()

	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	if cfg.Password == "" {
		cfg.Password = cfg.File.Key.FileKey
	}
	return cfg, nil
}

// Usage returns the flag help text for the named sub-command.
func Usage(name string) string {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	defaults().bind(fs)
	return fs.FlagUsages()
}

func defaults() *Config {
	return &Config{
		MountPoint:  envOr("EGA_FUSE_MOUNT", ""),
		AllowOther:  envBool("EGA_FUSE_ALLOW_OTHER", true),
		Dataset:     catalog.Wildcard,
		User:        catalog.Wildcard,
		Password:    envOr("EGA_FUSE_PASSWORD", ""),
		CipherBits:  envInt("EGA_FUSE_BITS", 256),
		Source:      envOr("EGA_FUSE_SOURCE", SourcePostgres),
		SourceDir:   envOr("EGA_FUSE_SOURCE_DIR", ""),
		ConfigDir:   envOr("EGA_FUSE_CONFIG_DIR", ""),
		ConfigName:  envOr("EGA_FUSE_CONFIG", "fuse.yaml"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "console"),
		MetricsAddr: envOr("METRICS_ADDR", ""),
	}
}

func (c *Config) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&c.MountPoint, "mount", "m", c.MountPoint, "mountpoint (must exist, be empty and writable)")
	fs.BoolVar(&c.AllowOther, "allow-other", c.AllowOther, "let other users access the mount")
	fs.StringVarP(&c.Dataset, "dataset", "d", c.Dataset, "dataset to expose ("+catalog.Wildcard+" for all)")
	fs.StringVarP(&c.User, "user", "u", c.User, "user e-mail whose files are exposed")
	fs.StringVarP(&c.Password, "password", "p", c.Password, "archive password")
	fs.BoolVar(&c.AskPassword, "ask-password", false, "prompt for the archive password")
	fs.IntVarP(&c.CipherBits, "bits", "k", c.CipherBits, "AES key size for archives (128 or 256)")
	fs.StringVar(&c.Source, "source", c.Source, "file listing source: postgres or dir")
	fs.StringVar(&c.SourceDir, "source-dir", c.SourceDir, "directory listed by the dir source")
	fs.BoolVarP(&c.Test, "test", "t", false, "print the file list instead of mounting")
	fs.StringVarP(&c.ConfigDir, "config-dir", "l", c.ConfigDir, "directory containing the config file")
	fs.StringVarP(&c.ConfigName, "config", "i", c.ConfigName, "config file name")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or console")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address for the Prometheus listener")
}

// FilePath is the resolved location of the YAML file.
func (c *Config) FilePath() string {
	return filepath.Join(c.ConfigDir, c.ConfigName)
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.FilePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.File); err != nil {
		return fmt.Errorf("parse config %s: %w", c.FilePath(), err)
	}
	return nil
}

// ValidateMount checks the settings needed to build the file list and mount.
func (c *Config) ValidateMount() error {
	if !c.Test && c.MountPoint == "" {
		return fmt.Errorf("mountpoint is required (-m)")
	}
	return c.ValidateSource()
}

// ValidateSource checks the settings needed to build the file list.
func (c *Config) ValidateSource() error {
	if c.CipherBits != 128 && c.CipherBits != 256 {
		return fmt.Errorf("unsupported cipher strength %d (want 128 or 256)", c.CipherBits)
	}
	switch c.Source {
	case SourcePostgres:
		if c.File.Database.Database == "" {
			return fmt.Errorf("database section missing from %s", c.FilePath())
		}
	case SourceDir:
		if c.SourceDir == "" {
			return fmt.Errorf("--source-dir is required for the dir source")
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
