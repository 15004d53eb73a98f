package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds persistent daemon configuration loaded from
// ~/.rss-reader/config.yaml.
type Config struct {
	// APIAddr optionally exposes the control API on TCP in addition to
	// the unix socket, e.g. "127.0.0.1:7843".
	APIAddr string `yaml:"api_addr"`

	// DBPath overrides the default database location.
	DBPath string `yaml:"db_path"`

	// WorkerBinary overrides worker binary resolution with an explicit path.
	WorkerBinary string `yaml:"worker_binary"`

	// WatchBinary restarts the worker when its binary is replaced on disk.
	WatchBinary bool `yaml:"watch_binary"`

	// RefreshInterval is the automatic feed refresh period. Zero disables
	// automatic refreshes.
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// Duration parses Go duration strings ("30m", "1h") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Dir returns the reader's state directory: ~/.rss-reader.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rss-reader")
}

// DefaultPath returns the default config file path: ~/.rss-reader/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultDBPath returns the default database path: ~/.rss-reader/data.db.
func DefaultDBPath() string {
	return filepath.Join(Dir(), "data.db")
}

// SocketPath returns the control API unix socket path.
func SocketPath() string {
	return filepath.Join(Dir(), "daemon.sock")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
