package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional on-disk configuration for cmd/cruxd's
// "server" subcommand, assembled by cobra flags when no file is given
// and overlaid by the file's values when one is.
type FileConfig struct {
	LogLevel  string         `yaml:"log_level"`
	LogJSON   bool           `yaml:"log_json"`
	Hub       HubFileConfig  `yaml:"hub"`
	Resolver  ResolverConfig `yaml:"resolver"`
	ParseBody bool           `yaml:"parse_body"`
}

// HubFileConfig mirrors hub.Config's fields without importing
// internal/hub, avoiding an import cycle between internal/config
// (used by internal/hub's own globals) and internal/hub itself.
type HubFileConfig struct {
	MaxReady  int `yaml:"max_ready"`
	PollBatch int `yaml:"poll_batch"`
}

// ResolverConfig mirrors dns.ResolverConfig's fields for the same
// reason.
type ResolverConfig struct {
	Servers     []string      `yaml:"servers"`
	Attempts    int           `yaml:"attempts"`
	Timeout     time.Duration `yaml:"timeout"`
	Rotate      bool          `yaml:"rotate"`
	MaxSRVDepth int           `yaml:"max_srv_depth"`
}

// Load reads and parses a YAML config file at path. A missing file is
// reported as the os.ReadFile error unchanged, so callers that treat
// it as optional check os.IsNotExist themselves.
func Load(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return fc, nil
}
