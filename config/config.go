package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/blobfs/internal/util"
)

// Bytes per MB
const MB = 1024 * 1024

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	// DefaultRoot is the container relative paths resolve against
	DefaultRoot = "default"

	// DefaultBackend keeps everything in process memory
	DefaultBackend = "memory"

	// DefaultBlockSize is the size of each staged upload block.
	DefaultBlockSize = 8 * MB

	// DefaultChunkSize is the size of each ranged download buffered by input streams
	DefaultChunkSize = 1 * MB

	// DefaultListPageSize is the page size hint for flat listings. 5000 is the
	// largest page most object stores will return.
	DefaultListPageSize = 5000

	// DefaultAttrTimeout is the FUSE attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the FUSE directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	DefaultFsName = "blobfs"
	DefaultName   = "blobfs"
)

// CLI verbosity values accepted by [ConfigOverride.LogLvl]
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Config contains runtime configuration values for a blob filesystem.
type Config struct {
	MountOptions
	LogLvl       util.LogLevel // Internal log level (Default info)
	DefaultRoot  string        // Container that relative paths resolve against (Default "default")
	Roots        []string      // Containers exposed as filesystem roots; always includes DefaultRoot
	Backend      string        // Registered backend type, i.e. "memory" or "s3" (Default "memory")
	S3           S3Options     // Options for the "s3" backend
	BlockSize    int           // Size of each staged upload block in bytes (Default 8MB)
	ChunkSize    int           // Size of each buffered ranged download in bytes (Default 1MB)
	ListPageSize int           // Page size hint for directory listings (Default 5000)
	AttrTimeout  float64       // FUSE attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64       // FUSE directory entry cache timeout in seconds (Default 1.0)
	Metrics      bool          // Wrap the backend with prometheus instrumentation
}

// S3Options configure the S3 backend. Credentials are optional; the SDK default
// chain is used when they are empty.
type S3Options struct {
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty" toml:"region,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" json:"force_path_style,omitempty" toml:"force_path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" toml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" toml:"secret_access_key,omitempty"`
	MaxRetries      int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	LogLvl       *int       `yaml:"verbose,omitempty" json:"verbose,omitempty" toml:"verbose,omitempty"` // CLI verbosity 1 (error) to 5 (trace)
	FsName       *string    `yaml:"fs_name,omitempty" json:"fs_name,omitempty" toml:"fs_name,omitempty"`
	Name         *string    `yaml:"name,omitempty" json:"name,omitempty" toml:"name,omitempty"`
	Debug        *bool      `yaml:"debug,omitempty" json:"debug,omitempty" toml:"debug,omitempty"`
	DefaultRoot  *string    `yaml:"default_root,omitempty" json:"default_root,omitempty" toml:"default_root,omitempty"`
	Roots        []string   `yaml:"roots,omitempty" json:"roots,omitempty" toml:"roots,omitempty"`
	Backend      *string    `yaml:"backend,omitempty" json:"backend,omitempty" toml:"backend,omitempty"`
	S3           *S3Options `yaml:"s3,omitempty" json:"s3,omitempty" toml:"s3,omitempty"`
	BlockSize    *int       `yaml:"block_size,omitempty" json:"block_size,omitempty" toml:"block_size,omitempty"`
	ChunkSize    *int       `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" toml:"chunk_size,omitempty"`
	ListPageSize *int       `yaml:"list_page_size,omitempty" json:"list_page_size,omitempty" toml:"list_page_size,omitempty"`
	AttrTimeout  *float64   `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty" toml:"attr_timeout,omitempty"`
	EntryTimeout *float64   `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty" toml:"entry_timeout,omitempty"`
	Metrics      *bool      `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:       DefaultLogLvl,
		DefaultRoot:  DefaultRoot,
		Roots:        []string{DefaultRoot},
		Backend:      DefaultBackend,
		BlockSize:    DefaultBlockSize,
		ChunkSize:    DefaultChunkSize,
		ListPageSize: DefaultListPageSize,
		AttrTimeout:  DefaultAttrTimeout,
		EntryTimeout: DefaultEntryTimeout,
	}
}

// NewConfig creates a default Config and applies override when it is not nil.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = VerboseToLogLevel(*override.LogLvl)
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.DefaultRoot != nil {
		c.DefaultRoot = *override.DefaultRoot
	}
	if override.Roots != nil {
		c.Roots = slices.Clone(override.Roots)
	}
	if c.DefaultRoot != "" && !slices.Contains(c.Roots, c.DefaultRoot) {
		c.Roots = append([]string{c.DefaultRoot}, c.Roots...)
	}
	if override.Backend != nil {
		c.Backend = *override.Backend
	}
	if override.S3 != nil {
		c.S3 = *override.S3
	}
	if override.BlockSize != nil {
		c.BlockSize = *override.BlockSize
	}
	if override.ChunkSize != nil {
		c.ChunkSize = *override.ChunkSize
	}
	if override.ListPageSize != nil {
		c.ListPageSize = *override.ListPageSize
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.Metrics != nil {
		c.Metrics = *override.Metrics
	}
}

// VerboseToLogLevel converts CLI verbosity (1 error .. 5 trace, clamped) to a
// [util.LogLevel].
func VerboseToLogLevel(verbose int) util.LogLevel {
	verbose = util.Clamp(verbose, ErrorVerbose, TraceVerbose)
	logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return logLvls[verbose-1]
}

// Validate reports configuration values the filesystem cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if err := ValidateRootName(c.DefaultRoot); err != nil {
		errs = append(errs, fmt.Errorf("default_root: %w", err))
	}
	for _, r := range c.Roots {
		if err := ValidateRootName(r); err != nil {
			errs = append(errs, fmt.Errorf("roots: %w", err))
		}
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block_size must be positive, got %d", c.BlockSize))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.ListPageSize <= 0 {
		errs = append(errs, fmt.Errorf("list_page_size must be positive, got %d", c.ListPageSize))
	}
	if c.Backend == "" {
		errs = append(errs, errors.New("backend must be set"))
	}
	return errors.Join(errs...)
}

// ValidateRootName checks that name can be used as a filesystem root.
func ValidateRootName(name string) error {
	switch {
	case name == "":
		return errors.New("root name is empty")
	case strings.ContainsAny(name, ":/"):
		return fmt.Errorf("root name %q contains a reserved character", name)
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports YAML (.yaml, .yml), JSON (.json) and TOML (.toml) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
