package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"actgraph/internal/domain"
)

const FileName = "actgraph.yml"

// Config models actgraph.yml.
type Config struct {
	Engine struct {
		LockTimeout  time.Duration `yaml:"lock_timeout"`
		AuditWorkers int           `yaml:"audit_workers"`
		Shards       int           `yaml:"shards"`
	} `yaml:"engine"`
	Moods struct {
		Definition []string `yaml:"definition"`
	} `yaml:"moods"`
	Terminology Terminology `yaml:"terminology"`
	Server      struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Journal struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"journal"`
}

// Terminology configures the built-in specialization table. Keys and values
// use the "system#code" form; a bare value has no system.
type Terminology struct {
	CacheSize       int                 `yaml:"cache_size"`
	AllowUnlisted   bool                `yaml:"allow_unlisted"`
	Specializations map[string][]string `yaml:"specializations"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with actgraph config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.LockTimeout <= 0 {
		return fmt.Errorf("config.engine.lock_timeout must be positive")
	}
	if c.Engine.AuditWorkers <= 0 {
		return fmt.Errorf("config.engine.audit_workers must be positive")
	}
	if c.Engine.Shards <= 0 {
		return fmt.Errorf("config.engine.shards must be positive")
	}
	if len(c.Moods.Definition) == 0 {
		return fmt.Errorf("config.moods.definition is required")
	}
	for _, m := range c.Moods.Definition {
		if m == "" {
			return fmt.Errorf("config.moods.definition contains an empty mood code")
		}
	}
	if c.Terminology.CacheSize < 0 {
		return fmt.Errorf("config.terminology.cache_size cannot be negative")
	}
	for class, codes := range c.Terminology.Specializations {
		if domain.ParseCode(class).Code == "" {
			return fmt.Errorf("config.terminology.specializations has an empty class code")
		}
		for _, code := range codes {
			if domain.ParseCode(code).Code == "" {
				return fmt.Errorf("class %s lists an empty code", class)
			}
		}
	}
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `engine:
  lock_timeout: 2s
  audit_workers: 4
  shards: 32

moods:
  definition: [DEF]

terminology:
  cache_size: 4096
  allow_unlisted: false
  specializations:
    ACT: [OBS, PROC, SBADM, ENC, DOCCLIN]
    OBS:
      - "http://loinc.org#8480-6"
      - "http://loinc.org#8462-4"
      - "http://loinc.org#8867-4"
      - "http://loinc.org#2339-0"
    PROC:
      - "http://snomed.info/sct#80146002"
      - "http://snomed.info/sct#387713003"
    SBADM:
      - "http://snomed.info/sct#18629005"
    DOCCLIN: [DOCSECT]

server:
  addr: ":8080"
  base_path: /v0
  jwt_secret: ""

journal:
  enabled: true
`
