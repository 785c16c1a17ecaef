package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the llmfunc configuration file
// (~/.config/llmfunc/config.yaml, or any --config path ending in .toml).
// Sampling fields are pointers so "not set" differs from zero.
type Config struct {
	Model     string `yaml:"model" toml:"model"`
	ModelDir  string `yaml:"model_dir" toml:"model_dir"`
	HubRepo   string `yaml:"hub_repo" toml:"hub_repo"`
	Revision  string `yaml:"revision" toml:"revision"`
	Functions string `yaml:"functions" toml:"functions"`

	// Sampling defaults
	Seed          *uint64  `yaml:"seed" toml:"seed"`
	MaxTokens     *int     `yaml:"max_tokens" toml:"max_tokens"`
	RepeatPenalty *float64 `yaml:"repeat_penalty" toml:"repeat_penalty"`
	RepeatLastN   *int     `yaml:"repeat_last_n" toml:"repeat_last_n"`
	Temperature   *float64 `yaml:"temperature" toml:"temperature"`
	TopP          *float64 `yaml:"top_p" toml:"top_p"`
	TopK          *int     `yaml:"top_k" toml:"top_k"`
	MaxContext    *int     `yaml:"max_context" toml:"max_context"`
	CPU           *bool    `yaml:"cpu" toml:"cpu"`
	FlashAttn     *bool    `yaml:"flash_attn" toml:"flash_attn"`

	// Output
	LogLevel     string `yaml:"log_level" toml:"log_level"`
	LogFormat    string `yaml:"log_format" toml:"log_format"`
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`

	// Server
	ServerAddress string `yaml:"server_address" toml:"server_address"`
	Cache         string `yaml:"cache" toml:"cache"`
	CacheTTL      string `yaml:"cache_ttl" toml:"cache_ttl"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "llmfunc", "config.yaml")
}

// LoadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config; a missing explicit file is an
// error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applySamplingConfig applies config file defaults to s when the
// corresponding flag was not explicitly set.
func applySamplingConfig(c *cli.Command, cfg Config, s *sampling) {
	if cfg.Seed != nil && !c.IsSet("seed") {
		s.seed = *cfg.Seed
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		s.maxTokens = *cfg.MaxTokens
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		s.repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.RepeatLastN != nil && !c.IsSet("repeat-last-n") {
		s.repeatLastN = *cfg.RepeatLastN
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		s.temperature = *cfg.Temperature
		s.temperatureSet = true
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		s.topP = *cfg.TopP
		s.topPSet = true
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		s.topK = *cfg.TopK
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		s.maxContext = *cfg.MaxContext
	}
	if cfg.CPU != nil && !c.IsSet("cpu") {
		s.cpu = *cfg.CPU
	}
	if cfg.FlashAttn != nil && !c.IsSet("flash-attn") {
		s.flashAttn = *cfg.FlashAttn
	}
}

// applySourceConfig applies config file defaults to the model source flags.
func applySourceConfig(c *cli.Command, cfg Config, src *modelSource) {
	if cfg.Model != "" && !c.IsSet("model") {
		src.kind = cfg.Model
	}
	if cfg.ModelDir != "" && !c.IsSet("model-dir") {
		src.dir = cfg.ModelDir
	}
	if cfg.HubRepo != "" && !c.IsSet("hub-repo") {
		src.repo = cfg.HubRepo
	}
	if cfg.Revision != "" && !c.IsSet("revision") {
		src.revision = cfg.Revision
	}
}
