// Package config layers herald's configuration: built-in defaults, the JSON
// config file at $XDG_CONFIG_HOME/herald/config.json, then HERALD_*
// environment variables. Secrets (API keys, tokens) come from the
// environment only and are never written to the config file.
package config

import (
	"fmt"
)

type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Sources  SourcesConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

type LLMConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	ReviewEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type PipelineConfig struct {
	ScoreThreshold     float64
	InterItemDelaySec  int
	ProfileMaxAgeHours int
	Schedule           string // cron expression, empty disables scheduling
	Timezone           string
}

type SourcesConfig struct {
	InfluencerPostCount int
	TaskDaysBack        int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4200,
			MCPPort: 4201,
		},
		LLM: LLMConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o",
			ReviewEnabled: true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			ScoreThreshold:     0.4,
			InterItemDelaySec:  2,
			ProfileMaxAgeHours: 168,
			Timezone:           "UTC",
		},
		Sources: SourcesConfig{
			InfluencerPostCount: 10,
			TaskDaysBack:        7,
		},
	}
}

// Load reads configuration from the config file and environment. The LLM
// API key is required; everything else has a default.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key. Set it via environment variable HERALD_LLM_API_KEY")
	}

	return cfg, nil
}
