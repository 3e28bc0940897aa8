package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "HERALD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "HERALD_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.api_token", typ: kString, env: "HERALD_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "llm.api_key", typ: kString, env: "HERALD_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.base_url", typ: kString, env: "HERALD_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "HERALD_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.review_enabled", typ: kBool, env: "HERALD_LLM_REVIEW_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.LLM.ReviewEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.LLM.ReviewEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "HERALD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "pipeline.score_threshold", typ: kFloat, env: "HERALD_PIPELINE_SCORE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ScoreThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pipeline.ScoreThreshold },
	},
	{
		key: "pipeline.inter_item_delay_sec", typ: kInt, env: "HERALD_PIPELINE_INTER_ITEM_DELAY_SEC",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.InterItemDelaySec = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.InterItemDelaySec },
	},
	{
		key: "pipeline.profile_max_age_hours", typ: kInt, env: "HERALD_PIPELINE_PROFILE_MAX_AGE_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ProfileMaxAgeHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.ProfileMaxAgeHours },
	},
	{
		key: "pipeline.schedule", typ: kString, env: "HERALD_PIPELINE_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Schedule },
	},
	{
		key: "pipeline.timezone", typ: kString, env: "HERALD_PIPELINE_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Timezone },
	},
	{
		key: "sources.influencer_post_count", typ: kInt, env: "HERALD_SOURCES_INFLUENCER_POST_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Sources.InfluencerPostCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Sources.InfluencerPostCount },
	},
	{
		key: "sources.task_days_back", typ: kInt, env: "HERALD_SOURCES_TASK_DAYS_BACK",
		apply:   func(cfg *Config, v any) { cfg.Sources.TaskDaysBack = v.(int) },
		extract: func(cfg Config) any { return cfg.Sources.TaskDaysBack },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
