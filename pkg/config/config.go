// Package config loads workspace configuration from defaults, an optional
// YAML file and TIANGONG_ prefixed environment variables, in that order of
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tiangong-ai/workspace/pkg/errors"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	LLM       LLMConfig       `koanf:"llm"`
	Engine    EngineConfig    `koanf:"engine"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Services  ServicesConfig  `koanf:"services"`
	Store     StoreConfig     `koanf:"store"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type LLMConfig struct {
	// Default names the provider used when a request carries no hint.
	Default   string                    `koanf:"default"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	// Purposes maps routing purposes (general, deep_research, creative)
	// to model names.
	Purposes map[string]string `koanf:"purposes"`
	Model    string            `koanf:"model"`
	Timeout  time.Duration     `koanf:"timeout"`
	Retry    RetryConfig       `koanf:"retry"`
}

type ProviderConfig struct {
	Type    string `koanf:"type"` // ollama, openai_compat, mock
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
}

type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

type EngineConfig struct {
	Variant         string        `koanf:"variant"` // native, middleware
	MaxSteps        int           `koanf:"max_steps"`
	MaxDuration     time.Duration `koanf:"max_duration"`
	ProposalRetries int           `koanf:"proposal_retries"`
}

type ExecutorConfig struct {
	AllowList   []string      `koanf:"allow_list"`
	Timeout     time.Duration `koanf:"timeout"`
	OutputLimit int           `koanf:"output_limit"`
	Interpreter string        `koanf:"interpreter"`
	Workdir     string        `koanf:"workdir"`
}

type ServicesConfig struct {
	Tavily     TavilyConfig     `koanf:"tavily"`
	Neo4j      Neo4jConfig      `koanf:"neo4j"`
	Crossref   CrossrefConfig   `koanf:"crossref"`
	OpenAlex   OpenAlexConfig   `koanf:"openalex"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Knowledge  KnowledgeConfig  `koanf:"knowledge"`
}

type TavilyConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	APIKey   string `koanf:"api_key"`
}

type Neo4jConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
}

type CrossrefConfig struct {
	BaseURL string `koanf:"base_url"`
	Mailto  string `koanf:"mailto"`
}

type OpenAlexConfig struct {
	BaseURL string `koanf:"base_url"`
	Mailto  string `koanf:"mailto"`
}

type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
}

type KnowledgeConfig struct {
	Enabled    bool   `koanf:"enabled"`
	QdrantAddr string `koanf:"qdrant_addr"`
	Collection string `koanf:"collection"`
	TopK       int    `koanf:"top_k"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

// Load reads configuration with defaults < file < environment precedence.
// Environment keys use the TIANGONG_ prefix (TIANGONG_LOG_LEVEL -> log.level).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_insecure", true)

	k.Set("llm.default", "ollama")
	k.Set("llm.model", "qwen3:8b")
	k.Set("llm.timeout", "120s")
	k.Set("llm.retry.max_attempts", 3)
	k.Set("llm.retry.initial_delay", "100ms")
	k.Set("llm.retry.max_delay", "10s")
	k.Set("llm.providers.ollama.type", "ollama")
	k.Set("llm.providers.ollama.base_url", "http://localhost:11434")

	k.Set("engine.variant", "native")
	k.Set("engine.max_steps", 10)
	k.Set("engine.max_duration", "10m")
	k.Set("engine.proposal_retries", 2)

	k.Set("executor.allow_list", []string{"ls", "cat", "grep", "find", "head", "tail", "wc", "echo", "pwd"})
	k.Set("executor.timeout", "30s")
	k.Set("executor.output_limit", 65536)
	k.Set("executor.interpreter", "python3")

	k.Set("services.crossref.base_url", "https://api.crossref.org")
	k.Set("services.openalex.base_url", "https://api.openalex.org")
	k.Set("services.knowledge.qdrant_addr", "localhost:6334")
	k.Set("services.knowledge.collection", "workspace")
	k.Set("services.knowledge.top_k", 5)
	k.Set("services.embeddings.model", "nomic-embed-text")

	k.Set("store.path", "workspace.db")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeFatalConfig,
				fmt.Sprintf("loading config file %s", path), err)
		}
	}

	// 2. Load from ENV (TIANGONG_LOG_LEVEL -> log.level)
	if err := k.Load(env.Provider("TIANGONG_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TIANGONG_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeFatalConfig, "loading environment overrides", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeFatalConfig, "unmarshaling configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	fatal := func(msg string) error {
		return errors.New(errors.CodeFatalConfig, msg, nil)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fatal(fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp", "none":
	default:
		return fatal(fmt.Sprintf("telemetry.exporter must be stdout, otlp or none, got %q", c.Telemetry.Exporter))
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fatal("telemetry.otlp_endpoint is required when exporter is otlp")
	}

	if c.LLM.Default == "" {
		return fatal("llm.default is required")
	}
	if _, ok := c.LLM.Providers[c.LLM.Default]; !ok {
		return fatal(fmt.Sprintf("llm.default %q is not declared under llm.providers", c.LLM.Default))
	}
	for name, p := range c.LLM.Providers {
		switch p.Type {
		case "ollama", "openai_compat", "mock":
		default:
			return fatal(fmt.Sprintf("llm.providers.%s.type must be ollama, openai_compat or mock, got %q", name, p.Type))
		}
		if p.Type != "mock" && p.BaseURL == "" {
			return fatal(fmt.Sprintf("llm.providers.%s.base_url is required", name))
		}
	}
	for purpose := range c.LLM.Purposes {
		switch purpose {
		case "general", "deep_research", "creative":
		default:
			return fatal(fmt.Sprintf("unknown llm purpose %q", purpose))
		}
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fatal("llm.retry.max_attempts must be at least 1")
	}

	switch c.Engine.Variant {
	case "native", "middleware":
	default:
		return fatal(fmt.Sprintf("engine.variant must be native or middleware, got %q", c.Engine.Variant))
	}
	if c.Engine.MaxSteps < 1 {
		return fatal("engine.max_steps must be at least 1")
	}
	if c.Engine.MaxDuration <= 0 {
		return fatal("engine.max_duration must be positive")
	}
	// The engine substitutes its default for anything below 1, so a
	// configured 0 would be silently rewritten rather than honored.
	if c.Engine.ProposalRetries < 1 {
		return fatal("engine.proposal_retries must be at least 1")
	}

	if len(c.Executor.AllowList) == 0 {
		return fatal("executor.allow_list must not be empty")
	}
	if c.Executor.Timeout <= 0 {
		return fatal("executor.timeout must be positive")
	}
	if c.Executor.OutputLimit < 1024 {
		return fatal("executor.output_limit must be at least 1024 bytes")
	}

	if c.Services.Tavily.Enabled && c.Services.Tavily.Endpoint == "" {
		return fatal("services.tavily.endpoint is required when tavily is enabled")
	}
	if c.Services.Neo4j.Enabled && c.Services.Neo4j.URI == "" {
		return fatal("services.neo4j.uri is required when neo4j is enabled")
	}
	if c.Services.Knowledge.Enabled {
		if c.Services.Knowledge.QdrantAddr == "" {
			return fatal("services.knowledge.qdrant_addr is required when knowledge is enabled")
		}
		if c.Services.Embeddings.BaseURL == "" {
			return fatal("services.embeddings.base_url is required when knowledge is enabled")
		}
	}

	if c.Store.Path == "" {
		return fatal("store.path is required")
	}
	return nil
}
