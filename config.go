package organizer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderHeuristic = "heuristic"
)

type Config struct {
	ExcludeDirs        []string      `yaml:"exclude_dirs"`
	ExcludePatterns    []string      `yaml:"exclude_patterns"`
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	Endpoint           string        `yaml:"endpoint"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	SystemPromptFile   string        `yaml:"system_prompt_file"`
	OrganizePromptFile string        `yaml:"organize_prompt_file"`

	// Credentials only ever come from the environment.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		ExcludeDirs:     []string{".git"},
		ExcludePatterns: []string{".DS_Store"},
		Provider:        ProviderOpenAI,
		Timeout:         60 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// LoadConfig reads the optional YAML file at path on top of the defaults and
// then applies the environment.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWithEnv(path, os.LookupEnv)
}

func LoadConfigWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyEnv(lookup)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides provider settings from the environment. lookup is
// os.LookupEnv outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("MODEL_PROVIDER"); ok && strings.TrimSpace(v) != "" {
		c.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("MODEL_NAME"); ok && strings.TrimSpace(v) != "" {
		c.Model = strings.TrimSpace(v)
	}
	if v, ok := lookup("PROVIDER_ENDPOINT"); ok && strings.TrimSpace(v) != "" {
		c.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok {
		c.OpenAIAPIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup("ANTHROPIC_API_KEY"); ok {
		c.AnthropicAPIKey = strings.TrimSpace(v)
	}
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderHeuristic:
	default:
		return fmt.Errorf("unknown provider %q (expected openai, anthropic or heuristic)", c.Provider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// ValidateProvider lists what is missing to talk to the configured provider.
// It is only consulted when the provider is actually needed.
func (c *Config) ValidateProvider() []string {
	var issues []string
	if c.Provider == ProviderOpenAI && c.OpenAIAPIKey == "" {
		issues = append(issues, "OPENAI_API_KEY is required for the OpenAI provider.")
	}
	if c.Provider == ProviderAnthropic && c.AnthropicAPIKey == "" {
		issues = append(issues, "ANTHROPIC_API_KEY is required for the Anthropic provider.")
	}
	return issues
}

// ModelName returns the configured model or the provider's default.
func (c *Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.Provider {
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderHeuristic:
		return "extension-groups"
	default:
		return "gpt-4o-mini"
	}
}
