package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/skosovsky/llmio"
	"github.com/skosovsky/llmio/provider/anthropic"
	"github.com/skosovsky/llmio/provider/langchain"
)

const (
	providerOpenAI    = "openai"
	providerAzure     = "azure"
	providerOllama    = "ollama"
	providerAnthropic = "anthropic"
)

// config is read from the environment (optionally a .env file) and overridden by flags.
type config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIVersion string
	APIKey     string
	MaxTurns   int
	Parallel   bool
	LogLevel   string
}

func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		Provider:   valueOrDefault(getenv("LLMIO_PROVIDER"), providerOllama),
		Model:      getenv("LLMIO_MODEL"),
		BaseURL:    getenv("LLMIO_BASE_URL"),
		APIVersion: getenv("LLMIO_API_VERSION"),
		LogLevel:   valueOrDefault(getenv("LLMIO_LOG_LEVEL"), "warn"),
		MaxTurns:   10,
	}
	if v := getenv("LLMIO_MAX_TURNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return config{}, fmt.Errorf("invalid LLMIO_MAX_TURNS %q", v)
		}
		cfg.MaxTurns = n
	}
	if v := getenv("LLMIO_PARALLEL_TOOLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return config{}, fmt.Errorf("invalid LLMIO_PARALLEL_TOOLS %q: %w", v, err)
		}
		cfg.Parallel = b
	}
	switch cfg.Provider {
	case providerAnthropic:
		cfg.APIKey = getenv("ANTHROPIC_API_KEY")
	case providerOpenAI, providerAzure:
		cfg.APIKey = getenv("OPENAI_API_KEY")
	}
	return cfg, nil
}

func (c config) validate() error {
	switch c.Provider {
	case providerOllama, providerOpenAI, providerAnthropic:
	case providerAzure:
		if c.BaseURL == "" || c.APIVersion == "" || c.Model == "" {
			return errors.New("azure needs LLMIO_BASE_URL (endpoint), LLMIO_API_VERSION and LLMIO_MODEL (deployment)")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// newCompleter builds the provider adapter for c.
func newCompleter(c config) (llmio.Completer, error) {
	switch c.Provider {
	case providerAnthropic:
		opts := []option.RequestOption{}
		if c.APIKey != "" {
			opts = append(opts, option.WithAPIKey(c.APIKey))
		}
		if c.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(c.BaseURL))
		}
		client := sdk.NewClient(opts...)
		return anthropic.New(&client, anthropic.WithModel(c.Model)), nil
	case providerOllama:
		model := valueOrDefault(c.Model, "llama3.2")
		opts := []ollama.Option{ollama.WithModel(model)}
		if c.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(c.BaseURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, err
		}
		return langchain.New(m, langchain.WithProviderName(providerOllama)), nil
	case providerOpenAI, providerAzure:
		model := valueOrDefault(c.Model, "gpt-4o-mini")
		opts := []openai.Option{openai.WithModel(model)}
		if c.APIKey != "" {
			opts = append(opts, openai.WithToken(c.APIKey))
		}
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		if c.Provider == providerAzure {
			opts = append(opts, openai.WithAPIType(openai.APITypeAzure), openai.WithAPIVersion(c.APIVersion))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, err
		}
		return langchain.New(m,
			langchain.WithProviderName(c.Provider),
			langchain.WithCallOptions(llms.WithModel(model)),
		), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", c.Provider)
	}
}

func valueOrDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
