package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Env holds settings that come from the process environment: credentials
// and observability switches never live in job files.
type Env struct {
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GoogleAPIKey  string `env:"GOOGLE_API_KEY"`
	OllamaHost    string `env:"OLLAMA_HOST"`
	LogV          int    `env:"SCRIBE_LOG_V" envDefault:"0"`
	OTelEndpoint  string `env:"SCRIBE_OTEL_ENDPOINT"`
	OTelEnabled   bool   `env:"SCRIBE_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv loads Env from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// APIKey returns the credential for provider. GEMINI_API_KEY wins over
// GOOGLE_API_KEY.
func (e Env) APIKey(provider string) string {
	switch provider {
	case "openai":
		return e.OpenAIAPIKey
	case "gemini":
		if e.GeminiAPIKey != "" {
			return e.GeminiAPIKey
		}
		return e.GoogleAPIKey
	}
	return ""
}

// BaseURL is the environment fallback for service.baseURL.
func (e Env) BaseURL(provider string) string {
	switch provider {
	case "openai":
		return e.OpenAIBaseURL
	case "ollama":
		return e.OllamaHost
	}
	return ""
}

// EnvVar reports whether a variable read by Env is set. Values are never
// exposed.
type EnvVar struct {
	Name string `json:"name"`
	Set  bool   `json:"set"`
}

// EnvPresence lists every variable Env reads, in declaration order.
func EnvPresence() ([]EnvVar, error) {
	params, err := env.GetFieldParams(&Env{})
	if err != nil {
		return nil, fmt.Errorf("env fields: %w", err)
	}
	out := make([]EnvVar, 0, len(params))
	for _, p := range params {
		_, ok := os.LookupEnv(p.Key)
		out = append(out, EnvVar{Name: p.Key, Set: ok})
	}
	return out, nil
}
