package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Credentials holds vendor API keys. They are read from the environment
// only and never from the config file.
type Credentials struct {
	OpenAIKey    string `env:"OPENAI_API_KEY"`
	AnthropicKey string `env:"ANTHROPIC_API_KEY"`
	GeminiKey    string `env:"GEMINI_API_KEY"`
}

// ForVendor returns the API key for vendor, or "" when none is set.
func (c Credentials) ForVendor(vendor string) string {
	switch vendor {
	case "openai":
		return c.OpenAIKey
	case "anthropic":
		return c.AnthropicKey
	case "gemini":
		return c.GeminiKey
	default:
		return ""
	}
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadCredentials reads vendor API keys from the environment.
func LoadCredentials() (Credentials, error) {
	var c Credentials
	if err := ParseEnv(&c); err != nil {
		return Credentials{}, err
	}
	return c, nil
}
