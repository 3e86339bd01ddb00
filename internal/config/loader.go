package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known dialog provider names. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = []string{"gemini-live", "openai-realtime", "genai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Agent provider
	if cfg.Agent.Provider.Name == "" {
		errs = append(errs, errors.New("agent.provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Agent.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Agent.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Agent.Provider.Name != "" && cfg.Agent.Provider.APIKey == "" {
		errs = append(errs, fmt.Errorf("agent.provider.api_key is required for provider %q", cfg.Agent.Provider.Name))
	}
	for i, fb := range cfg.Agent.Fallbacks {
		prefix := fmt.Sprintf("agent.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if !slices.Contains(ValidProviderNames, fb.Name) {
			slog.Warn("unknown provider name — may be a typo or third-party provider",
				"name", fb.Name,
				"known", ValidProviderNames,
			)
		}
		if fb.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for provider %q", prefix, fb.Name))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Window < 0 {
		errs = append(errs, fmt.Errorf("audio.window %d must be positive", cfg.Audio.Window))
	}
	if cfg.Audio.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_depth %d must be positive", cfg.Audio.QueueDepth))
	}

	// Transcript availability
	if cfg.Transcript.PostgresDSN == "" {
		slog.Warn("transcript.postgres_dsn is empty; conversation transcripts will not be persisted")
	}

	return errors.Join(errs...)
}
