// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

// Package config loads and validates memberd configuration from a YAML file
// and command-line flags. Flags take precedence over the file.
package config

import (
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the complete memberd configuration.
type Config struct {
	// HTTP is the member-facing API listener.
	HTTP HTTPConfig `koanf:"http"`

	// Observability is the metrics and health probe listener.
	Observability ObservabilityConfig `koanf:"observability"`

	Database DatabaseConfig `koanf:"database"`
	Mail     MailConfig     `koanf:"mail"`
	Log      LogConfig      `koanf:"log"`
}

// HTTPConfig configures the member API server.
type HTTPConfig struct {
	Listen string `koanf:"listen"`

	// PublicBaseURL is the public origin used to build links in emails,
	// e.g. "https://members.example.com".
	PublicBaseURL string `koanf:"public_base_url"`
}

// ObservabilityConfig configures the metrics and health endpoint server.
type ObservabilityConfig struct {
	Listen string `koanf:"listen"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// MailConfig configures the outbound mail API.
type MailConfig struct {
	APIURL      string `koanf:"api_url"`
	APIKey      string `koanf:"api_key"`
	SenderEmail string `koanf:"sender_email"`
	SenderName  string `koanf:"sender_name"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Format is "json" or "text".
	Format string `koanf:"format"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Observability: ObservabilityConfig{
			Listen: ":9100",
		},
		Mail: MailConfig{
			SenderName: "Memberd",
		},
		Log: LogConfig{
			Format: "json",
		},
	}
}

// Load reads configuration from the given YAML file (optional, "" to skip)
// and overlays any set flags. The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, oops.Code("CONFIG_FILE_NOT_FOUND").
				With("path", path).
				Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		// Only flags the caller actually set may override the file; an
		// untouched flag's empty default must not clobber a config value.
		changed := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
		flags.Visit(changed.AddFlag)
		if err := k.Load(posflag.Provider(changed, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is complete and well-formed.
func (c *Config) Validate() error {
	if c.HTTP.Listen == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http.listen is required")
	}
	if c.Observability.Listen == "" {
		return oops.Code("CONFIG_INVALID").Errorf("observability.listen is required")
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return oops.Code("CONFIG_INVALID").
			With("url", redactURL(c.Database.URL)).
			Errorf("database.url must use postgres:// or postgresql:// scheme")
	}
	if c.Mail.APIURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("mail.api_url is required")
	}
	if c.Mail.SenderEmail == "" {
		return oops.Code("CONFIG_INVALID").Errorf("mail.sender_email is required")
	}
	if c.HTTP.PublicBaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http.public_base_url is required")
	}
	if u, err := url.Parse(c.HTTP.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return oops.Code("CONFIG_INVALID").
			With("url", c.HTTP.PublicBaseURL).
			Errorf("http.public_base_url must be an absolute URL")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log.format must be json or text")
	}
	return nil
}

// redactURL strips credentials from a connection URL for error contexts.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	return u.Redacted()
}
