// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/schultz-is/rcon"
)

const (
	envPassword = "RCONC_PASSWORD"
	envLogLevel = "RCONC_LOG_LEVEL"

	defaultLogLevel = "warn"
)

// portValue accepts a port written either as a number or as a string.
type portValue string

func (p *portValue) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return errors.New("port must not be empty")
	}
	*p = portValue(s)
	return nil
}

// fileConfig is the on-disk form of the console settings. The same keys are used in TOML and
// YAML files.
type fileConfig struct {
	Host             string        `toml:"host" yaml:"host"`
	Port             portValue     `toml:"port" yaml:"port"`
	Password         string        `toml:"password" yaml:"password"`
	MaxPayload       int           `toml:"max_payload" yaml:"max_payload"`
	Timeout          time.Duration `toml:"timeout" yaml:"timeout"`
	LogLevel         string        `toml:"log_level" yaml:"log_level"`
	SkipAuthPreamble bool          `toml:"skip_auth_preamble" yaml:"skip_auth_preamble"`
}

// settings is the resolved console configuration. Sources are layered in increasing order of
// precedence: defaults, config file, environment, flags.
type settings struct {
	Host             string
	Port             string
	Password         string
	MaxPayload       int
	Timeout          time.Duration
	LogLevel         string
	SkipAuthPreamble bool

	// supplied records the keys that were set by any source other than the defaults.
	supplied map[string]bool
}

func defaultSettings() settings {
	return settings{
		Host:     rcon.DefaultHost,
		Port:     rcon.DefaultPort,
		Password: rcon.DefaultPassword,
		LogLevel: defaultLogLevel,
		supplied: make(map[string]bool),
	}
}

// loadFile overlays the keys defined in the TOML or YAML file at path. The format is chosen by
// file extension.
func (s *settings) loadFile(path string) error {
	var (
		raw  fileConfig
		keys []string
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
		}
		for _, k := range meta.Keys() {
			keys = append(keys, k.String())
		}

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		var defined map[string]any
		if err := yaml.Unmarshal(data, &defined); err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		for k := range defined {
			keys = append(keys, k)
		}

	default:
		return fmt.Errorf("load config %s: unsupported format %q (expected .toml, .yaml or .yml)", path, ext)
	}

	for _, k := range keys {
		s.apply(k, raw)
	}
	return nil
}

// apply copies the value of key from raw.
func (s *settings) apply(key string, raw fileConfig) {
	switch key {
	case "host":
		s.Host = strings.TrimSpace(raw.Host)
	case "port":
		s.Port = string(raw.Port)
	case "password":
		s.Password = raw.Password
	case "max_payload":
		s.MaxPayload = raw.MaxPayload
	case "timeout":
		s.Timeout = raw.Timeout
	case "log_level":
		s.LogLevel = strings.TrimSpace(raw.LogLevel)
	case "skip_auth_preamble":
		s.SkipAuthPreamble = raw.SkipAuthPreamble
	default:
		return
	}
	s.supplied[key] = true
}

// loadEnv overlays settings from the environment.
func (s *settings) loadEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(envPassword); ok {
		s.Password = v
		s.supplied["password"] = true
	}
	if v, ok := lookup(envLogLevel); ok && v != "" {
		s.LogLevel = v
		s.supplied["log_level"] = true
	}
}

func (s settings) validate() error {
	if s.Host == "" {
		return errors.New("host must not be empty")
	}
	if s.Port == "" {
		return errors.New("port must not be empty")
	}
	if s.MaxPayload < 0 {
		return fmt.Errorf("max payload must not be negative, got %d", s.MaxPayload)
	}
	if _, err := zerolog.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", s.LogLevel)
	}
	return nil
}

// defaulted returns a warning for each connection setting that fell back to its default value.
func (s settings) defaulted() []string {
	var warnings []string
	if !s.supplied["host"] {
		warnings = append(warnings, fmt.Sprintf("no host specified. falling back to `%s'.", s.Host))
	}
	if !s.supplied["port"] {
		warnings = append(warnings, fmt.Sprintf("no port specified. falling back to `%s'.", s.Port))
	}
	if !s.supplied["password"] {
		if s.Password == "" {
			warnings = append(warnings, "no password specified. falling back to a blank password.")
		} else {
			warnings = append(warnings, fmt.Sprintf("no password specified. falling back to `%s'.", s.Password))
		}
	}
	return warnings
}

func (s settings) sessionConfig(logger *zerolog.Logger) rcon.SessionConfig {
	return rcon.SessionConfig{
		MaxPayload:       s.MaxPayload,
		Transport:        rcon.TransportConfig{Timeout: s.Timeout},
		SkipAuthPreamble: s.SkipAuthPreamble,
		Logger:           logger,
	}
}
