// Package config resolves the router's process-wide settings from
// environment variables and CLI flags, grounded on the teacher's env-var
// resolution style in its deleted root main.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// LogLevel is one of the recognized log_level values.
type LogLevel string

const (
	LogLevelCritical LogLevel = "critical"
	LogLevelError    LogLevel = "error"
	LogLevelWarning  LogLevel = "warning"
	LogLevelInfo     LogLevel = "info"
	LogLevelDebug    LogLevel = "debug"
	LogLevelTrace    LogLevel = "trace"
)

var validLogLevels = map[LogLevel]bool{
	LogLevelCritical: true,
	LogLevelError:    true,
	LogLevelWarning:  true,
	LogLevelInfo:     true,
	LogLevelDebug:    true,
	LogLevelTrace:    true,
}

// disallowedLlamaCppFlags are router-managed flags a user-supplied
// llamacpp_args string must never collide with (spec.md §4.2).
var disallowedLlamaCppFlags = map[string]bool{
	"-m":         true,
	"--model":    true,
	"--port":     true,
	"--ctx-size": true,
	"-c":         true,
	"-ngl":       true,
	"--n-gpu-layers": true,
	"--host":     true,
	"--embeddings": true,
	"--mmproj":   true,
}

// Settings is the router's fully-resolved configuration surface.
type Settings struct {
	Host              string
	Port              int
	LogLevel          LogLevel
	CtxSize           int
	LlamaCppBackend   string
	LlamaCppArgs      string
	MaxLoadedModels   int
	ExtraModelsDir    string
	NoBroadcast       bool
	APIKey            string
	BackendPathOverrides map[string]string
	// CacheDir roots the persisted state layout of spec.md §6
	// (user_models.json, recipe_options.json, bin/<recipe>/<tag>/...).
	CacheDir string
}

// Default returns the settings' default values, per spec.md §6.
func Default() Settings {
	return Settings{
		Host:            "127.0.0.1",
		Port:            8000,
		LogLevel:        LogLevelInfo,
		CtxSize:         4096,
		LlamaCppBackend: "cpu",
		MaxLoadedModels: 1,
		BackendPathOverrides: map[string]string{},
		CacheDir:        defaultCacheDir(),
	}
}

// defaultCacheDir returns the platform cache directory joined with
// "lemonade-router", falling back to a relative directory if the OS
// cannot report one (e.g. a minimal container with no HOME).
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "lemonade-router-cache"
	}
	return filepath.Join(dir, "lemonade-router")
}

// envPrefix namespaces every recognized environment variable.
const envPrefix = "LEMONADE_"

// FromEnv overlays environment variables onto a copy of Default.
func FromEnv() (Settings, error) {
	s := Default()

	if v := os.Getenv(envPrefix + "HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid %sPORT %q: %w", envPrefix, v, err)
		}
		s.Port = p
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		s.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v := os.Getenv(envPrefix + "CTX_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid %sCTX_SIZE %q: %w", envPrefix, v, err)
		}
		s.CtxSize = n
	}
	if v := os.Getenv(envPrefix + "LLAMACPP_BACKEND"); v != "" {
		s.LlamaCppBackend = v
	}
	if v := os.Getenv(envPrefix + "LLAMACPP_ARGS"); v != "" {
		s.LlamaCppArgs = v
	}
	if v := os.Getenv(envPrefix + "MAX_LOADED_MODELS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid %sMAX_LOADED_MODELS %q: %w", envPrefix, v, err)
		}
		s.MaxLoadedModels = n
	}
	if v := os.Getenv(envPrefix + "EXTRA_MODELS_DIR"); v != "" {
		s.ExtraModelsDir = v
	}
	if v := os.Getenv(envPrefix + "NO_BROADCAST"); v != "" {
		s.NoBroadcast = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv(envPrefix + "API_KEY"); v != "" {
		s.APIKey = v
	}
	if v := os.Getenv(envPrefix + "CACHE_DIR"); v != "" {
		s.CacheDir = v
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks internal consistency, including the llamacpp_args
// collision rule from spec.md §4.2.
func (s Settings) Validate() error {
	if !validLogLevels[s.LogLevel] {
		return fmt.Errorf("invalid log_level %q", s.LogLevel)
	}
	if s.MaxLoadedModels == 0 {
		return fmt.Errorf("max_loaded_models must be -1 (unlimited) or a positive integer")
	}
	if _, err := ValidateLlamaCppArgs(s.LlamaCppArgs); err != nil {
		return err
	}
	return nil
}

// ValidateLlamaCppArgs parses a free-form llamacpp_args string and rejects
// it if it collides with any router-managed flag.
func ValidateLlamaCppArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	parser := shellwords.NewParser()
	parsed, err := parser.Parse(args)
	if err != nil {
		return nil, fmt.Errorf("parsing llamacpp_args: %w", err)
	}
	for _, tok := range parsed {
		if disallowedLlamaCppFlags[tok] {
			return nil, fmt.Errorf("llamacpp_args may not set router-managed flag %q", tok)
		}
	}
	return parsed, nil
}
