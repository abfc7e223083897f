package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for genbot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Telegram TelegramConfig `json:"telegram"`
	Worker   WorkerConfig   `json:"worker"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Replies  RepliesConfig  `json:"replies"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	OutputsDir     string `json:"outputsDir"`
	RequestLogPath string `json:"requestLogPath"`
	StateDBPath    string `json:"stateDbPath"`
	LogLevel       string `json:"logLevel"`
}

type TelegramConfig struct {
	Token              string `json:"token"`
	PollTimeoutSeconds int    `json:"pollTimeoutSeconds"`
}

// WorkerConfig selects how generation jobs run: "script" spawns the
// external per-operation worker processes; "api" calls OpenAI in-process.
type WorkerConfig struct {
	Mode         string `json:"mode"` // "script" | "api"
	ScriptDir    string `json:"scriptDir"`
	ManifestPath string `json:"manifestPath,omitempty"`
}

type OpenAIConfig struct {
	APIKey       string `json:"apiKey,omitempty"`
	Organization string `json:"organization,omitempty"`
	ChatModel    string `json:"chatModel,omitempty"`
}

// RepliesConfig holds the canned user-facing reply texts.
type RepliesConfig struct {
	Mention        string `json:"mention"`
	UnknownCommand string `json:"unknownCommand"`
	Failure        string `json:"failure"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.genbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".genbot"
	}
	return filepath.Join(home, ".genbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	// Optional .env next to the process; secrets may live there instead
	// of the config file.
	_ = godotenv.Load()

	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	cfg.General.OutputsDir = ExpandPath(cfg.General.OutputsDir)
	cfg.General.RequestLogPath = ExpandPath(cfg.General.RequestLogPath)
	cfg.General.StateDBPath = ExpandPath(cfg.General.StateDBPath)
	cfg.Worker.ScriptDir = ExpandPath(cfg.Worker.ScriptDir)
	cfg.Worker.ManifestPath = ExpandPath(cfg.Worker.ManifestPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets well-known environment variables take precedence
// over file values, so tokens never have to land in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GENBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_ORGANIZATION"); v != "" {
		cfg.OpenAI.Organization = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.OutputsDir == "" {
		errs = append(errs, "general.outputsDir must not be empty")
	}
	if cfg.General.RequestLogPath == "" {
		errs = append(errs, "general.requestLogPath must not be empty")
	}
	if cfg.Telegram.PollTimeoutSeconds < 0 || cfg.Telegram.PollTimeoutSeconds > 90 {
		errs = append(errs, "telegram.pollTimeoutSeconds must be between 0 and 90")
	}
	switch cfg.Worker.Mode {
	case "script", "api":
		// valid
	default:
		errs = append(errs, "worker.mode must be one of: script, api")
	}
	if cfg.Worker.Mode == "script" && cfg.Worker.ScriptDir == "" {
		errs = append(errs, "worker.scriptDir is required for script mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
