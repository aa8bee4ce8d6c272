package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// SynthesisConfig selects the speech backend and the voice/model pair that,
// together with segment text and index, addresses every artifact.
type SynthesisConfig struct {
	Mode      string `yaml:"mode"` // mock, openai, exec
	APIKey    string `yaml:"api_key"`
	Command   string `yaml:"command"`
	Voice     string `yaml:"voice"`
	Model     string `yaml:"model"`
	ChunkSize int    `yaml:"chunk_size"`
}

type ExtractConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

type AuthConfig struct {
	Token string `yaml:"token"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Artifacts   ArtifactsConfig `yaml:"artifacts"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Extract     ExtractConfig   `yaml:"extract"`
	Auth        AuthConfig      `yaml:"auth"`
}

// Voices and models accepted by the hosted synthesis endpoint. Out-of-range
// values are rejected at the boundary instead of reaching the pipeline.
var (
	AllowedVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
	AllowedModels = []string{"tts-1", "tts-1-hd", "gpt-4o-mini-tts"}
)

// MaxChunkSize is the hosted endpoint's per-request input ceiling.
const MaxChunkSize = 4096

func Default() Config {
	return Config{
		RuntimeName: "lector-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/lector.db",
		},
		Artifacts: ArtifactsConfig{
			Dir: "./data/audio",
		},
		Synthesis: SynthesisConfig{
			Mode:      "mock",
			Voice:     "nova",
			Model:     "gpt-4o-mini-tts",
			ChunkSize: 4000,
		},
		Extract: ExtractConfig{
			TimeoutMS: 15000,
		},
		Auth: AuthConfig{
			Token: "",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LECTOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LECTOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LECTOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LECTOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LECTOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LECTOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LECTOR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "LECTOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LECTOR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LECTOR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LECTOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LECTOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LECTOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LECTOR_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "LECTOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LECTOR_STORE_PATH")
	overrideString(&cfg.Artifacts.Dir, "LECTOR_ARTIFACTS_DIR")
	overrideString(&cfg.Synthesis.Mode, "LECTOR_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.Synthesis.APIKey, "LECTOR_SYNTHESIS_API_KEY")
	overrideString(&cfg.Synthesis.Command, "LECTOR_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Voice, "LECTOR_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Model, "LECTOR_SYNTHESIS_MODEL")
	overrideInt(&cfg.Synthesis.ChunkSize, "LECTOR_SYNTHESIS_CHUNK_SIZE")
	overrideInt(&cfg.Extract.TimeoutMS, "LECTOR_EXTRACT_TIMEOUT_MS")
	overrideString(&cfg.Auth.Token, "LECTOR_AUTH_TOKEN")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Artifacts.Dir == "" {
		return errors.New("artifacts.dir must not be empty")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "openai", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|openai|exec")
	}
	if cfg.Synthesis.Mode == "openai" && cfg.Synthesis.APIKey == "" {
		return errors.New("synthesis.api_key must be set when mode=openai")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if !contains(AllowedVoices, cfg.Synthesis.Voice) {
		return fmt.Errorf("synthesis.voice must be one of %s", strings.Join(AllowedVoices, "|"))
	}
	if !contains(AllowedModels, cfg.Synthesis.Model) {
		return fmt.Errorf("synthesis.model must be one of %s", strings.Join(AllowedModels, "|"))
	}
	if cfg.Synthesis.ChunkSize <= 0 || cfg.Synthesis.ChunkSize > MaxChunkSize {
		return fmt.Errorf("synthesis.chunk_size must be between 1 and %d", MaxChunkSize)
	}
	if cfg.Extract.TimeoutMS <= 0 {
		return errors.New("extract.timeout_ms must be positive")
	}
	return nil
}
