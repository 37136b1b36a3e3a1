// Package config provides configuration loading and structs for the reunite server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Agent     AgentConfig     `yaml:"agent"`
	Prompts   PromptsConfig   `yaml:"prompts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RequestTimeoutSeconds bounds handler contexts. Zero disables the timeout.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// Storage backends.
const (
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// StorageConfig selects the item store backend and holds its settings.
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	DatabasePath     string `yaml:"database_path"`
	PostgresDSN      string `yaml:"postgres_dsn"`
	FirestoreProject string `yaml:"firestore_project"`
	CredentialsFile  string `yaml:"credentials_file"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig holds CLIP encoder settings.
type EmbeddingConfig struct {
	ImageModelPath  string `yaml:"image_model_path"`
	TextModelPath   string `yaml:"text_model_path"`
	TokenizerPath   string `yaml:"tokenizer_path"`
	ONNXLibraryPath string `yaml:"onnx_library_path"`
	Dimensions      int    `yaml:"dimensions"`
	ContextLength   int    `yaml:"context_length"`
	ImageSize       int    `yaml:"image_size"`
	CacheSize       int    `yaml:"cache_size"`
}

// Oracle providers.
const (
	ProviderGemini  = "gemini"
	ProviderOffline = "offline"
)

// OracleConfig holds language-model settings for the gate, agent and adjudicator.
type OracleConfig struct {
	Provider          string  `yaml:"provider"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	GateModel         string  `yaml:"gate_model"`
	AdjudicatorModel  string  `yaml:"adjudicator_model"`
	AgentModel        string  `yaml:"agent_model"`
	VisionModel       string  `yaml:"vision_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// APIKey resolves the key from the configured environment variable.
func (o *OracleConfig) APIKey() string {
	return os.Getenv(o.APIKeyEnv)
}

// FetchConfig holds image download settings.
type FetchConfig struct {
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	ObjectStore    ObjectStoreConfig `yaml:"object_store"`
}

// ObjectStoreConfig configures s3:// image URLs. Endpoint empty disables them.
type ObjectStoreConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// AgentConfig holds text extraction agent settings.
type AgentConfig struct {
	MaxTurns    int `yaml:"max_turns"`
	TargetWidth int `yaml:"target_width"`
}

// PromptsConfig points at an optional directory of prompt overrides.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.CredentialsFile = expandPath(cfg.Storage.CredentialsFile, configDir)
	cfg.Embedding.ImageModelPath = expandPath(cfg.Embedding.ImageModelPath, configDir)
	cfg.Embedding.TextModelPath = expandPath(cfg.Embedding.TextModelPath, configDir)
	cfg.Embedding.TokenizerPath = expandPath(cfg.Embedding.TokenizerPath, configDir)
	cfg.Prompts.Dir = expandPath(cfg.Prompts.Dir, configDir)

	return &cfg, nil
}

// Validate rejects settings that ApplyDefaults cannot repair.
func Validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	case BackendFirestore:
		if cfg.Storage.FirestoreProject == "" {
			return fmt.Errorf("storage.firestore_project is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	switch cfg.Oracle.Provider {
	case ProviderGemini, ProviderOffline:
	default:
		return fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
