// Package config provides configuration loading and structs for the kioku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Notebook  NotebookConfig  `yaml:"notebook"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// NotebookConfig describes the notebook folder being indexed.
type NotebookConfig struct {
	Root        string   `yaml:"root"`
	DailyFolder string   `yaml:"daily_folder"`
	Extensions  []string `yaml:"extensions"`
}

// WatchConfig holds filesystem watch settings.
type WatchConfig struct {
	Enabled    *bool `yaml:"enabled"`
	DebounceMS int   `yaml:"debounce_ms"`
}

// EnabledOrDefault returns whether to watch the notebook; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and keyword index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// ChunkingConfig holds passage sizing in characters.
type ChunkingConfig struct {
	TargetSize int `yaml:"target_size"`
	Overlap    int `yaml:"overlap"`
}

// EmbeddingConfig selects and configures embedding plugins.
type EmbeddingConfig struct {
	// Plugin is the plugin id activated when none has been persisted yet.
	Plugin         string       `yaml:"plugin"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	CacheSize      int          `yaml:"cache_size"`
	HealthInterval string       `yaml:"health_interval"`
	Ollama         OllamaConfig `yaml:"ollama"`
	OpenAI         OpenAIConfig `yaml:"openai"`
	ONNX           ONNXConfig   `yaml:"onnx"`
}

// OllamaConfig configures the ollama plugin.
type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// OpenAIConfig configures the openai plugin. The key is normally read from OPENAI_API_KEY.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ONNXConfig configures the local onnx plugin.
type ONNXConfig struct {
	ModelPath string `yaml:"model_path"`
	// VocabPath is the model's WordPiece vocab.txt. Empty means vocab.txt next to the model.
	VocabPath  string `yaml:"vocab_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
}

// SearchConfig holds recall settings.
type SearchConfig struct {
	MaxResults int `yaml:"max_results"`
	MaxLimit   int `yaml:"max_limit"`
	// MinScore is the default fused score floor. Nil means the built-in 0.25.
	MinScore         *float64 `yaml:"min_score"`
	RRFK             int      `yaml:"rrf_k"`
	CandidateLimit   int      `yaml:"candidate_limit"`
	SnippetMaxLength int      `yaml:"snippet_max_length"`
	// HeadingBoost weights matches in a chunk's heading over its body text.
	HeadingBoost float64 `yaml:"heading_boost"`
	// Fuzziness is the keyword edit distance (0 disables fuzzy matching).
	Fuzziness int `yaml:"fuzziness"`
	// VectorMinSimilarity drops vector candidates below this cosine similarity
	// before fusion.
	VectorMinSimilarity float64 `yaml:"vector_min_similarity"`
}

// Load reads and parses the config file at path, loads a sibling .env file when present,
// expands paths, and applies defaults.
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

	configDir := filepath.Dir(path)
	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	applyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Notebook.Root = expandPath(cfg.Notebook.Root, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	if cfg.Embedding.ONNX.ModelPath != "" {
		cfg.Embedding.ONNX.ModelPath = expandPath(cfg.Embedding.ONNX.ModelPath, configDir)
	}
	if cfg.Embedding.ONNX.VocabPath != "" {
		cfg.Embedding.ONNX.VocabPath = expandPath(cfg.Embedding.ONNX.VocabPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnv overlays secrets and endpoints from the environment. Values in the yaml file win.
func applyEnv(cfg *Config) {
	if cfg.Embedding.OpenAI.APIKey == "" {
		cfg.Embedding.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.OpenAI.BaseURL == "" {
		cfg.Embedding.OpenAI.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.Embedding.Ollama.URL == "" {
		cfg.Embedding.Ollama.URL = os.Getenv("KIOKU_OLLAMA_URL")
	}
	if cfg.Notebook.Root == "" {
		cfg.Notebook.Root = os.Getenv("KIOKU_NOTEBOOK")
	}
}

// DefaultPath returns ~/.kioku/config.yaml, or a relative path when the home dir is unknown.
func DefaultPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".kioku", "config.yaml")
	}
	return filepath.Join(".kioku", "config.yaml")
}

// expandPath converts a path to absolute. "~/" is the home directory, paths starting
// with "./" are relative to configDir, other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return filepath.Join(home, path)
}
