package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Notebook.Root == "" {
		cfg.Notebook.Root = "~/.kioku/notebook"
	}
	if cfg.Notebook.DailyFolder == "" {
		cfg.Notebook.DailyFolder = "daily"
	}
	if cfg.Notebook.Extensions == nil {
		cfg.Notebook.Extensions = []string{".md", ".markdown", ".txt", ".pdf", ".xlsx"}
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "~/.kioku/data/index.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "~/.kioku/data/bleve"
	}
	if cfg.Chunking.TargetSize == 0 {
		cfg.Chunking.TargetSize = 1600
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 320
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.HealthInterval == "" {
		cfg.Embedding.HealthInterval = "30s"
	}
	if cfg.Embedding.Ollama.URL == "" {
		cfg.Embedding.Ollama.URL = "http://localhost:11434"
	}
	if cfg.Embedding.Ollama.Model == "" {
		cfg.Embedding.Ollama.Model = "nomic-embed-text"
	}
	if cfg.Embedding.OpenAI.Model == "" {
		cfg.Embedding.OpenAI.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.ONNX.Dimensions == 0 {
		cfg.Embedding.ONNX.Dimensions = 384
	}
	if cfg.Embedding.ONNX.MaxTokens == 0 {
		cfg.Embedding.ONNX.MaxTokens = 256
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 15
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.MinScore == nil {
		minScore := 0.25
		cfg.Search.MinScore = &minScore
	}
	if cfg.Search.RRFK == 0 {
		cfg.Search.RRFK = 60
	}
	if cfg.Search.CandidateLimit == 0 {
		cfg.Search.CandidateLimit = 50
	}
	if cfg.Search.SnippetMaxLength == 0 {
		cfg.Search.SnippetMaxLength = 400
	}
	if cfg.Search.HeadingBoost == 0 {
		cfg.Search.HeadingBoost = 2.0
	}
	if cfg.Search.VectorMinSimilarity == 0 {
		cfg.Search.VectorMinSimilarity = 0.2
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 1500
	}
}
