package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendSQLite
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/reunite/data/db/items.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/reunite/data/indices/bleve"
	}
	if cfg.Embedding.ImageModelPath == "" {
		cfg.Embedding.ImageModelPath = "/usr/local/var/reunite/data/models/clip-vit-b32-vision.onnx"
	}
	if cfg.Embedding.TextModelPath == "" {
		cfg.Embedding.TextModelPath = "/usr/local/var/reunite/data/models/clip-vit-b32-text.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.ContextLength == 0 {
		cfg.Embedding.ContextLength = 77
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 4096
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = ProviderGemini
	}
	if cfg.Oracle.APIKeyEnv == "" {
		cfg.Oracle.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Oracle.GateModel == "" {
		cfg.Oracle.GateModel = "gemini-2.0-flash"
	}
	if cfg.Oracle.AdjudicatorModel == "" {
		cfg.Oracle.AdjudicatorModel = "gemini-2.0-flash"
	}
	if cfg.Oracle.AgentModel == "" {
		cfg.Oracle.AgentModel = "gemini-2.0-flash"
	}
	if cfg.Oracle.VisionModel == "" {
		cfg.Oracle.VisionModel = "gemini-2.5-flash"
	}
	if cfg.Oracle.RequestsPerSecond == 0 {
		cfg.Oracle.RequestsPerSecond = 5
	}
	if cfg.Fetch.TimeoutSeconds == 0 {
		cfg.Fetch.TimeoutSeconds = 20
	}
	if cfg.Fetch.ObjectStore.AccessKeyEnv == "" {
		cfg.Fetch.ObjectStore.AccessKeyEnv = "S3_ACCESS_KEY"
	}
	if cfg.Fetch.ObjectStore.SecretKeyEnv == "" {
		cfg.Fetch.ObjectStore.SecretKeyEnv = "S3_SECRET_KEY"
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 6
	}
	if cfg.Agent.TargetWidth == 0 {
		cfg.Agent.TargetWidth = 1600
	}
}
