package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultLLMBaseURL     = "http://localhost:11434/v1"
	DefaultLLMModel       = "llama3.1"
	DefaultEmbeddingModel = "nomic-embed-text"

	DefaultRecallStrengthMin = 0.17
	DefaultRecallStrengthMax = 0.25
	DefaultProvenanceWindow  = 5

	DefaultStrengthFloor      = 0.2
	DefaultConfidenceFloor    = 0.3
	DefaultPruneMaxAccess     = 2
	DefaultStrengthHalfLife   = 30 * 24 * time.Hour
	DefaultConfidenceDecay    = 0.01 // per week since last validation
	DefaultStaleAfterDays     = 365
	DefaultEpisodeThreshold   = 5
	DefaultIdleHour           = 3
	DefaultMaintenanceDay     = time.Sunday
	DefaultEntityBatchLimit   = 50
	DefaultSummaryMinMemories = 3
	DefaultCompletionTimeout  = 30 * time.Second
	DefaultEmbeddingCacheTTL  = time.Hour

	DefaultBM25K1 = 1.5
	DefaultBM25B  = 0.75
	DefaultRRFK   = 60

	DefaultRecallLimit      = 10
	DefaultEpisodeExamples  = 3
	DefaultContextMaxTokens = 2000

	DefaultRuleMinSupport        = 3
	DefaultRuleSuccessRatio      = 0.7
	DefaultRuleOverrideRetire    = 3
	DefaultContradictionStrength = 0.5
)

// DefaultVolatileContexts lists fact domains prone to going stale.
var DefaultVolatileContexts = []string{
	"location", "employment", "relationship_status", "living_situation",
}

// DefaultTrackedDomains lists the contexts summarized during weekly maintenance.
var DefaultTrackedDomains = []string{
	"shopping", "travel", "dining", "events", "health", "finance",
}

// Config holds the full engine configuration.
type Config struct {
	DataDir string
	DBPath  string

	LogLevel string
	LogFile  string

	LLMBaseURL        string
	LLMAPIKey         string
	LLMModel          string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	SemanticEnabled   bool
	EmbeddingCacheTTL time.Duration

	RecallStrengthMin float64
	RecallStrengthMax float64
	ProvenanceWindow  int

	StrengthFloor         float64
	ConfidenceFloor       float64
	PruneMaxAccess        int
	StrengthHalfLife      time.Duration
	ConfidenceDecayWeekly float64
	StaleAfterDays        int
	VolatileContexts      []string
	ContradictionStrength float64

	EpisodeThreshold int
	IdleHour         int
	MaintenanceDay   time.Weekday

	EntityBatchLimit   int
	SummaryMinMemories int
	TrackedDomains     []string
	CompletionTimeout  time.Duration

	BM25K1 float64
	BM25B  float64
	RRFK   int

	RecallLimit      int
	EpisodeExamples  int
	ContextMaxTokens int

	RuleMinSupport    int
	RuleSuccessRatio  float64
	RuleOverrideLimit int
}

type fileConfig struct {
	Storage struct {
		DataDir string `toml:"data_dir"`
		DBPath  string `toml:"db_path"`
	} `toml:"storage"`
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
	LLM struct {
		BaseURL string `toml:"base_url"`
		APIKey  string `toml:"api_key"`
		Model   string `toml:"model"`
	} `toml:"llm"`
	Embedding struct {
		BaseURL string `toml:"base_url"`
		Model   string `toml:"model"`
		Enabled bool   `toml:"enabled"`
	} `toml:"embedding"`
	Lifecycle struct {
		RecallStrengthMin     float64 `toml:"recall_strength_min"`
		RecallStrengthMax     float64 `toml:"recall_strength_max"`
		StrengthFloor         float64 `toml:"strength_floor"`
		ConfidenceFloor       float64 `toml:"confidence_floor"`
		StaleAfterDays        int     `toml:"stale_after_days"`
		ContradictionStrength float64 `toml:"contradiction_strength"`
	} `toml:"lifecycle"`
	Reflection struct {
		EpisodeThreshold int `toml:"episode_threshold"`
		IdleHour         int `toml:"idle_hour"`
		MaintenanceDay   int `toml:"maintenance_day"`
		EntityBatchLimit int `toml:"entity_batch_limit"`
	} `toml:"reflection"`
	Recall struct {
		Limit     int     `toml:"limit"`
		MaxTokens int     `toml:"max_tokens"`
		BM25K1    float64 `toml:"bm25_k1"`
		BM25B     float64 `toml:"bm25_b"`
		RRFK      int     `toml:"rrf_k"`
	} `toml:"recall"`
}

// Default returns a Config populated with package defaults.
func Default() *Config {
	return &Config{
		LogLevel:              "info",
		LLMBaseURL:            DefaultLLMBaseURL,
		LLMModel:              DefaultLLMModel,
		EmbeddingBaseURL:      DefaultLLMBaseURL,
		EmbeddingModel:        DefaultEmbeddingModel,
		EmbeddingCacheTTL:     DefaultEmbeddingCacheTTL,
		RecallStrengthMin:     DefaultRecallStrengthMin,
		RecallStrengthMax:     DefaultRecallStrengthMax,
		ProvenanceWindow:      DefaultProvenanceWindow,
		StrengthFloor:         DefaultStrengthFloor,
		ConfidenceFloor:       DefaultConfidenceFloor,
		PruneMaxAccess:        DefaultPruneMaxAccess,
		StrengthHalfLife:      DefaultStrengthHalfLife,
		ConfidenceDecayWeekly: DefaultConfidenceDecay,
		StaleAfterDays:        DefaultStaleAfterDays,
		VolatileContexts:      append([]string(nil), DefaultVolatileContexts...),
		ContradictionStrength: DefaultContradictionStrength,
		EpisodeThreshold:      DefaultEpisodeThreshold,
		IdleHour:              DefaultIdleHour,
		MaintenanceDay:        DefaultMaintenanceDay,
		EntityBatchLimit:      DefaultEntityBatchLimit,
		SummaryMinMemories:    DefaultSummaryMinMemories,
		TrackedDomains:        append([]string(nil), DefaultTrackedDomains...),
		CompletionTimeout:     DefaultCompletionTimeout,
		BM25K1:                DefaultBM25K1,
		BM25B:                 DefaultBM25B,
		RRFK:                  DefaultRRFK,
		RecallLimit:           DefaultRecallLimit,
		EpisodeExamples:       DefaultEpisodeExamples,
		ContextMaxTokens:      DefaultContextMaxTokens,
		RuleMinSupport:        DefaultRuleMinSupport,
		RuleSuccessRatio:      DefaultRuleSuccessRatio,
		RuleOverrideLimit:     DefaultRuleOverrideRetire,
	}
}

// Load reads configuration from the config file under dataDir (if present),
// applies environment overrides, and validates the result.
func Load(dataDir string) (*Config, error) {
	cfg := Default()

	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".mnemo")
	}
	cfg.DataDir = dataDir
	cfg.DBPath = filepath.Join(dataDir, "mnemo.sqlite3")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	configPath := filepath.Join(dataDir, "config.toml")
	if data, err := os.ReadFile(configPath); err == nil {
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
		applyFileConfig(cfg, &fc)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) {
	if fc.Storage.DataDir != "" {
		cfg.DataDir = fc.Storage.DataDir
	}
	if fc.Storage.DBPath != "" {
		cfg.DBPath = fc.Storage.DBPath
	}
	if fc.Logging.Level != "" {
		cfg.LogLevel = fc.Logging.Level
	}
	if fc.Logging.File != "" {
		cfg.LogFile = fc.Logging.File
	}
	if fc.LLM.BaseURL != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if fc.LLM.APIKey != "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}
	if fc.LLM.Model != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if fc.Embedding.BaseURL != "" {
		cfg.EmbeddingBaseURL = fc.Embedding.BaseURL
	}
	if fc.Embedding.Model != "" {
		cfg.EmbeddingModel = fc.Embedding.Model
	}
	cfg.SemanticEnabled = fc.Embedding.Enabled
	if fc.Lifecycle.RecallStrengthMin > 0 {
		cfg.RecallStrengthMin = fc.Lifecycle.RecallStrengthMin
	}
	if fc.Lifecycle.RecallStrengthMax > 0 {
		cfg.RecallStrengthMax = fc.Lifecycle.RecallStrengthMax
	}
	if fc.Lifecycle.StrengthFloor > 0 {
		cfg.StrengthFloor = fc.Lifecycle.StrengthFloor
	}
	if fc.Lifecycle.ConfidenceFloor > 0 {
		cfg.ConfidenceFloor = fc.Lifecycle.ConfidenceFloor
	}
	if fc.Lifecycle.StaleAfterDays > 0 {
		cfg.StaleAfterDays = fc.Lifecycle.StaleAfterDays
	}
	if fc.Lifecycle.ContradictionStrength > 0 {
		cfg.ContradictionStrength = fc.Lifecycle.ContradictionStrength
	}
	if fc.Reflection.EpisodeThreshold > 0 {
		cfg.EpisodeThreshold = fc.Reflection.EpisodeThreshold
	}
	if fc.Reflection.IdleHour > 0 {
		cfg.IdleHour = fc.Reflection.IdleHour
	}
	if fc.Reflection.MaintenanceDay > 0 {
		cfg.MaintenanceDay = time.Weekday(fc.Reflection.MaintenanceDay)
	}
	if fc.Reflection.EntityBatchLimit > 0 {
		cfg.EntityBatchLimit = fc.Reflection.EntityBatchLimit
	}
	if fc.Recall.Limit > 0 {
		cfg.RecallLimit = fc.Recall.Limit
	}
	if fc.Recall.MaxTokens > 0 {
		cfg.ContextMaxTokens = fc.Recall.MaxTokens
	}
	if fc.Recall.BM25K1 > 0 {
		cfg.BM25K1 = fc.Recall.BM25K1
	}
	if fc.Recall.BM25B > 0 {
		cfg.BM25B = fc.Recall.BM25B
	}
	if fc.Recall.RRFK > 0 {
		cfg.RRFK = fc.Recall.RRFK
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MNEMO_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("MNEMO_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("MNEMO_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("MNEMO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MNEMO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MNEMO_EPISODE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EpisodeThreshold = n
		}
	}
}

// Validate rejects structurally invalid configuration. These are programmer
// errors and fail fast at construction time.
func (c *Config) Validate() error {
	if c.RecallStrengthMin <= 0 || c.RecallStrengthMax > 1 || c.RecallStrengthMin > c.RecallStrengthMax {
		return fmt.Errorf("invalid recall strength band [%v, %v]", c.RecallStrengthMin, c.RecallStrengthMax)
	}
	if c.EpisodeThreshold <= 0 {
		return fmt.Errorf("episode threshold must be positive, got %d", c.EpisodeThreshold)
	}
	if c.IdleHour < 0 || c.IdleHour > 23 {
		return fmt.Errorf("idle hour must be in [0, 23], got %d", c.IdleHour)
	}
	if c.StaleAfterDays <= 0 {
		return fmt.Errorf("stale-after days must be positive, got %d", c.StaleAfterDays)
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf smoothing constant must be positive, got %d", c.RRFK)
	}
	if c.BM25K1 <= 0 || c.BM25B < 0 || c.BM25B > 1 {
		return fmt.Errorf("invalid bm25 parameters k1=%v b=%v", c.BM25K1, c.BM25B)
	}
	if c.EntityBatchLimit <= 0 {
		return fmt.Errorf("entity batch limit must be positive, got %d", c.EntityBatchLimit)
	}
	if c.ContradictionStrength <= 0 || c.ContradictionStrength > 1 {
		return fmt.Errorf("contradiction strength must be in (0, 1], got %v", c.ContradictionStrength)
	}
	return nil
}
