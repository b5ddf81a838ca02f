package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed curation.yaml
var curationYAML []byte

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Embedding  EmbeddingConfig
	Database   DatabaseConfig
	Curation   CurationConfig
	LLM        LLMConfig
	PhotoPrism PhotoPrismConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	DataDir      string // root of per-album workspaces (defaults to ./data/albums)
	StageRunner  string // "exec" (child process per stage) or "inprocess"
	Workers      int    // per-image worker pool size for the dedupe stage
	ExportPrefix string // object store key prefix for curated uploads
	// AllowedOrigins are CORS origins besides localhost.
	AllowedOrigins []string
}

type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible stores (R2, MinIO)
	AccessKeyID     string
	SecretAccessKey string
	LocalDir        string // root used by the local store when S3 is not configured
	Mock            bool   // force the local store even if S3 credentials exist
	MaxAttempts     int    // download attempts for objects that are not visible yet
}

// S3Enabled reports whether the S3 store should be used instead of the local one.
func (c *StorageConfig) S3Enabled() bool {
	if c.Mock {
		return false
	}
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

type EmbeddingConfig struct {
	URL          string // defaults to http://localhost:8000
	ClusterModel string // model used for phase 1 k-means vectors
	StyleModel   string // model used for phase 2 mood/descriptor scoring
	BatchSize    int
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL, empty disables the shared embedding store
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type LLMConfig struct {
	Namer        string // "", "openai", "gemini" or "ollama"
	OpenAIToken  string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string
	OllamaURL    string
	OllamaModel  string
}

type PhotoPrismConfig struct {
	URL      string
	Username string
	Password string
}

// Enabled reports whether curated exports can be published to PhotoPrism.
func (c *PhotoPrismConfig) Enabled() bool {
	return c.URL != "" && c.Username != ""
}

// CurationConfig is the catalog of moods, prompts and default thresholds.
type CurationConfig struct {
	Moods         []Mood          `yaml:"moods"`
	MoodTemplates []string        `yaml:"mood_templates"`
	Descriptors   []Descriptor    `yaml:"descriptors"`
	Quality       QualityDefaults `yaml:"quality"`
	Dedup         DedupDefaults   `yaml:"dedup"`
	Tournament    TourneyDefaults `yaml:"tournament"`
}

type Mood struct {
	Name  string `yaml:"name"`
	Short string `yaml:"short"`
	Noun  string `yaml:"noun"`
}

type Descriptor struct {
	Label  string `yaml:"label"`
	Prompt string `yaml:"prompt"`
	Group  string `yaml:"group"`
}

type QualityDefaults struct {
	BlurThreshold         float64 `yaml:"blur_threshold"`
	UnderexposedThreshold float64 `yaml:"underexposed_threshold"`
	OverexposedThreshold  float64 `yaml:"overexposed_threshold"`
}

type DedupDefaults struct {
	PHashThreshold int      `yaml:"phash_threshold"`
	DHashThreshold *int     `yaml:"dhash_threshold"`
	WHashThreshold *int     `yaml:"whash_threshold"`
	SSIMThreshold  *float64 `yaml:"ssim_threshold"`
	HistThreshold  float64  `yaml:"hist_threshold"`
	UseHistogram   bool     `yaml:"use_histogram"`
}

type TourneyDefaults struct {
	MaxMatches         int `yaml:"max_matches"`
	MaxWarmupMatches   int `yaml:"max_warmup_matches"`
	MaxRepresentatives int `yaml:"max_representatives"`
}

// MoodNames returns the catalog mood names in canonical order.
func (c *CurationConfig) MoodNames() []string {
	names := make([]string, len(c.Moods))
	for i, m := range c.Moods {
		names[i] = m.Name
	}
	return names
}

// FindMood returns the catalog entry with the given name.
func (c *CurationConfig) FindMood(name string) (Mood, bool) {
	for _, m := range c.Moods {
		if m.Name == name {
			return m, true
		}
	}
	return Mood{}, false
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseCuration decodes a curation catalog and checks it is usable.
func ParseCuration(data []byte) (CurationConfig, error) {
	var c CurationConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return CurationConfig{}, fmt.Errorf("parse curation catalog: %w", err)
	}
	if len(c.Moods) == 0 {
		return CurationConfig{}, fmt.Errorf("curation catalog has no moods")
	}
	if len(c.MoodTemplates) == 0 {
		return CurationConfig{}, fmt.Errorf("curation catalog has no mood templates")
	}
	seen := make(map[string]bool, len(c.Moods))
	for _, m := range c.Moods {
		if m.Name == "" || m.Short == "" || m.Noun == "" {
			return CurationConfig{}, fmt.Errorf("curation mood %q is incomplete", m.Name)
		}
		if seen[m.Name] {
			return CurationConfig{}, fmt.Errorf("duplicate curation mood %q", m.Name)
		}
		seen[m.Name] = true
	}
	for _, t := range c.MoodTemplates {
		if !strings.Contains(t, "{tag}") {
			return CurationConfig{}, fmt.Errorf("mood template %q has no {tag} placeholder", t)
		}
	}
	return c, nil
}

// DefaultCuration returns the embedded curation catalog.
func DefaultCuration() CurationConfig {
	c, err := ParseCuration(curationYAML)
	if err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to load embedded curation.yaml: " + err.Error())
	}
	return c
}

func loadCuration() (CurationConfig, error) {
	path := os.Getenv("CURATION_CONFIG")
	if path == "" {
		return DefaultCuration(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CurationConfig{}, fmt.Errorf("read curation catalog: %w", err)
	}
	return ParseCuration(data)
}

func Load() (*Config, error) {
	curation, err := loadCuration()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Host:         envString("WEB_HOST", "0.0.0.0"),
			Port:         envInt("WEB_PORT", 8085),
			DataDir:      envString("DATA_DIR", "data/albums"),
			StageRunner:  envString("STAGE_RUNNER", "exec"),
			Workers:      envInt("DEDUPE_WORKERS", min(4, runtime.NumCPU())),
			ExportPrefix: envString("EXPORT_PREFIX", "albums"),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Storage: StorageConfig{
			Bucket:          os.Getenv("AWS_S3_BUCKET"),
			Region:          envString("AWS_DEFAULT_REGION", "us-east-1"),
			Endpoint:        os.Getenv("AWS_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			LocalDir:        envString("LOCAL_STORE_DIR", "data/uploads"),
			Mock:            envBool("MOCK_S3"),
			MaxAttempts:     envInt("S3_MAX_ATTEMPTS", 6),
		},
		Embedding: EmbeddingConfig{
			URL:          envString("EMBEDDING_URL", "http://localhost:8000"),
			ClusterModel: envString("EMBEDDING_CLUSTER_MODEL", "dinov2-small"),
			StyleModel:   envString("EMBEDDING_STYLE_MODEL", "clip-vit-b-32"),
			BatchSize:    envInt("EMBEDDING_BATCH_SIZE", 16),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Curation: curation,
		LLM: LLMConfig{
			Namer:        strings.ToLower(os.Getenv("CLUSTER_NAMER")),
			OpenAIToken:  os.Getenv("OPENAI_TOKEN"),
			OpenAIModel:  envString("OPENAI_MODEL", "gpt-4.1-mini"),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  envString("GEMINI_MODEL", "gemini-2.5-flash"),
			OllamaURL:    os.Getenv("OLLAMA_URL"),
			OllamaModel:  os.Getenv("OLLAMA_MODEL"),
		},
		PhotoPrism: PhotoPrismConfig{
			URL:      os.Getenv("PHOTOPRISM_URL"),
			Username: os.Getenv("PHOTOPRISM_USERNAME"),
			Password: os.Getenv("PHOTOPRISM_PASSWORD"),
		},
	}, nil
}
