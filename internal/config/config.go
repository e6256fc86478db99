package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ink2md/internal/logger"
)

// DefaultOutputPattern names output files after the date and the input name.
const DefaultOutputPattern = "YYYY-MM-DD-[OriginalFileName].md"

type Config struct {
	// Storage
	DBPath    string
	InputDir  string // Spooled inputs, kept for retries
	OutputDir string // Empty disables writing markdown files

	// Output naming
	OutputPattern string

	// Retry policy
	MaxRetries       int
	RetryBackoffCap  int           // Backoff ceiling in units
	RetryBackoffUnit time.Duration // Length of one backoff unit

	// Progress
	ProgressRetention time.Duration

	// Active services
	VLMProviderID        string
	FormattingProviderID string
	HTRProviderID        string

	// Processing policy
	VLMMinPageRatio float64 // 0 means a single successful page is enough
	PageRenderScale float64

	// Files
	ProvidersFile       string
	PromptTemplatesFile string

	// Provider definitions, placeholders already substituted
	Providers map[string]ProviderConfig

	// Google Sheets export
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Batch
	BatchWorkers int

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// ProviderConfig is one entry of the providers file.
type ProviderConfig struct {
	Type              string   `yaml:"type"`
	Name              string   `yaml:"name"`
	Enabled           *bool    `yaml:"enabled"`
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"api_key"`
	Model             string   `yaml:"model"`
	Capabilities      []string `yaml:"capabilities"`
	TimeoutSeconds    int      `yaml:"timeout"`
	MaxTokens         int      `yaml:"max_tokens"`
	Temperature       *float64 `yaml:"temperature"`
	Project           string   `yaml:"project"`
	Location          string   `yaml:"location"`
	ProcessorID       string   `yaml:"processor_id"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

// IsEnabled treats a missing enabled flag as true.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ProvidersDocument is the decoded providers file.
type ProvidersDocument struct {
	ActiveServices struct {
		VLM        string `yaml:"vlm"`
		Formatting string `yaml:"formatting"`
		HTR        string `yaml:"htr"`
	} `yaml:"active_services"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

func Load() (*Config, error) {
	config := &Config{
		DBPath:               getEnv("DB_PATH", "data/history.db"),
		InputDir:             getEnv("INPUT_DIR", "data/inputs"),
		OutputDir:            getEnv("OUTPUT_DIR", "data/output"),
		OutputPattern:        getEnv("OUTPUT_PATTERN", DefaultOutputPattern),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		RetryBackoffCap:      getEnvInt("RETRY_BACKOFF_CAP", 60),
		RetryBackoffUnit:     getEnvDuration("RETRY_BACKOFF_UNIT", time.Second),
		ProgressRetention:    getEnvDuration("PROGRESS_RETENTION", 5*time.Second),
		VLMProviderID:        getEnv("VLM_PROVIDER_ID", ""),
		FormattingProviderID: getEnv("FORMATTING_PROVIDER_ID", ""),
		HTRProviderID:        getEnv("HTR_PROVIDER_ID", ""),
		VLMMinPageRatio:      getEnvFloat("VLM_MIN_PAGE_RATIO", 0),
		PageRenderScale:      getEnvFloat("PAGE_RENDER_SCALE", 2.0),
		ProvidersFile:        getEnv("PROVIDERS_FILE", "config/providers.yaml"),
		PromptTemplatesFile:  getEnv("PROMPT_TEMPLATES_FILE", "config/prompt_templates.yaml"),
		GoogleSheetURL:       getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet: getEnv("GOOGLE_SHEET_WORKSHEET", "Conversions"),
		BatchWorkers:         getEnvInt("BATCH_WORKERS", 4),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:        getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:            getEnv("LOG_OUTPUT", "stderr"),
		Providers:            map[string]ProviderConfig{},
	}

	if err := config.loadProviders(); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadProviders reads the providers file, if present, and substitutes
// ${VAR} placeholders. This is the only place substitution happens.
func (c *Config) loadProviders() error {
	data, err := os.ReadFile(c.ProvidersFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read providers file %s: %w", c.ProvidersFile, err)
	}

	file, err := ParseProviders(data)
	if err != nil {
		return fmt.Errorf("parse providers file %s: %w", c.ProvidersFile, err)
	}

	c.Providers = file.Providers
	if c.VLMProviderID == "" {
		c.VLMProviderID = file.ActiveServices.VLM
	}
	if c.FormattingProviderID == "" {
		c.FormattingProviderID = file.ActiveServices.Formatting
	}
	if c.HTRProviderID == "" {
		c.HTRProviderID = file.ActiveServices.HTR
	}
	return nil
}

// ParseProviders decodes a providers document and resolves environment
// placeholders in every string field.
func ParseProviders(data []byte) (*ProvidersDocument, error) {
	var file ProvidersDocument
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	file.ActiveServices.VLM = ExpandPlaceholders(file.ActiveServices.VLM)
	file.ActiveServices.Formatting = ExpandPlaceholders(file.ActiveServices.Formatting)
	file.ActiveServices.HTR = ExpandPlaceholders(file.ActiveServices.HTR)

	resolved := make(map[string]ProviderConfig, len(file.Providers))
	for id, p := range file.Providers {
		p.Type = strings.ToLower(ExpandPlaceholders(p.Type))
		p.Name = ExpandPlaceholders(p.Name)
		p.BaseURL = ExpandPlaceholders(p.BaseURL)
		p.APIKey = ExpandPlaceholders(p.APIKey)
		p.Model = ExpandPlaceholders(p.Model)
		p.Project = ExpandPlaceholders(p.Project)
		p.Location = ExpandPlaceholders(p.Location)
		p.ProcessorID = ExpandPlaceholders(p.ProcessorID)
		resolved[id] = p
	}
	file.Providers = resolved
	return &file, nil
}

var placeholderPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// ExpandPlaceholders replaces ${VAR} with the value of VAR. Unset
// variables become empty strings so validation can reject them.
func ExpandPlaceholders(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(placeholderPattern.FindStringSubmatch(m)[1])
	})
}

func (c *Config) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if c.RetryBackoffCap <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_CAP must be positive")
	}
	if c.RetryBackoffUnit <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_UNIT must be positive")
	}
	if c.VLMMinPageRatio < 0 || c.VLMMinPageRatio > 1 {
		return fmt.Errorf("VLM_MIN_PAGE_RATIO must be between 0 and 1")
	}
	if c.PageRenderScale <= 0 {
		return fmt.Errorf("PAGE_RENDER_SCALE must be positive")
	}
	if strings.TrimSpace(c.OutputPattern) == "" {
		return fmt.Errorf("OUTPUT_PATTERN is required")
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
