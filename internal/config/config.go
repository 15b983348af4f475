package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/conftool-helper/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Reviewers ReviewersConfig `yaml:"reviewers" mapstructure:"reviewers"`
	Prompts   PromptsConfig   `yaml:"prompts" mapstructure:"prompts"`
	Oracle    OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the conference exports and the generated files.
type DataConfig struct {
	InputDir  string `yaml:"input_dir" mapstructure:"input_dir"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// ReviewersConfig configures the mandatory reviewer step. File names are
// resolved against the data directories unless absolute.
type ReviewersConfig struct {
	RawFile          string `yaml:"raw_file" mapstructure:"raw_file"`
	UsersFile        string `yaml:"users_file" mapstructure:"users_file"`
	SubmissionsFile  string `yaml:"submissions_file" mapstructure:"submissions_file"`
	RosterFile       string `yaml:"roster_file" mapstructure:"roster_file"`
	PaperIDColumn    string `yaml:"paper_id_column" mapstructure:"paper_id_column"`
	EmailColumn      string `yaml:"email_column" mapstructure:"email_column"`
	ParsedFile       string `yaml:"parsed_file" mapstructure:"parsed_file"`
	FailedFile       string `yaml:"failed_file" mapstructure:"failed_file"`
	ReconciledFile   string `yaml:"reconciled_file" mapstructure:"reconciled_file"`
	FinalFile        string `yaml:"final_file" mapstructure:"final_file"`
	ConversationsDir string `yaml:"conversations_dir" mapstructure:"conversations_dir"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoffMS   int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// PromptsConfig points at the prompt templates.
type PromptsConfig struct {
	SystemFile string `yaml:"system_file" mapstructure:"system_file"`
	UserFile   string `yaml:"user_file" mapstructure:"user_file"`
}

// OracleConfig selects the LLM provider.
type OracleConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheSystem bool   `yaml:"cache_system" mapstructure:"cache_system"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int32  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PricingConfig holds per-provider pricing rates. Entries override the
// built-in rates model by model. They are lists because model ids may contain
// dots, which viper treats as key separators.
type PricingConfig struct {
	Anthropic []ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    []ModelPricing `yaml:"gemini" mapstructure:"gemini"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Model         string  `yaml:"model" mapstructure:"model"`
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Provider and ledger driver names.
const (
	ProviderAnthropic = cost.ProviderAnthropic
	ProviderGemini    = cost.ProviderGemini

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// envFiles are loaded before the environment is read. Variables already set
// are never overridden, so .env.local takes precedence over .env.
var envFiles = []string{".env.local", ".env"}

// Load reads configuration from config.yaml, environment variables and
// defaults.
func Load() (*Config, error) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONFTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are also accepted under their conventional names.
	if err := v.BindEnv("anthropic.key", "CONFTOOL_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}
	if err := v.BindEnv("gemini.key", "CONFTOOL_GEMINI_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind gemini key")
	}

	// Defaults
	v.SetDefault("data.input_dir", "../conftool_data")
	v.SetDefault("data.output_dir", "../conftool_data/output")
	v.SetDefault("reviewers.raw_file", "mandatory_reviewers.csv")
	v.SetDefault("reviewers.users_file", "users_all.csv")
	v.SetDefault("reviewers.submissions_file", "submissions.csv")
	v.SetDefault("reviewers.roster_file", "tpc_members.csv")
	v.SetDefault("reviewers.paper_id_column", "paperID")
	v.SetDefault("reviewers.email_column", "email")
	v.SetDefault("reviewers.parsed_file", "mandatory_reviewers_parsed.csv")
	v.SetDefault("reviewers.failed_file", "mandatory_reviewers_failed.csv")
	v.SetDefault("reviewers.reconciled_file", "reviewers_all.csv")
	v.SetDefault("reviewers.final_file", "reviewers_new.csv")
	v.SetDefault("reviewers.conversations_dir", "conversations")
	v.SetDefault("reviewers.batch_size", 5)
	v.SetDefault("reviewers.max_attempts", 3)
	v.SetDefault("reviewers.retry_backoff_ms", 0)
	v.SetDefault("prompts.system_file", "prompts/system/mandatory_reviewer_parse.md")
	v.SetDefault("prompts.user_file", "prompts/user/mandatory_reviewer_batch.md")
	v.SetDefault("oracle.provider", ProviderAnthropic)
	v.SetDefault("oracle.requests_per_minute", 0)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.cache_system", true)
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.max_tokens", 4096)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "runs.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode "reviewers" covers the
// mandatory reviewer step; mode "runs" only needs the ledger. API keys are
// checked separately by ValidateCredentials.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "reviewers":
		if c.Reviewers.BatchSize <= 0 {
			errs = append(errs, "reviewers.batch_size must be > 0")
		}
		if c.Reviewers.MaxAttempts <= 0 {
			errs = append(errs, "reviewers.max_attempts must be > 0")
		}
		if c.Reviewers.RetryBackoffMS < 0 {
			errs = append(errs, "reviewers.retry_backoff_ms must be >= 0")
		}
		if c.Reviewers.PaperIDColumn == "" {
			errs = append(errs, "reviewers.paper_id_column is required")
		}
		if c.Oracle.RequestsPerMinute < 0 {
			errs = append(errs, "oracle.requests_per_minute must be >= 0")
		}
		switch c.Oracle.Provider {
		case ProviderAnthropic:
			if c.Anthropic.Model == "" {
				errs = append(errs, "anthropic.model is required")
			}
		case ProviderGemini:
			if c.Gemini.Model == "" {
				errs = append(errs, "gemini.model is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("oracle.provider %q is not supported", c.Oracle.Provider))
		}
		errs = append(errs, c.validateStore()...)
	case "runs":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateCredentials reports a missing API key for the configured provider.
// Runs that skip extraction never call it.
func (c *Config) ValidateCredentials() error {
	switch c.Oracle.Provider {
	case ProviderAnthropic:
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic.key is required")
		}
	case ProviderGemini:
		if c.Gemini.Key == "" {
			return eris.New("config: gemini.key is required")
		}
	default:
		return eris.Errorf("config: oracle.provider %q is not supported", c.Oracle.Provider)
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case DriverSQLite, DriverNone:
		return nil
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("store.driver %q is not supported", c.Store.Driver)}
	}
}

// InputPath resolves name against the input directory.
func (c *Config) InputPath(name string) string {
	return resolve(c.Data.InputDir, name)
}

// OutputPath resolves name against the output directory.
func (c *Config) OutputPath(name string) string {
	return resolve(c.Data.OutputDir, name)
}

func resolve(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Rates merges configured pricing over the built-in rates.
func (p PricingConfig) Rates() cost.Rates {
	rates := cost.DefaultRates()
	merge := func(dst map[string]cost.ModelRate, src []ModelPricing) {
		for _, mp := range src {
			dst[mp.Model] = cost.ModelRate{
				Input:         mp.Input,
				Output:        mp.Output,
				CacheWriteMul: mp.CacheWriteMul,
				CacheReadMul:  mp.CacheReadMul,
			}
		}
	}
	merge(rates.Anthropic, p.Anthropic)
	merge(rates.Gemini, p.Gemini)
	return rates
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
