// Package config loads the orchestrator's configuration from a YAML file,
// applies environment variable overrides, and validates the result. The
// load/validate/env-override shape mirrors how the rest of this codebase's
// operational services are configured.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full, validated configuration for one orchestrator instance.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stage      StageConfig      `yaml:"stage"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Decision   DecisionConfig   `yaml:"decision"`
	Settlement SettlementConfig `yaml:"settlement"`
	ToolCost   ToolCostConfig   `yaml:"tool_cost"`
	LLM        LLMConfig        `yaml:"llm"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Payment    PaymentConfig    `yaml:"payment"`
}

type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

type StageConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (s StageConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type PipelineConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// DecisionConfig carries the six rule thresholds from §6.
type DecisionConfig struct {
	AutoApproveConfidence  float64 `yaml:"auto_approve_confidence"`
	AutoApproveFraudMax    float64 `yaml:"auto_approve_fraud_max"`
	FraudDetectedThreshold float64 `yaml:"fraud_detected_threshold"`
	ApprovedWithReviewMin  float64 `yaml:"approved_with_review_min"`
	NeedsReviewMin         float64 `yaml:"needs_review_min"`
	NeedsMoreDataMin       float64 `yaml:"needs_more_data_min"`
}

type SettlementConfig struct {
	Enabled        bool    `yaml:"enabled"`
	AmountCapSet   bool    `yaml:"-"`
	AmountCap      *string `yaml:"amount_cap"`
	ChainID        int64   `yaml:"chain_id"`
	EscrowAddress  string  `yaml:"escrow_address"`
	TokenAddress   string  `yaml:"token_address"`
	InsurerAddress string  `yaml:"insurer_address"`
	AutoSettleKey  string  `yaml:"-"` // set from AUTO_SETTLE_PRIVATE_KEY, never from file
	RPCURL         string  `yaml:"rpc_url"`
}

// DatabaseConfig configures the Postgres connection used by
// internal/store/postgres.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the claim lock cache in internal/lock.
type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// PaymentConfig configures the Paid-Call Gateway's receipt-token HMAC.
type PaymentConfig struct {
	ReceiptSecret string `yaml:"-"` // set from PAYMENT_RECEIPT_SECRET, never from file
}

// AmountCapDecimal parses the configured cap. A nil return means "unset"
// (no cap); a zero decimal means "disabled" per the Open Questions
// decision recorded in SPEC_FULL.md.
func (s SettlementConfig) AmountCapDecimal() (*decimal.Decimal, error) {
	if s.AmountCap == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s.AmountCap)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement.amount_cap: %w", err)
	}
	return &d, nil
}

type ToolCostConfig struct {
	VerifyDocument string `yaml:"verify_document"`
	VerifyImage    string `yaml:"verify_image"`
	VerifyFraud    string `yaml:"verify_fraud"`
}

func (t ToolCostConfig) decimalOrDefault(v, def string) decimal.Decimal {
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

func (t ToolCostConfig) VerifyDocumentCost() decimal.Decimal { return t.decimalOrDefault(t.VerifyDocument, "0.05") }
func (t ToolCostConfig) VerifyImageCost() decimal.Decimal    { return t.decimalOrDefault(t.VerifyImage, "0.10") }
func (t ToolCostConfig) VerifyFraudCost() decimal.Decimal    { return t.decimalOrDefault(t.VerifyFraud, "0.05") }

// LLMConfig selects and configures the inference client.
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	APIKey   string        `yaml:"-"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{HTTPPort: "8080", MetricsPort: "9090"},
		Stage:  StageConfig{TimeoutSeconds: 60},
		Pipeline: PipelineConfig{TimeoutSeconds: 600},
		Decision: DecisionConfig{
			AutoApproveConfidence:  0.95,
			AutoApproveFraudMax:    0.30,
			FraudDetectedThreshold: 0.70,
			ApprovedWithReviewMin:  0.85,
			NeedsReviewMin:         0.70,
			NeedsMoreDataMin:       0.50,
		},
		Settlement: SettlementConfig{Enabled: false},
		ToolCost: ToolCostConfig{
			VerifyDocument: "0.05",
			VerifyImage:    "0.10",
			VerifyFraud:    "0.05",
		},
		LLM: LLMConfig{
			Provider: "localai",
			Endpoint: "http://localhost:8080",
			Model:    "claim-analysis",
			Timeout:  30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{DSN: "postgres://localhost:5432/claimledger?sslmode=disable"},
		Redis:    RedisConfig{Addr: "localhost:6379", LockTTL: 30 * time.Second},
	}
}

// Load reads and validates a configuration file, applying environment
// overrides after the file is parsed.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SETTLEMENT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SETTLEMENT_ENABLED: %w", err)
		}
		cfg.Settlement.Enabled = b
	}
	if v := os.Getenv("AUTO_SETTLE_PRIVATE_KEY"); v != "" {
		cfg.Settlement.AutoSettleKey = v
	}
	if v := os.Getenv("SETTLEMENT_AMOUNT_CAP"); v != "" {
		cfg.Settlement.AmountCap = &v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PAYMENT_RECEIPT_SECRET"); v != "" {
		cfg.Payment.ReceiptSecret = v
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.LLM.Provider {
	case "localai", "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = "http://localhost:8080"
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model is required")
	}
	if cfg.Stage.TimeoutSeconds <= 0 {
		cfg.Stage.TimeoutSeconds = 60
	}
	if cfg.Pipeline.TimeoutSeconds <= 0 {
		cfg.Pipeline.TimeoutSeconds = 600
	}
	d := cfg.Decision
	for name, v := range map[string]float64{
		"auto_approve_confidence":  d.AutoApproveConfidence,
		"auto_approve_fraud_max":   d.AutoApproveFraudMax,
		"fraud_detected_threshold": d.FraudDetectedThreshold,
		"approved_with_review_min": d.ApprovedWithReviewMin,
		"needs_review_min":        d.NeedsReviewMin,
		"needs_more_data_min":     d.NeedsMoreDataMin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("decision.%s must be between 0.0 and 1.0", name)
		}
	}
	if cfg.Settlement.Enabled && cfg.Settlement.EscrowAddress == "" {
		return fmt.Errorf("settlement.escrow_address is required when settlement is enabled")
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.Payment.ReceiptSecret == "" {
		return fmt.Errorf("PAYMENT_RECEIPT_SECRET is required")
	}
	return nil
}
