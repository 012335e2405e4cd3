package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	LogsDir  string `yaml:"logsDir"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	ScreeningStream            string `yaml:"screeningStream"`
	ScreeningGroup             string `yaml:"screeningGroup"`
	ScreeningConcurrency       int    `yaml:"screeningConcurrency"`
	ScreeningMaxRetries        int    `yaml:"screeningMaxRetries"`
	ScreeningRetryDelaySeconds int    `yaml:"screeningRetryDelaySeconds"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpUrl"`
	AMQPExchange string `yaml:"amqpExchange"`

	PaymentServiceURL    string `yaml:"paymentServiceURL"`
	PaymentInternalToken string `yaml:"paymentInternalToken"`

	AssemblyAIAPIKey string `yaml:"assemblyAiApiKey"`
	PolishBaseURL    string `yaml:"polishBaseURL"`
	PolishAPIKey     string `yaml:"polishApiKey"`
	PolishModel      string `yaml:"polishModel"`

	AuthJWKSURL string `yaml:"authJwksUrl"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`

	TrustedProxies []string `yaml:"trustedProxies"`

	InternalJWTPrivateKeyPath   string `yaml:"internalJwtPrivateKeyPath"`
	InternalJWTPublicKeyPath    string `yaml:"internalJwtPublicKeyPath"`
	InternalJWTVerifyPublicKeys string `yaml:"internalJwtVerifyPublicKeys"`
	InternalJWTKeyID            string `yaml:"internalJwtKeyId"`

	PWERThreshold          float64 `yaml:"pwerThreshold"`
	LowConfidenceThreshold float64 `yaml:"lowConfidenceThreshold"`

	AssignGraceSeconds      int    `yaml:"assignGraceSeconds"`
	TrustedCustomer         string `yaml:"trustedCustomer"`
	RefundTriggerIssueCount int    `yaml:"refundTriggerIssueCount"`
	DeadlineExtensionHours  int    `yaml:"deadlineExtensionHours"`

	AcceptanceWindowPerHourMinutes int `yaml:"acceptanceWindowPerHourMinutes"`
	AcceptanceWindowMinimumMinutes int `yaml:"acceptanceWindowMinimumMinutes"`
	AcceptanceExtensionMinutes     int `yaml:"acceptanceExtensionMinutes"`

	BonusDailyRate       float64 `yaml:"bonusDailyRate"`
	BonusDailyMinHours   float64 `yaml:"bonusDailyMinHours"`
	BonusMonthlyRate     float64 `yaml:"bonusMonthlyRate"`
	BonusMonthlyMinHours float64 `yaml:"bonusMonthlyMinHours"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SCRIBE_SCREENING_STREAM"); v != "" {
		cfg.ScreeningStream = v
	}
	if v := os.Getenv("SCRIBE_SCREENING_GROUP"); v != "" {
		cfg.ScreeningGroup = v
	}
	if v := os.Getenv("SCRIBE_SCREENING_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScreeningConcurrency = n
		}
	}
	if v := os.Getenv("SCRIBE_SCREENING_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScreeningMaxRetries = n
		}
	}
	if v := os.Getenv("SCRIBE_SCREENING_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScreeningRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.AMQPExchange = v
	}
	if v := os.Getenv("PAYMENT_SERVICE_URL"); v != "" {
		cfg.PaymentServiceURL = v
	}
	if v := os.Getenv("PAYMENT_INTERNAL_TOKEN"); v != "" {
		cfg.PaymentInternalToken = v
	}
	if v := os.Getenv("ASSEMBLYAI_API_KEY"); v != "" {
		cfg.AssemblyAIAPIKey = v
	}
	if v := os.Getenv("SCRIBE_POLISH_BASE_URL"); v != "" {
		cfg.PolishBaseURL = v
	}
	if v := os.Getenv("SCRIBE_POLISH_API_KEY"); v != "" {
		cfg.PolishAPIKey = v
	}
	if v := os.Getenv("SCRIBE_POLISH_MODEL"); v != "" {
		cfg.PolishModel = v
	}
	if v := os.Getenv("SCRIBE_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("SCRIBE_JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("SCRIBE_JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("SCRIBE_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("SCRIBE_INTERNAL_JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.InternalJWTPrivateKeyPath = v
	}
	if v := os.Getenv("SCRIBE_INTERNAL_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.InternalJWTPublicKeyPath = v
	}
	if v := os.Getenv("SCRIBE_INTERNAL_JWT_VERIFY_PUBLIC_KEYS"); v != "" {
		cfg.InternalJWTVerifyPublicKeys = v
	}
	if v := os.Getenv("SCRIBE_INTERNAL_JWT_KEY_ID"); v != "" {
		cfg.InternalJWTKeyID = v
	}
	if v := os.Getenv("SCRIBE_PWER_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PWERThreshold = n
		}
	}
	if v := os.Getenv("SCRIBE_LOW_CONFIDENCE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LowConfidenceThreshold = n
		}
	}
	if v := os.Getenv("SCRIBE_ASSIGN_GRACE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AssignGraceSeconds = n
		}
	}
	if v := os.Getenv("SCRIBE_TRUSTED_CUSTOMER"); v != "" {
		cfg.TrustedCustomer = v
	}
	if v := os.Getenv("SCRIBE_REFUND_TRIGGER_ISSUE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefundTriggerIssueCount = n
		}
	}
	if v := os.Getenv("SCRIBE_DEADLINE_EXTENSION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DeadlineExtensionHours = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.ScreeningStream == "" {
		return errors.New("config: screeningStream is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml)")
	}
	if cfg.PaymentServiceURL == "" {
		return errors.New("config: paymentServiceURL is required (set in config.yaml or PAYMENT_SERVICE_URL)")
	}
	if strings.TrimSpace(cfg.InternalJWTPrivateKeyPath) == "" || strings.TrimSpace(cfg.InternalJWTPublicKeyPath) == "" {
		return errors.New("config: internal service auth requires SCRIBE_INTERNAL_JWT_PRIVATE_KEY_PATH + SCRIBE_INTERNAL_JWT_PUBLIC_KEY_PATH")
	}
	if cfg.PWERThreshold < 0 || cfg.PWERThreshold > 1 {
		return errors.New("config: pwerThreshold must be between 0 and 1")
	}
	if cfg.LowConfidenceThreshold < 0 || cfg.LowConfidenceThreshold > 1 {
		return errors.New("config: lowConfidenceThreshold must be between 0 and 1")
	}
	if cfg.AssignGraceSeconds < 0 {
		return errors.New("config: assignGraceSeconds must be >= 0")
	}
	if cfg.RefundTriggerIssueCount <= 0 {
		return errors.New("config: refundTriggerIssueCount must be > 0")
	}
	if cfg.DeadlineExtensionHours < 0 {
		return errors.New("config: deadlineExtensionHours must be >= 0")
	}
	if cfg.BonusDailyRate < 0 || cfg.BonusMonthlyRate < 0 {
		return errors.New("config: bonus rates must be >= 0")
	}
	return nil
}
