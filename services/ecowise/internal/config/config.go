package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ecowise/internal/util"
)

// ConfigPath is used when ECOWISE_CONFIG is unset.
const ConfigPath = "config.yaml"

const (
	DefaultPort            = "5000"
	DefaultDatabaseURL     = "sqlite://ecowise.db"
	DefaultUploadDir       = "uploads"
	DefaultAnalysisURL     = "http://localhost:5001"
	DefaultAnalysisTimeout = 30 * time.Second
	DefaultMaxUploadBytes  = 10 << 20

	// Placeholder secrets keep local runs working. Production refuses them.
	InsecureJWTSecret   = "ecowise-dev-jwt-secret"
	InsecureAdminSecret = "ecowise-dev-admin-secret"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	Environment                string   `yaml:"environment"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	JWTSecret                  string   `yaml:"jwtSecret"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	AdminSecret                string   `yaml:"adminSecret"`
	AdminAllowQuerySecret      *bool    `yaml:"adminAllowQuerySecret"`
	BcryptCost                 int      `yaml:"bcryptCost"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	AdminRateLimitPerMinute    int      `yaml:"adminRateLimitPerMinute"`
	DetectRateLimitPerMinute   int      `yaml:"detectRateLimitPerMinute"`
	AnalysisURL                string   `yaml:"analysisURL"`
	AnalysisTimeout            string   `yaml:"analysisTimeout"`
	UploadDir                  string   `yaml:"uploadDir"`
	MaxUploadBytes             int64    `yaml:"maxUploadBytes"`
	AllowedExtensions          []string `yaml:"allowedExtensions"`
	MinioEndpoint              string   `yaml:"minioEndpoint"`
	MinioAccessKey             string   `yaml:"minioAccessKey"`
	MinioSecretKey             string   `yaml:"minioSecretKey"`
	MinioBucket                string   `yaml:"minioBucket"`
	MinioUseSSL                bool     `yaml:"minioUseSSL"`
}

// Load reads config from path, falling back to ECOWISE_CONFIG and then
// config.yaml. A missing file is not an error: defaults and environment apply.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("ECOWISE_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("ECOWISE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("ADMIN_SECRET"); v != "" {
		cfg.AdminSecret = v
	}
	if v := os.Getenv("ADMIN_ALLOW_QUERY_SECRET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AdminAllowQuerySecret = &b
		}
	}
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BcryptCost = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ADMIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AdminRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("DETECT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DetectRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ANALYSIS_URL"); v != "" {
		cfg.AnalysisURL = v
	}
	if v := os.Getenv("ANALYSIS_TIMEOUT"); v != "" {
		cfg.AnalysisTimeout = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
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
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		cfg.DatabaseURL = DefaultDatabaseURL
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		cfg.JWTSecret = InsecureJWTSecret
	}
	if strings.TrimSpace(cfg.AdminSecret) == "" {
		cfg.AdminSecret = InsecureAdminSecret
	}
	if cfg.AdminAllowQuerySecret == nil {
		allow := true
		cfg.AdminAllowQuerySecret = &allow
	}
	if strings.TrimSpace(cfg.AnalysisURL) == "" {
		cfg.AnalysisURL = DefaultAnalysisURL
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		cfg.UploadDir = DefaultUploadDir
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}
	}
}

func validateConfig(cfg FileConfig) error {
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return fmt.Errorf("config: port %q is not a number", cfg.Port)
	}
	if cfg.BcryptCost != 0 && (cfg.BcryptCost < 4 || cfg.BcryptCost > 31) {
		return errors.New("config: bcryptCost must be between 4 and 31")
	}
	if _, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs); err != nil {
		return fmt.Errorf("config: trustedProxyCidrs: %w", err)
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.AdminRateLimitPerMinute < 0 || cfg.DetectRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseAnalysisTimeout(cfg.AnalysisTimeout); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioEndpoint requires minioBucket, minioAccessKey and minioSecretKey")
	}
	if cfg.IsProduction() {
		if cfg.JWTSecret == InsecureJWTSecret {
			return errors.New("config: jwtSecret must be set in production (JWT_SECRET)")
		}
		if cfg.AdminSecret == InsecureAdminSecret {
			return errors.New("config: adminSecret must be set in production (ADMIN_SECRET)")
		}
		if strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
			return errors.New("config: production requires a postgres databaseURL")
		}
	}
	return nil
}

// IsProduction reports whether the production safety checks apply.
func (c FileConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// AllowQuerySecret reports whether admin_secret may be passed in the query string.
func (c FileConfig) AllowQuerySecret() bool {
	return c.AdminAllowQuerySecret == nil || *c.AdminAllowQuerySecret
}

// Warnings lists insecure settings that are tolerated outside production.
func (c FileConfig) Warnings() []string {
	var out []string
	if c.JWTSecret == InsecureJWTSecret {
		out = append(out, "jwtSecret uses the built-in development value")
	}
	if c.AdminSecret == InsecureAdminSecret {
		out = append(out, "adminSecret uses the built-in development value")
	}
	if c.AllowQuerySecret() {
		out = append(out, "admin secret is accepted in the query string")
	}
	return out
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur < 0 {
		return 0, errors.New("invalid sessionTTL duration: negative")
	}
	return dur, nil
}

// ParseAnalysisTimeout parses the analysis request timeout, defaulting to 30s.
func ParseAnalysisTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultAnalysisTimeout, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid analysisTimeout duration: %w", err)
	}
	if dur <= 0 {
		return DefaultAnalysisTimeout, nil
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
