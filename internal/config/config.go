package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ユーザーレジストリの保存先。
const (
	RegistryBackendSQLite   = "sqlite"
	RegistryBackendDynamoDB = "dynamodb"
)

// 監査ログの保存先。
const (
	AuditBackendSQLite = "sqlite"
	AuditBackendS3     = "s3"
)

// EnvConfigFile はYAML設定ファイルのパスを指定する環境変数名。
const EnvConfigFile = "RELAY_CONFIG"

// ErrInvalidConfig は設定値が不整合であることを示す。
var ErrInvalidConfig = errors.New("invalid config")

// Config はリレーサーバーの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `yaml:"port"`
	// Registry はユーザーレジストリの設定。
	Registry RegistryConfig `yaml:"registry"`
	// Audit は監査ログの設定。
	Audit AuditConfig `yaml:"audit"`
	// Stream は購読者接続の設定。
	Stream StreamConfig `yaml:"stream"`
	// CORSAllowedOrigins は許可するオリジン。"*"は全オリジンを許可する。
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// PublishRateLimit は通知投稿の毎秒許可数。0以下は無制限。
	PublishRateLimit float64 `yaml:"publish_rate_limit"`
	// PublishRateBurst は通知投稿のバースト許容数。
	PublishRateBurst int `yaml:"publish_rate_burst"`
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
}

// RegistryConfig はユーザーレジストリの保存先設定。
type RegistryConfig struct {
	Backend  string `yaml:"backend"`
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// AuditConfig は監査ログの保存先設定。
type AuditConfig struct {
	Backend         string        `yaml:"backend"`
	DSN             string        `yaml:"dsn"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// StreamConfig は購読者接続の設定。
type StreamConfig struct {
	// WriteTimeout は1フレームの書き込み上限時間。超過すると切断扱いになる。
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// KeepAlive はSSEのキープアライブコメントの送信間隔。
	KeepAlive time.Duration `yaml:"keepalive"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default は既定値の設定を返す。
func Default() Config {
	return Config{
		Port: "8080",
		Registry: RegistryConfig{
			Backend: RegistryBackendSQLite,
			DSN:     "pushrelay.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			Table:   "notification-users",
			Region:  "us-east-1",
		},
		Audit: AuditConfig{
			Backend:      AuditBackendSQLite,
			DSN:          "audit.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			Bucket:       "notification-logs",
			Region:       "us-east-1",
			WriteTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			WriteTimeout: 5 * time.Second,
			KeepAlive:    15 * time.Second,
		},
		CORSAllowedOrigins: []string{"*"},
		PublishRateBurst:   1,
		Log:                LogConfig{Level: "info"},
	}
}

// Load は既定値、YAMLファイル、環境変数の順に設定を組み立てて検証する。
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルのオープンに失敗: %w", err)
		}
		defer f.Close()
		if err := decodeStrict(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeStrict は未知のキーを拒否してYAMLをデコードする。
func decodeStrict(r io.Reader, out *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする。
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("REGISTRY_BACKEND", &cfg.Registry.Backend)
	str("REGISTRY_DSN", &cfg.Registry.DSN)
	str("REGISTRY_TABLE", &cfg.Registry.Table)
	str("DYNAMODB_ENDPOINT", &cfg.Registry.Endpoint)
	str("AUDIT_BACKEND", &cfg.Audit.Backend)
	str("AUDIT_DSN", &cfg.Audit.DSN)
	str("AUDIT_BUCKET", &cfg.Audit.Bucket)
	for _, key := range []string{"AWS_REGION", "REGION"} {
		str(key, &cfg.Audit.Region)
		str(key, &cfg.Registry.Region)
	}
	str("S3_ENDPOINT", &cfg.Audit.Endpoint)
	str("S3_ACCESS_KEY_ID", &cfg.Audit.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &cfg.Audit.SecretAccessKey)
	str("LOG_LEVEL", &cfg.Log.Level)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SSE_WRITE_TIMEOUT", &cfg.Stream.WriteTimeout},
		{"SSE_KEEPALIVE", &cfg.Stream.KeepAlive},
		{"AUDIT_WRITE_TIMEOUT", &cfg.Audit.WriteTimeout},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, d.key, v, err)
		}
		*d.dst = parsed
	}

	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for o := range strings.SplitSeq(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSAllowedOrigins = origins
	}
	if v, ok := lookup("PUBLISH_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: PUBLISH_RATE_LIMIT=%q: %w", ErrInvalidConfig, v, err)
		}
		cfg.PublishRateLimit = f
	}
	if v, ok := lookup("PUBLISH_RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PUBLISH_RATE_BURST=%q: %w", ErrInvalidConfig, v, err)
		}
		cfg.PublishRateBurst = n
	}
	if v, ok := lookup("LOG_DEVELOPMENT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: LOG_DEVELOPMENT=%q: %w", ErrInvalidConfig, v, err)
		}
		cfg.Log.Development = b
	}
	return nil
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	} else if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("port %q is not a valid port number", c.Port))
	}
	switch c.Registry.Backend {
	case RegistryBackendSQLite:
		if c.Registry.DSN == "" {
			errs = append(errs, errors.New("registry.dsn is required for the sqlite backend"))
		}
	case RegistryBackendDynamoDB:
		if c.Registry.Table == "" {
			errs = append(errs, errors.New("registry.table is required for the dynamodb backend"))
		}
		if c.Registry.Region == "" {
			errs = append(errs, errors.New("registry.region is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry backend %q", c.Registry.Backend))
	}

	switch c.Audit.Backend {
	case AuditBackendSQLite:
		if c.Audit.DSN == "" {
			errs = append(errs, errors.New("audit.dsn is required for the sqlite backend"))
		} else if c.Registry.Backend == RegistryBackendSQLite && c.Audit.DSN == c.Registry.DSN &&
			!strings.HasPrefix(c.Audit.DSN, ":memory:") {
			errs = append(errs, errors.New("audit.dsn must differ from registry.dsn"))
		}
	case AuditBackendS3:
		if c.Audit.Bucket == "" {
			errs = append(errs, errors.New("audit.bucket is required for the s3 backend"))
		}
		if c.Audit.Region == "" {
			errs = append(errs, errors.New("audit.region is required for the s3 backend"))
		}
		if (c.Audit.AccessKeyID == "") != (c.Audit.SecretAccessKey == "") {
			errs = append(errs, errors.New("audit.access_key_id and audit.secret_access_key must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit backend %q", c.Audit.Backend))
	}

	if c.Audit.WriteTimeout <= 0 {
		errs = append(errs, errors.New("audit.write_timeout must be positive"))
	}
	if c.Stream.WriteTimeout <= 0 {
		errs = append(errs, errors.New("stream.write_timeout must be positive"))
	}
	if c.Stream.KeepAlive <= 0 {
		errs = append(errs, errors.New("stream.keepalive must be positive"))
	}
	if c.PublishRateLimit > 0 && c.PublishRateBurst < 1 {
		errs = append(errs, errors.New("publish_rate_burst must be at least 1 when rate limiting is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Addr はHTTPサーバーのリッスンアドレスを返す。
func (c Config) Addr() string {
	return ":" + c.Port
}
