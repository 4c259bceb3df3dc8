package config

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Watermark backends.
const (
	WatermarkBackendFile = "file"
	WatermarkBackendLog  = "log"
	WatermarkBackendBolt = "bolt"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Service   ServiceConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Watermark WatermarkConfig
	Load      LoadConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration for the serve command.
type ServerConfig struct {
	Port string `env:"PORT" validate:"required"`
	Env  string `env:"ENV" validate:"required"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	File  string `env:"LOG_FILE"`
}

// ServiceConfig describes the remote feature service layer.
type ServiceConfig struct {
	URL              string        `env:"ARCGIS_SERVICE_URL" validate:"required,url"`
	LayerID          int           `env:"ARCGIS_LAYER_ID" validate:"min=0"`
	Where            string        `env:"QUERY_WHERE" validate:"required"`
	IncrementalField string        `env:"INCREMENTAL_FIELD" validate:"required"`
	OutFields        string        `env:"OUT_FIELDS" validate:"required"`
	BatchSize        int           `env:"FETCH_BATCH_SIZE" validate:"min=1,max=10000"`
	Timeout          time.Duration `env:"HTTP_TIMEOUT" validate:"min=0"`
}

// QueryURL returns the layer query endpoint.
func (s ServiceConfig) QueryURL() string {
	return fmt.Sprintf("%s/%d/query", strings.TrimRight(s.URL, "/"), s.LayerID)
}

// AuthConfig holds identity endpoint credentials. All fields are optional;
// a missing value only means requests are sent without a token.
type AuthConfig struct {
	URL        string        `env:"ARCGIS_PORTAL_URL" validate:"omitempty,url"`
	Username   string        `env:"ARCGIS_USERNAME"`
	Password   string        `env:"ARCGIS_PASSWORD"`
	Expiration time.Duration `env:"TOKEN_EXPIRATION" validate:"min=0"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
// URL wins over the individual parts when both are set.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT"`
	Name     string `env:"DB_NAME"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSLMODE"`
	Table    string `env:"TABLE_NAME" validate:"required"`
	SRID     int    `env:"SRID" validate:"min=1"`
	PoolMin  int    `env:"DB_POOL_MIN" validate:"min=0,ltefield=PoolMax"`
	PoolMax  int    `env:"DB_POOL_MAX" validate:"min=1"`
}

// Configured reports whether enough information is present to connect.
func (d DatabaseConfig) Configured() bool {
	return d.URL != "" || d.Host != ""
}

// DSN assembles a pgx connection string. SQLAlchemy style schemes such as
// postgresql+psycopg2:// are reduced to postgresql://.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		scheme, rest, found := strings.Cut(d.URL, "://")
		if !found {
			return d.URL
		}
		if base, _, hasDriver := strings.Cut(scheme, "+"); hasDriver {
			scheme = base
		}
		return scheme + "://" + rest
	}

	port := d.Port
	if port == "" {
		port = "5432"
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

// WatermarkConfig selects where the watermark is persisted.
type WatermarkConfig struct {
	Backend string `env:"WATERMARK_BACKEND" validate:"oneof=file log bolt"`
	Path    string `env:"WATERMARK_PATH" validate:"required"`
}

// LoadConfig holds orchestration switches.
type LoadConfig struct {
	FullLoadRespectsWatermark bool     `env:"FULL_LOAD_RESPECTS_WATERMARK"`
	DefaultSinks              []string `env:"DEFAULT_SINKS"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string `env:"CORS_ORIGINS" validate:"required,min=1"`
}

// Load reads configuration from a .env file (if present) and environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	// A missing .env is fine; real environment variables still apply
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_FILE", "logs/etl_log.txt")
	v.SetDefault("ARCGIS_LAYER_ID", 0)
	v.SetDefault("QUERY_WHERE", "1=1")
	v.SetDefault("INCREMENTAL_FIELD", "FID")
	v.SetDefault("OUT_FIELDS", "*")
	v.SetDefault("FETCH_BATCH_SIZE", 2000)
	v.SetDefault("HTTP_TIMEOUT", 60*time.Second)
	v.SetDefault("TOKEN_EXPIRATION", 60*time.Minute)
	v.SetDefault("TABLE_NAME", "features")
	v.SetDefault("SRID", 4326)
	v.SetDefault("DB_POOL_MIN", 1)
	v.SetDefault("DB_POOL_MAX", 4)
	v.SetDefault("WATERMARK_BACKEND", WatermarkBackendFile)
	v.SetDefault("FULL_LOAD_RESPECTS_WATERMARK", false)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Credential variables keep the names used by earlier deployments as fallbacks
	_ = v.BindEnv("ARCGIS_PORTAL_URL", "ARCGIS_PORTAL_URL", "URL")
	_ = v.BindEnv("ARCGIS_USERNAME", "ARCGIS_USERNAME", "USER_NAME")
	_ = v.BindEnv("ARCGIS_PASSWORD", "ARCGIS_PASSWORD", "PASSWORD")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Log: LogConfig{
			Level: strings.ToLower(v.GetString("LOG_LEVEL")),
			File:  v.GetString("LOG_FILE"),
		},
		Service: ServiceConfig{
			URL:              v.GetString("ARCGIS_SERVICE_URL"),
			LayerID:          v.GetInt("ARCGIS_LAYER_ID"),
			Where:            v.GetString("QUERY_WHERE"),
			IncrementalField: v.GetString("INCREMENTAL_FIELD"),
			OutFields:        v.GetString("OUT_FIELDS"),
			BatchSize:        v.GetInt("FETCH_BATCH_SIZE"),
			Timeout:          v.GetDuration("HTTP_TIMEOUT"),
		},
		Auth: AuthConfig{
			URL:        v.GetString("ARCGIS_PORTAL_URL"),
			Username:   v.GetString("ARCGIS_USERNAME"),
			Password:   v.GetString("ARCGIS_PASSWORD"),
			Expiration: v.GetDuration("TOKEN_EXPIRATION"),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			Table:    v.GetString("TABLE_NAME"),
			SRID:     v.GetInt("SRID"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		Watermark: WatermarkConfig{
			Backend: strings.ToLower(v.GetString("WATERMARK_BACKEND")),
			Path:    v.GetString("WATERMARK_PATH"),
		},
		Load: LoadConfig{
			FullLoadRespectsWatermark: v.GetBool("FULL_LOAD_RESPECTS_WATERMARK"),
			DefaultSinks:              splitList(v.GetString("DEFAULT_SINKS")),
		},
		CORS: CORSConfig{
			Origins: splitList(v.GetString("CORS_ORIGINS")),
		},
	}

	if cfg.Watermark.Path == "" {
		cfg.Watermark.Path = defaultWatermarkPath(cfg.Watermark.Backend, cfg.Log.File)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
// Messages name the environment variable at fault.
func (c *Config) Validate() error {
	validate, trans := newValidator()

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	translated := validationErrors.Translate(trans)
	messages := make([]string, 0, len(translated))
	for _, msg := range translated {
		messages = append(messages, msg)
	}
	sort.Strings(messages)

	return fmt.Errorf("%s", strings.Join(messages, "; "))
}

// newValidator builds a validator whose field names are the env tags,
// with English messages registered through universal-translator.
func newValidator() (*validator.Validate, ut.Translator) {
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := field.Tag.Get("env")
		if name == "" {
			return field.Name
		}
		return name
	})
	_ = entranslations.RegisterDefaultTranslations(validate, trans)

	return validate, trans
}

func defaultWatermarkPath(backend, logFile string) string {
	switch backend {
	case WatermarkBackendLog:
		return logFile
	case WatermarkBackendBolt:
		return "state/watermark.db"
	default:
		return "state/watermark.json"
	}
}

// splitList splits a comma-separated string into a trimmed slice.
func splitList(value string) []string {
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
