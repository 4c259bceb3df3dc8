package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvVars = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FILE",
	"ARCGIS_SERVICE_URL", "ARCGIS_LAYER_ID", "QUERY_WHERE", "INCREMENTAL_FIELD",
	"OUT_FIELDS", "FETCH_BATCH_SIZE", "HTTP_TIMEOUT",
	"ARCGIS_PORTAL_URL", "URL", "ARCGIS_USERNAME", "USER_NAME", "ARCGIS_PASSWORD", "PASSWORD",
	"TOKEN_EXPIRATION",
	"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_SSLMODE",
	"TABLE_NAME", "SRID", "DB_POOL_MIN", "DB_POOL_MAX",
	"WATERMARK_BACKEND", "WATERMARK_PATH", "FULL_LOAD_RESPECTS_WATERMARK",
	"DEFAULT_SINKS", "CORS_ORIGINS",
}

// clearConfigEnvVars unsets every config variable for the duration of the test.
func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad_WithDefaults(t *testing.T) {
	clearConfigEnvVars(t)
	chdir(t, t.TempDir())
	t.Setenv("ARCGIS_SERVICE_URL", "https://services.example.com/arcgis/rest/services/Stores/FeatureServer")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "logs/etl_log.txt", cfg.Log.File)
	assert.Equal(t, 0, cfg.Service.LayerID)
	assert.Equal(t, "1=1", cfg.Service.Where)
	assert.Equal(t, "FID", cfg.Service.IncrementalField)
	assert.Equal(t, "*", cfg.Service.OutFields)
	assert.Equal(t, 2000, cfg.Service.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Service.Timeout)
	assert.Equal(t, 60*time.Minute, cfg.Auth.Expiration)
	assert.Equal(t, "features", cfg.Database.Table)
	assert.Equal(t, 4326, cfg.Database.SRID)
	assert.Equal(t, WatermarkBackendFile, cfg.Watermark.Backend)
	assert.Equal(t, "state/watermark.json", cfg.Watermark.Path)
	assert.False(t, cfg.Load.FullLoadRespectsWatermark)
	assert.Empty(t, cfg.Load.DefaultSinks)
	assert.False(t, cfg.Database.Configured())
	assert.Equal(t,
		"https://services.example.com/arcgis/rest/services/Stores/FeatureServer/0/query",
		cfg.Service.QueryURL())
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	clearConfigEnvVars(t)
	chdir(t, t.TempDir())
	t.Setenv("ARCGIS_SERVICE_URL", "https://services.example.com/FeatureServer/")
	t.Setenv("ARCGIS_LAYER_ID", "3")
	t.Setenv("FETCH_BATCH_SIZE", "500")
	t.Setenv("HTTP_TIMEOUT", "15s")
	t.Setenv("QUERY_WHERE", "VALIDATION_STATUS='1'")
	t.Setenv("URL", "https://portal.example.com")
	t.Setenv("USER_NAME", "collector")
	t.Setenv("PASSWORD", "secret")
	t.Setenv("DATABASE_URL", "postgresql+psycopg2://etl:pw@db:5432/gis")
	t.Setenv("TABLE_NAME", "stores")
	t.Setenv("WATERMARK_BACKEND", "log")
	t.Setenv("LOG_FILE", "run/etl.log")
	t.Setenv("FULL_LOAD_RESPECTS_WATERMARK", "true")
	t.Setenv("DEFAULT_SINKS", "csv:out/stores.csv, postgis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://services.example.com/FeatureServer/3/query", cfg.Service.QueryURL())
	assert.Equal(t, 500, cfg.Service.BatchSize)
	assert.Equal(t, 15*time.Second, cfg.Service.Timeout)
	assert.Equal(t, "VALIDATION_STATUS='1'", cfg.Service.Where)
	assert.Equal(t, "https://portal.example.com", cfg.Auth.URL)
	assert.Equal(t, "collector", cfg.Auth.Username)
	assert.Equal(t, "secret", cfg.Auth.Password)
	assert.Equal(t, "stores", cfg.Database.Table)
	assert.Equal(t, "postgresql://etl:pw@db:5432/gis", cfg.Database.DSN())
	assert.Equal(t, WatermarkBackendLog, cfg.Watermark.Backend)
	assert.Equal(t, "run/etl.log", cfg.Watermark.Path, "log backend shares the operational log")
	assert.True(t, cfg.Load.FullLoadRespectsWatermark)
	assert.Equal(t, []string{"csv:out/stores.csv", "postgis"}, cfg.Load.DefaultSinks)
}

func TestLoad_MissingServiceURL(t *testing.T) {
	clearConfigEnvVars(t)
	chdir(t, t.TempDir())

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCGIS_SERVICE_URL")
}

func TestLoad_MissingCredentialsIsNotAnError(t *testing.T) {
	clearConfigEnvVars(t)
	chdir(t, t.TempDir())
	t.Setenv("ARCGIS_SERVICE_URL", "https://services.example.com/FeatureServer")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.URL)
	assert.Empty(t, cfg.Auth.Username)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	clearConfigEnvVars(t)
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(".env",
		[]byte("ARCGIS_SERVICE_URL=https://dotenv.example.com/FeatureServer\nTABLE_NAME=from_dotenv\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("ARCGIS_SERVICE_URL")
		os.Unsetenv("TABLE_NAME")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example.com/FeatureServer", cfg.Service.URL)
	assert.Equal(t, "from_dotenv", cfg.Database.Table)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Service: ServiceConfig{
			URL:              "https://services.example.com/FeatureServer",
			Where:            "1=1",
			IncrementalField: "FID",
			OutFields:        "*",
			BatchSize:        2000,
		},
		Database:  DatabaseConfig{Table: "features", SRID: 4326, PoolMin: 1, PoolMax: 4},
		Watermark: WatermarkConfig{Backend: WatermarkBackendFile, Path: "state/watermark.json"},
		CORS:      CORSConfig{Origins: []string{"http://localhost:3000"}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "batch size zero", mutate: func(c *Config) { c.Service.BatchSize = 0 }, wantErr: "FETCH_BATCH_SIZE"},
		{name: "batch size too large", mutate: func(c *Config) { c.Service.BatchSize = 20000 }, wantErr: "FETCH_BATCH_SIZE"},
		{name: "bad service url", mutate: func(c *Config) { c.Service.URL = "not a url" }, wantErr: "ARCGIS_SERVICE_URL"},
		{name: "unknown backend", mutate: func(c *Config) { c.Watermark.Backend = "redis" }, wantErr: "WATERMARK_BACKEND"},
		{name: "pool min above max", mutate: func(c *Config) { c.Database.PoolMin = 9 }, wantErr: "DB_POOL_MIN"},
		{name: "zero pool max", mutate: func(c *Config) { c.Database.PoolMin, c.Database.PoolMax = 0, 0 }, wantErr: "DB_POOL_MAX"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "LOG_LEVEL"},
		{name: "missing CORS origins", mutate: func(c *Config) { c.CORS.Origins = []string{} }, wantErr: "CORS_ORIGINS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name:   "plain url",
			config: DatabaseConfig{URL: "postgres://u:p@localhost:5432/gis"},
			want:   "postgres://u:p@localhost:5432/gis",
		},
		{
			name:   "sqlalchemy driver suffix",
			config: DatabaseConfig{URL: "postgresql+psycopg2://u:p@localhost/gis"},
			want:   "postgresql://u:p@localhost/gis",
		},
		{
			name:   "assembled from parts",
			config: DatabaseConfig{Host: "db", Name: "gis", User: "etl", Password: "p@ss"},
			want:   "postgres://etl:p%40ss@db:5432/gis?sslmode=disable",
		},
		{
			name:   "explicit port and sslmode",
			config: DatabaseConfig{Host: "db", Port: "6543", Name: "gis", User: "etl", Password: "x", SSLMode: "require"},
			want:   "postgres://etl:x@db:6543/gis?sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
			assert.True(t, tt.config.Configured())
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{name: "single", input: "csv:a.csv", expect: []string{"csv:a.csv"}},
		{name: "multiple with spaces", input: " csv:a.csv , postgis ", expect: []string{"csv:a.csv", "postgis"}},
		{name: "empty string", input: "", expect: []string{}},
		{name: "only commas", input: ",,,", expect: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, splitList(tt.input))
		})
	}
}
