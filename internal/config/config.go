package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds application configuration.
type Config struct {
	HRRR       HRRR       `toml:"hrrr"`
	Source     S3         `toml:"source"`
	Archive    Archive    `toml:"archive"`
	Sink       Sink       `toml:"sink"`
	ClickHouse ClickHouse `toml:"clickhouse"`

	Wgrib2Path     string `toml:"wgrib2_path"`
	WorkDir        string `toml:"work_dir"`
	Workers        int    `toml:"workers"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	PushgatewayURL string `toml:"pushgateway_url"`
}

// HRRR locates the forecast files.
type HRRR struct {
	Bucket        string `toml:"bucket"`
	Domain        string `toml:"domain"`
	Product       string `toml:"product"`
	InitHour      int    `toml:"init_hour"`
	MaxHour       int    `toml:"max_hour"`
	RunSearchDays int    `toml:"run_search_days"`
}

// S3 is the object store the forecast files are read from. Empty keys mean
// anonymous access.
type S3 struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Archive is the optional MinIO store receiving raw copies of fetched files.
type Archive struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Enabled reports whether archiving is configured.
func (a Archive) Enabled() bool { return a.Endpoint != "" }

type Sink struct {
	Driver string `toml:"driver"` // sqlite, postgres or clickhouse
	DSN    string `toml:"dsn"`
}

type ClickHouse struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

type ErrInvalidEnvVar struct {
	Name  string
	Value string
}

func (e *ErrInvalidEnvVar) Error() string {
	return fmt.Sprintf("environment variable %q has invalid value %q", e.Name, e.Value)
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HRRR: HRRR{
			Bucket:        "noaa-hrrr-bdp-pds",
			Domain:        "conus",
			Product:       "wrfsfc",
			InitHour:      6,
			MaxHour:       48,
			RunSearchDays: 5,
		},
		Source: S3{
			Endpoint: "s3.amazonaws.com",
			Region:   "us-east-1",
			UseSSL:   true,
		},
		Sink: Sink{
			Driver: "sqlite",
			DSN:    "data.db",
		},
		ClickHouse: ClickHouse{
			Port:     "9000",
			User:     "default",
			Database: "default",
		},
		Workers:  4,
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, then the TOML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envString(&c.HRRR.Bucket, "HRRR_BUCKET")
	envString(&c.HRRR.Domain, "HRRR_DOMAIN")
	envString(&c.HRRR.Product, "HRRR_PRODUCT")
	envString(&c.Source.Endpoint, "S3_ENDPOINT")
	envString(&c.Source.Region, "S3_REGION")
	envString(&c.Source.AccessKey, "S3_ACCESS_KEY")
	envString(&c.Source.SecretKey, "S3_SECRET_KEY")
	envString(&c.Archive.Endpoint, "MINIO_ENDPOINT")
	envString(&c.Archive.AccessKey, "MINIO_ACCESS_KEY")
	envString(&c.Archive.SecretKey, "MINIO_SECRET_KEY")
	envString(&c.Archive.Bucket, "MINIO_BUCKET")
	envString(&c.Sink.Driver, "SINK_DRIVER")
	envString(&c.Sink.DSN, "SINK_DSN")
	envString(&c.ClickHouse.Host, "CLICKHOUSE_HOST")
	envString(&c.ClickHouse.Port, "CLICKHOUSE_PORT")
	envString(&c.ClickHouse.User, "CLICKHOUSE_USER")
	envString(&c.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	envString(&c.ClickHouse.Database, "CLICKHOUSE_DATABASE")
	envString(&c.Wgrib2Path, "WGRIB2_PATH")
	envString(&c.WorkDir, "WORK_DIR")
	envString(&c.LogLevel, "LOG_LEVEL")
	envString(&c.LogFormat, "LOG_FORMAT")
	envString(&c.PushgatewayURL, "PUSHGATEWAY_URL")

	ints := []struct {
		dst  *int
		name string
	}{
		{&c.HRRR.InitHour, "HRRR_INIT_HOUR"},
		{&c.HRRR.MaxHour, "HRRR_MAX_HOUR"},
		{&c.HRRR.RunSearchDays, "HRRR_RUN_SEARCH_DAYS"},
		{&c.Workers, "WORKERS"},
	}
	for _, v := range ints {
		if err := envInt(v.dst, v.name); err != nil {
			return err
		}
	}

	bools := []struct {
		dst  *bool
		name string
	}{
		{&c.Source.UseSSL, "S3_USE_SSL"},
		{&c.Archive.UseSSL, "MINIO_USE_SSL"},
	}
	for _, v := range bools {
		if err := envBool(v.dst, v.name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.HRRR.Bucket == "" {
		return &ErrMissingRequiredEnvVar{Name: "HRRR_BUCKET"}
	}
	if c.HRRR.InitHour < 0 || c.HRRR.InitHour > 23 {
		return fmt.Errorf("hrrr init hour must be within 0..23, got %d", c.HRRR.InitHour)
	}
	if c.HRRR.MaxHour < 0 {
		return fmt.Errorf("hrrr max hour must not be negative, got %d", c.HRRR.MaxHour)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}

	if c.Archive.Enabled() {
		required := []struct{ name, value string }{
			{"MINIO_ACCESS_KEY", c.Archive.AccessKey},
			{"MINIO_SECRET_KEY", c.Archive.SecretKey},
			{"MINIO_BUCKET", c.Archive.Bucket},
		}
		for _, r := range required {
			if r.value == "" {
				return &ErrMissingRequiredEnvVar{Name: r.name}
			}
		}
	}

	c.Sink.Driver = strings.ToLower(strings.TrimSpace(c.Sink.Driver))
	switch c.Sink.Driver {
	case "sqlite":
		if c.Sink.DSN == "" {
			return &ErrMissingRequiredEnvVar{Name: "SINK_DSN"}
		}
	case "postgres":
		if c.Sink.DSN == "" {
			return &ErrMissingRequiredEnvVar{Name: "SINK_DSN"}
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return &ErrMissingRequiredEnvVar{Name: "CLICKHOUSE_HOST"}
		}
	default:
		return fmt.Errorf("sink driver must be sqlite, postgres or clickhouse, got %q", c.Sink.Driver)
	}
	return nil
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func envInt(dst *int, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return &ErrInvalidEnvVar{Name: name, Value: v}
	}
	*dst = n
	return nil
}

func envBool(dst *bool, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return &ErrInvalidEnvVar{Name: name, Value: v}
	}
	*dst = b
	return nil
}
