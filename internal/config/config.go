package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	TransportDoor = "door"
	TransportS3   = "s3"
)

// Config struct for environment variables.
type Config struct {
	TargetDir   string `envconfig:"TARGET_DIR" default:"."`
	MaxParallel int    `envconfig:"MAX_PARALLEL" default:"0"`
	FileSuffix  string `envconfig:"FILE_SUFFIX" default:".unw_geo.zip"`
	NamePrefix  string `envconfig:"OBJECT_NAME_PREFIX" default:"S1"`

	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`
	MaxPolls     uint64        `envconfig:"MAX_POLLS" default:"120"`

	DoorBaseURL    string        `envconfig:"DOOR_BASE_URL" default:"https://grfn.asf.alaska.edu/door/"`
	EarthdataToken string        `envconfig:"EARTHDATA_TOKEN"`
	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"100s"`

	// DownloadIdleTimeout bounds both the wait for response headers and any
	// gap between bytes of a download stream.
	DownloadIdleTimeout time.Duration `envconfig:"DOWNLOAD_IDLE_TIMEOUT" default:"2m"`

	LeaseValidity      time.Duration `envconfig:"LEASE_VALIDITY" default:"1h"`
	LeaseRefreshMargin time.Duration `envconfig:"LEASE_REFRESH_MARGIN" default:"5m"`

	DownloadTransport string `envconfig:"DOWNLOAD_TRANSPORT" default:"door"`

	S3 struct {
		Endpoint string `split_words:"true" default:"s3.amazonaws.com"`
		Bucket   string `split_words:"true" default:"grfn-content-prod"`
		Region   string `split_words:"true" default:"us-east-1"`
		Prefix   string `split_words:"true"`
		UseHTTP  bool   `envconfig:"USE_HTTP" default:"false"`
	}

	CMR struct {
		URL                 string `envconfig:"URL" default:"https://cmr.earthdata.nasa.gov/search/granules.json"`
		CollectionConceptID string `split_words:"true" default:"C1379535600-ASF"`
		Temporal            string `split_words:"true" default:"2014-01-01T00:00:00Z"`
		Point               string `split_words:"true" default:"-155.287763,19.403492"`
		Polygon             string `split_words:"true"`
		PageSize            int    `split_words:"true" default:"2000"`
	}

	SummaryPath       string        `envconfig:"SUMMARY_PATH" default:"summary.csv"`
	DBPath            string        `envconfig:"DB_PATH"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	StaleTempAge      time.Duration `envconfig:"STALE_TEMP_AGE" default:"1h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig loads an optional .env file, then reads environment variables
// and populates the Config struct.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the combinations envconfig cannot express.
func (c *Config) Validate() error {
	switch c.DownloadTransport {
	case TransportDoor, TransportS3:
	default:
		return fmt.Errorf("invalid download transport: %s", c.DownloadTransport)
	}

	if c.MaxParallel < 0 {
		return fmt.Errorf("max parallel must not be negative: %d", c.MaxParallel)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.PollInterval)
	}

	if c.MaxPolls == 0 {
		return errors.New("max polls must be at least 1")
	}

	if c.DownloadIdleTimeout <= 0 {
		return fmt.Errorf("download idle timeout must be positive: %s", c.DownloadIdleTimeout)
	}

	if c.LeaseRefreshMargin >= c.LeaseValidity {
		return fmt.Errorf("lease refresh margin %s must be shorter than lease validity %s", c.LeaseRefreshMargin, c.LeaseValidity)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
